package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Customers table (read-mostly; owned externally)
			CREATE TABLE IF NOT EXISTS customers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT UNIQUE NOT NULL,
				notification_enabled INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL
			);

			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				timestamp DATETIME NOT NULL,
				hostname TEXT NOT NULL,
				direction TEXT NOT NULL,
				threat_ip TEXT NOT NULL,
				target_ip TEXT NOT NULL,
				country TEXT,
				protocol TEXT,
				source_port INTEGER,
				source_ip TEXT,
				destination_port INTEGER,
				destination_ip TEXT,
				customer_id TEXT,
				notification_processed INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE SET NULL
			);

			-- Notifications table
			CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				customer_id TEXT NOT NULL,
				threat_ip TEXT NOT NULL,
				alert_count INTEGER NOT NULL,
				first_seen DATETIME NOT NULL,
				last_seen DATETIME NOT NULL,
				email_sent INTEGER NOT NULL DEFAULT 0,
				email_sent_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
			);

			-- Countries observed per notification. Kept in a child table so
			-- the set union stays an idempotent INSERT OR IGNORE and the
			-- notification upsert remains a single atomic statement.
			CREATE TABLE IF NOT EXISTS notification_countries (
				notification_id TEXT NOT NULL,
				country TEXT NOT NULL,
				PRIMARY KEY (notification_id, country),
				FOREIGN KEY (notification_id) REFERENCES notifications(id) ON DELETE CASCADE
			);

			-- Email jobs table
			CREATE TABLE IF NOT EXISTS email_jobs (
				id TEXT PRIMARY KEY,
				notification_id TEXT NOT NULL,
				recipient_email TEXT NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				scheduled_at DATETIME NOT NULL,
				sent_at DATETIME,
				error_message TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (notification_id) REFERENCES notifications(id) ON DELETE CASCADE
			);

			-- At most one open notification per (customer, threat IP) pair.
			-- The partial unique index is the conflict target for the
			-- atomic upsert.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_open
				ON notifications(customer_id, threat_ip) WHERE email_sent = 0;

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
			CREATE INDEX IF NOT EXISTS idx_alerts_threat_ip ON alerts(threat_ip);
			CREATE INDEX IF NOT EXISTS idx_alerts_customer ON alerts(customer_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_unprocessed ON alerts(notification_processed);
			CREATE INDEX IF NOT EXISTS idx_notifications_email_sent ON notifications(email_sent);
			CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
			CREATE INDEX IF NOT EXISTS idx_email_jobs_status ON email_jobs(status);
			CREATE INDEX IF NOT EXISTS idx_email_jobs_notification ON email_jobs(notification_id);
			CREATE INDEX IF NOT EXISTS idx_email_jobs_scheduled ON email_jobs(scheduled_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(m.Up); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
