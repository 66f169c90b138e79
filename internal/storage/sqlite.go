package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	alerts        *sqliteAlertRepo
	notifications *sqliteNotificationRepo
	emailJobs     *sqliteEmailJobRepo
	customers     *sqliteCustomerRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.alerts = &sqliteAlertRepo{db: db}
	s.notifications = &sqliteNotificationRepo{db: db}
	s.emailJobs = &sqliteEmailJobRepo{db: db}
	s.customers = &sqliteCustomerRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Notifications returns the notification repository.
func (s *SQLiteStorage) Notifications() NotificationRepository {
	return s.notifications
}

// EmailJobs returns the email job repository.
func (s *SQLiteStorage) EmailJobs() EmailJobRepository {
	return s.emailJobs
}

// Customers returns the customer repository.
func (s *SQLiteStorage) Customers() CustomerRepository {
	return s.customers
}
