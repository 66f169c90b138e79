package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

type sqliteNotificationRepo struct {
	db *sql.DB
}

const notificationColumns = `id, customer_id, threat_ip, alert_count, first_seen, last_seen,
	email_sent, email_sent_at, created_at, updated_at`

// UpsertOpen folds a delta into the open notification for the delta's
// (customer, threat IP) pair. The insert-or-update is a single statement
// targeting the partial unique index on open notifications, so two racing
// writers can never create a duplicate open row. Countries are merged
// through idempotent inserts into the child table.
func (r *sqliteNotificationRepo) UpsertOpen(ctx context.Context, delta models.NotificationDelta) (*models.Notification, error) {
	if delta.CustomerID == "" {
		return nil, fmt.Errorf("upsert notification: customer_id is required")
	}
	if delta.AlertCount < 1 {
		return nil, fmt.Errorf("upsert notification: alert_count must be >= 1")
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO notifications (id, customer_id, threat_ip, alert_count,
			first_seen, last_seen, email_sent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (customer_id, threat_ip) WHERE email_sent = 0 DO UPDATE SET
			alert_count = alert_count + excluded.alert_count,
			first_seen = MIN(first_seen, excluded.first_seen),
			last_seen = MAX(last_seen, excluded.last_seen),
			updated_at = excluded.updated_at
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		uuid.New().String(), delta.CustomerID, delta.ThreatIP, delta.AlertCount,
		delta.FirstSeen.UTC(), delta.LastSeen.UTC(), now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("upsert notification: %w", err)
	}

	for _, country := range delta.Countries {
		if country == "" {
			continue
		}
		_, err := r.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO notification_countries (notification_id, country) VALUES (?, ?)",
			id, country,
		)
		if err != nil {
			return nil, fmt.Errorf("merge notification country: %w", err)
		}
	}

	return r.GetByID(ctx, id)
}

func (r *sqliteNotificationRepo) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`
	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if err := r.loadCountries(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *sqliteNotificationRepo) List(ctx context.Context, filter NotificationFilter) ([]*models.Notification, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + notificationColumns + ` FROM notifications WHERE 1=1`)
	var args []interface{}

	if filter.EmailSent != nil {
		sb.WriteString(" AND email_sent = ?")
		args = append(args, boolToInt(*filter.EmailSent))
	}
	if filter.CustomerID != "" {
		sb.WriteString(" AND customer_id = ?")
		args = append(args, filter.CustomerID)
	}

	sb.WriteString(" ORDER BY created_at DESC")

	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	return r.queryNotifications(ctx, sb.String(), args...)
}

func (r *sqliteNotificationRepo) ListPending(ctx context.Context, minAlerts, limit int) ([]*models.Notification, error) {
	// A notification with a live (pending or retrying) job is already on
	// its way out; skipping it keeps repeated builder runs idempotent.
	query := `
		SELECT n.id, n.customer_id, n.threat_ip, n.alert_count, n.first_seen, n.last_seen,
			n.email_sent, n.email_sent_at, n.created_at, n.updated_at
		FROM notifications n
		JOIN customers c ON n.customer_id = c.id
		WHERE n.email_sent = 0
		  AND n.alert_count >= ?
		  AND c.notification_enabled = 1
		  AND NOT EXISTS (
			SELECT 1 FROM email_jobs ej
			WHERE ej.notification_id = n.id AND ej.status IN ('pending', 'retry')
		  )
		ORDER BY n.created_at ASC
		LIMIT ?
	`
	return r.queryNotifications(ctx, query, minAlerts, limit)
}

func (r *sqliteNotificationRepo) MarkEmailed(ctx context.Context, id string, sentAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET email_sent = 1, email_sent_at = ?, updated_at = ? WHERE id = ?",
		sentAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification emailed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification not found: %s", id)
	}
	return nil
}

func (r *sqliteNotificationRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE email_sent = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending notifications: %w", err)
	}
	return count, nil
}

func (r *sqliteNotificationRepo) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, n := range notifications {
		if err := r.loadCountries(ctx, n); err != nil {
			return nil, err
		}
	}
	return notifications, nil
}

func (r *sqliteNotificationRepo) loadCountries(ctx context.Context, n *models.Notification) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT country FROM notification_countries WHERE notification_id = ? ORDER BY country",
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("load notification countries: %w", err)
	}
	defer rows.Close()

	n.Countries = nil
	for rows.Next() {
		var country string
		if err := rows.Scan(&country); err != nil {
			return fmt.Errorf("scan country: %w", err)
		}
		n.Countries = append(n.Countries, country)
	}
	return rows.Err()
}

func scanNotification(row scanner) (*models.Notification, error) {
	n := &models.Notification{}
	var emailSent int
	var emailSentAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.CustomerID, &n.ThreatIP, &n.AlertCount, &n.FirstSeen, &n.LastSeen,
		&emailSent, &emailSentAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}

	n.EmailSent = emailSent != 0
	if emailSentAt.Valid {
		t := emailSentAt.Time
		n.EmailSentAt = &t
	}
	return n, nil
}
