package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, timestamp, hostname, direction, threat_ip, target_ip, country,
	protocol, source_port, source_ip, destination_port, destination_ip,
	customer_id, notification_processed, created_at`

func (r *sqliteAlertRepo) Insert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.Timestamp, alert.Hostname, string(alert.Direction),
		alert.ThreatIP, alert.TargetIP, nullString(alert.Country),
		nullString(alert.Protocol), nullInt(alert.SourcePort), nullString(alert.SourceIP),
		nullInt(alert.DestinationPort), nullString(alert.DestinationIP),
		nullString(alert.CustomerID), boolToInt(alert.NotificationProcessed), alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

func (r *sqliteAlertRepo) List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`)
	var args []interface{}

	if filter.Direction != "" {
		sb.WriteString(" AND direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.ThreatIP != "" {
		sb.WriteString(" AND threat_ip = ?")
		args = append(args, filter.ThreatIP)
	}
	if filter.Country != "" {
		sb.WriteString(" AND country = ?")
		args = append(args, filter.Country)
	}
	if !filter.FromDate.IsZero() {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, filter.FromDate)
	}
	if !filter.ToDate.IsZero() {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, filter.ToDate)
	}

	sb.WriteString(" ORDER BY timestamp DESC")

	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	return r.queryAlerts(ctx, sb.String(), args...)
}

func (r *sqliteAlertRepo) ListUnprocessed(ctx context.Context) ([]*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM alerts
		WHERE notification_processed = 0
		ORDER BY timestamp DESC
	`
	return r.queryAlerts(ctx, query)
}

func (r *sqliteAlertRepo) ListForThreat(ctx context.Context, customerID, threatIP string, limit int) ([]*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM alerts
		WHERE customer_id = ? AND threat_ip = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	return r.queryAlerts(ctx, query, customerID, threatIP, limit)
}

func (r *sqliteAlertRepo) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("UPDATE alerts SET notification_processed = 1 WHERE id IN (%s)", placeholders)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark alerts processed: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

func (r *sqliteAlertRepo) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var direction string
	var country, protocol, sourceIP, destinationIP, customerID sql.NullString
	var sourcePort, destinationPort sql.NullInt64
	var processed int

	err := row.Scan(
		&alert.ID, &alert.Timestamp, &alert.Hostname, &direction,
		&alert.ThreatIP, &alert.TargetIP, &country,
		&protocol, &sourcePort, &sourceIP, &destinationPort, &destinationIP,
		&customerID, &processed, &alert.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.Direction = models.Direction(direction)
	alert.Country = country.String
	alert.Protocol = protocol.String
	alert.SourcePort = int(sourcePort.Int64)
	alert.SourceIP = sourceIP.String
	alert.DestinationPort = int(destinationPort.Int64)
	alert.DestinationIP = destinationIP.String
	alert.CustomerID = customerID.String
	alert.NotificationProcessed = processed != 0

	return alert, nil
}

// Helper functions

type scanner interface {
	Scan(dest ...interface{}) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
