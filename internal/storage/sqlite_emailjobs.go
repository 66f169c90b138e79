package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

type sqliteEmailJobRepo struct {
	db *sql.DB
}

const emailJobColumns = `id, notification_id, recipient_email, subject, body, status,
	attempts, max_attempts, scheduled_at, sent_at, error_message, created_at`

func (r *sqliteEmailJobRepo) Insert(ctx context.Context, job *models.EmailJob) error {
	query := `
		INSERT INTO email_jobs (` + emailJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.NotificationID, job.RecipientEmail, job.Subject, job.Body,
		string(job.Status), job.Attempts, job.MaxAttempts, job.ScheduledAt.UTC(),
		nullTime(job.SentAt), nullString(job.ErrorMessage), job.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert email job: %w", err)
	}
	return nil
}

func (r *sqliteEmailJobRepo) GetByID(ctx context.Context, id string) (*models.EmailJob, error) {
	query := `SELECT ` + emailJobColumns + ` FROM email_jobs WHERE id = ?`
	job, err := scanEmailJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email job: %w", err)
	}
	return job, nil
}

func (r *sqliteEmailJobRepo) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.EmailJob, error) {
	query := `SELECT ` + emailJobColumns + ` FROM email_jobs`
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query email jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.EmailJob
	for rows.Next() {
		job, err := scanEmailJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkPending moves a retrying job back to pending for a fresh attempt.
// Terminal jobs are left untouched.
func (r *sqliteEmailJobRepo) MarkPending(ctx context.Context, id string) error {
	return r.transition(ctx, id,
		"UPDATE email_jobs SET status = 'pending' WHERE id = ? AND status IN ('pending', 'retry')",
		id,
	)
}

func (r *sqliteEmailJobRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return r.transition(ctx, id,
		"UPDATE email_jobs SET status = 'sent', sent_at = ? WHERE id = ? AND status NOT IN ('sent', 'failed')",
		sentAt.UTC(), id,
	)
}

func (r *sqliteEmailJobRepo) MarkRetry(ctx context.Context, id string, attempts int, scheduledAt time.Time) error {
	return r.transition(ctx, id,
		"UPDATE email_jobs SET status = 'retry', attempts = ?, scheduled_at = ? WHERE id = ? AND status NOT IN ('sent', 'failed')",
		attempts, scheduledAt.UTC(), id,
	)
}

func (r *sqliteEmailJobRepo) MarkFailed(ctx context.Context, id string, attempts int, errorMessage string) error {
	return r.transition(ctx, id,
		"UPDATE email_jobs SET status = 'failed', attempts = ?, error_message = ? WHERE id = ? AND status NOT IN ('sent', 'failed')",
		attempts, errorMessage, id,
	)
}

// transition applies a guarded state change. The WHERE clauses exclude
// terminal states so sent and failed jobs are never mutated again.
func (r *sqliteEmailJobRepo) transition(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update email job: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("email job not found or terminal: %s", id)
	}
	return nil
}

func (r *sqliteEmailJobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM email_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count email jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan email job count: %w", err)
		}
		counts[models.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanEmailJob(row scanner) (*models.EmailJob, error) {
	job := &models.EmailJob{}
	var status string
	var sentAt sql.NullTime
	var errorMessage sql.NullString

	err := row.Scan(
		&job.ID, &job.NotificationID, &job.RecipientEmail, &job.Subject, &job.Body,
		&status, &job.Attempts, &job.MaxAttempts, &job.ScheduledAt,
		&sentAt, &errorMessage, &job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan email job: %w", err)
	}

	job.Status = models.JobStatus(status)
	if sentAt.Valid {
		t := sentAt.Time
		job.SentAt = &t
	}
	job.ErrorMessage = errorMessage.String

	return job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
