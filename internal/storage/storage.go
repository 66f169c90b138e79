// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

// Storage is the main interface for database operations. It is the single
// source of truth for pipeline state; components never cache authoritative
// copies across calls.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Alerts() AlertRepository
	Notifications() NotificationRepository
	EmailJobs() EmailJobRepository
	Customers() CustomerRepository
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Direction models.Direction
	ThreatIP  string
	Country   string
	FromDate  time.Time
	ToDate    time.Time
	Limit     int
}

// AlertRepository defines operations for persisted sensor alerts.
type AlertRepository interface {
	Insert(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	// ListUnprocessed returns alerts not yet folded into a notification,
	// newest first.
	ListUnprocessed(ctx context.Context) ([]*models.Alert, error)
	// ListForThreat returns alerts for one (customer, threat IP) pair,
	// most recent first, capped at limit.
	ListForThreat(ctx context.Context, customerID, threatIP string, limit int) ([]*models.Alert, error)
	MarkProcessed(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int64, error)
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	EmailSent  *bool
	CustomerID string
	Limit      int
}

// NotificationRepository defines operations for customer notifications.
type NotificationRepository interface {
	// UpsertOpen atomically folds a delta into the open notification for
	// the delta's (customer, threat IP) pair, creating it when absent.
	// This must be a single conditional write, never read-then-write.
	UpsertOpen(ctx context.Context, delta models.NotificationDelta) (*models.Notification, error)
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, filter NotificationFilter) ([]*models.Notification, error)
	// ListPending returns unemailed notifications ready to become email
	// jobs: alert_count >= minAlerts, owning customer has notifications
	// enabled, and no pending or retrying job already exists for them.
	// Oldest created first, capped at limit.
	ListPending(ctx context.Context, minAlerts, limit int) ([]*models.Notification, error)
	MarkEmailed(ctx context.Context, id string, sentAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
}

// EmailJobRepository defines operations for email delivery records.
type EmailJobRepository interface {
	Insert(ctx context.Context, job *models.EmailJob) error
	GetByID(ctx context.Context, id string) (*models.EmailJob, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.EmailJob, error)
	// MarkPending returns a retrying job to the pending state before a
	// fresh delivery attempt.
	MarkPending(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, scheduledAt time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, errorMessage string) error
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// CustomerRepository defines read operations for notification recipients.
// Customers are owned by an external system; Insert exists only for
// seeding development data.
type CustomerRepository interface {
	Insert(ctx context.Context, customer *models.Customer) error
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	List(ctx context.Context) ([]*models.Customer, error)
	Count(ctx context.Context) (int64, error)
}
