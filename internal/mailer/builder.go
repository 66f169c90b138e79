package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/sentrymail/internal/metrics"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

// BuilderConfig tunes one email job builder pass.
type BuilderConfig struct {
	// MinAlerts is the alert count a notification needs before it is
	// worth an email.
	MinAlerts int
	// BatchSize caps notifications handled per pass.
	BatchSize int
	// MaxAlertsPerEmail caps the alerts fetched for one email body.
	MaxAlertsPerEmail int
	// MaxAttempts is copied onto each created job.
	MaxAttempts int
	// LockTTL bounds how long a crashed pass can hold the builder lock.
	LockTTL time.Duration
}

// DefaultBuilderConfig mirrors the production defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MinAlerts:         1,
		BatchSize:         10,
		MaxAlertsPerEmail: 50,
		MaxAttempts:       3,
		LockTTL:           5 * time.Minute,
	}
}

// BuildSummary reports the outcome of one builder pass.
type BuildSummary struct {
	Skipped     bool     `json:"skipped"`
	Processed   int      `json:"processed"`
	JobsCreated int      `json:"jobs_created"`
	Errors      []string `json:"errors,omitempty"`
}

// Builder turns pending notifications into queued email jobs. Passes run
// on a schedule and on manual trigger; a distributed lock keeps at most
// one pass active across all instances.
type Builder struct {
	store      storage.Storage
	queue      queue.Queue
	templates  *Templates
	config     BuilderConfig
	instanceID string
	logger     *slog.Logger
}

// NewBuilder creates an email job builder.
func NewBuilder(store storage.Storage, q queue.Queue, templates *Templates, config BuilderConfig, logger *slog.Logger) *Builder {
	return &Builder{
		store:      store,
		queue:      q,
		templates:  templates,
		config:     config,
		instanceID: uuid.New().String(),
		logger:     logger.With("component", "email-builder"),
	}
}

// Run executes one builder pass. When another instance holds the lock the
// pass is skipped entirely. The lock is released on every exit path; the
// release survives a cancelled ctx so a shutdown mid-pass cannot strand it
// until TTL expiry.
func (b *Builder) Run(ctx context.Context) (*BuildSummary, error) {
	acquired, err := b.queue.TrySetLock(ctx, queue.BuilderLockKey, b.instanceID, b.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire builder lock: %w", err)
	}
	if !acquired {
		metrics.BuilderLockSkips.Inc()
		b.logger.Info("builder pass skipped, another instance holds the lock")
		return &BuildSummary{Skipped: true}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := b.queue.ReleaseLock(releaseCtx, queue.BuilderLockKey, b.instanceID); err != nil {
			b.logger.Error("release builder lock failed", "error", err)
		}
	}()

	summary := &BuildSummary{}

	pending, err := b.store.Notifications().ListPending(ctx, b.config.MinAlerts, b.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	b.logger.Info("builder pass started", "pending", len(pending))

	for _, notification := range pending {
		if err := b.buildJob(ctx, notification); err != nil {
			b.logger.Error("notification skipped",
				"notification", notification.ID,
				"error", err,
			)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", notification.ID, err))
			continue
		}
		summary.Processed++
		summary.JobsCreated++
		metrics.EmailJobsCreated.Inc()
	}

	b.logger.Info("builder pass complete",
		"processed", summary.Processed,
		"jobs", summary.JobsCreated,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// buildJob renders and persists one email job and pushes it onto the
// email queue.
func (b *Builder) buildJob(ctx context.Context, notification *models.Notification) error {
	customer, err := b.store.Customers().GetByID(ctx, notification.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}

	alerts, err := b.store.Alerts().ListForThreat(ctx, notification.CustomerID, notification.ThreatIP, b.config.MaxAlertsPerEmail)
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}

	body, err := b.templates.RenderBody(notification, customer, alerts)
	if err != nil {
		return err
	}

	job := models.NewEmailJob(uuid.New().String(), notification.ID, customer.Email, b.config.MaxAttempts)
	job.Subject = b.templates.RenderSubject(notification)
	job.Body = body

	if err := b.store.EmailJobs().Insert(ctx, job); err != nil {
		return fmt.Errorf("insert email job: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	if err := b.queue.Push(ctx, queue.EmailQueue, payload); err != nil {
		return fmt.Errorf("queue email job: %w", err)
	}

	b.logger.Debug("email job created",
		"job", job.ID,
		"recipient", job.RecipientEmail,
		"alerts", notification.AlertCount,
	)
	return nil
}
