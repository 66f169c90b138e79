package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/sentrymail/internal/metrics"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

// WorkerConfig tunes the email delivery worker.
type WorkerConfig struct {
	// RetryDelay is how long a failed delivery waits before its retry
	// becomes visible on the queue again.
	RetryDelay time.Duration
	// SendsPerSecond throttles outbound deliveries across the worker.
	SendsPerSecond float64
	// SendBurst is the throttle's burst allowance.
	SendBurst int
}

// DefaultWorkerConfig mirrors the production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		RetryDelay:     60 * time.Second,
		SendsPerSecond: 1,
		SendBurst:      5,
	}
}

// Worker drains the email queue and delivers jobs through a transport,
// driving each job's state machine to a terminal state.
type Worker struct {
	store     storage.Storage
	queue     queue.Queue
	transport Transport
	limiter   *rate.Limiter
	config    WorkerConfig
	logger    *slog.Logger
}

// NewWorker creates an email delivery worker.
func NewWorker(store storage.Storage, q queue.Queue, transport Transport, config WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		store:     store,
		queue:     q,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(config.SendsPerSecond), config.SendBurst),
		config:    config,
		logger:    logger.With("component", "email-worker", "transport", transport.Name()),
	}
}

// Run processes the email queue until ctx is cancelled or the queue is
// closed. Delivery errors are absorbed into the job state machine; they
// never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("email worker started")

	for {
		payload, err := w.queue.BlockingPop(ctx, queue.EmailQueue)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				w.logger.Info("email worker stopping")
				return nil
			}
			w.logger.Error("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := w.handle(ctx, payload); err != nil {
			w.logger.Error("email job handling failed", "error", err)
		}
	}
}

// handle delivers one dequeued job. The queue payload only locates the
// job; the database record is authoritative for status and attempts.
func (w *Worker) handle(ctx context.Context, payload []byte) error {
	var queued models.EmailJob
	if err := json.Unmarshal(payload, &queued); err != nil {
		w.logger.Warn("dropping malformed email job payload", "error", err)
		return nil
	}

	job, err := w.store.EmailJobs().GetByID(ctx, queued.ID)
	if err != nil {
		return fmt.Errorf("load email job %s: %w", queued.ID, err)
	}
	if job == nil {
		w.logger.Warn("dropping queued job with no database record", "job", queued.ID)
		return nil
	}
	if job.Status.Terminal() {
		w.logger.Debug("skipping terminal job", "job", job.ID, "status", job.Status)
		return nil
	}

	if job.Status == models.JobStatusRetry {
		if err := w.store.EmailJobs().MarkPending(ctx, job.ID); err != nil {
			return fmt.Errorf("mark job pending: %w", err)
		}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	w.logger.Info("delivering email", "job", job.ID, "recipient", job.RecipientEmail, "attempt", job.Attempts+1)

	if err := w.transport.Send(ctx, job.RecipientEmail, job.Subject, job.Body); err != nil {
		return w.handleFailure(ctx, job, err)
	}
	return w.handleSuccess(ctx, job)
}

func (w *Worker) handleSuccess(ctx context.Context, job *models.EmailJob) error {
	sentAt := time.Now().UTC()

	if err := w.store.EmailJobs().MarkSent(ctx, job.ID, sentAt); err != nil {
		return fmt.Errorf("mark job sent: %w", err)
	}
	if err := w.store.Notifications().MarkEmailed(ctx, job.NotificationID, sentAt); err != nil {
		// The job is already terminal; the notification stays open and
		// will be picked up by the next builder pass.
		w.logger.Error("mark notification emailed failed",
			"notification", job.NotificationID, "error", err)
	}

	metrics.EmailsSent.Inc()
	w.logger.Info("email delivered", "job", job.ID, "recipient", job.RecipientEmail)
	return nil
}

// handleFailure advances the job toward retry or failed and, on retry,
// requeues it with delayed visibility at its new scheduled time.
func (w *Worker) handleFailure(ctx context.Context, job *models.EmailJob, sendErr error) error {
	attempts := job.Attempts + 1

	if attempts >= job.MaxAttempts {
		if err := w.store.EmailJobs().MarkFailed(ctx, job.ID, attempts, sendErr.Error()); err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		metrics.EmailsFailed.Inc()
		w.logger.Error("email failed permanently",
			"job", job.ID,
			"recipient", job.RecipientEmail,
			"attempts", attempts,
			"error", sendErr,
		)
		return nil
	}

	scheduledAt := time.Now().Add(w.config.RetryDelay).UTC()
	if err := w.store.EmailJobs().MarkRetry(ctx, job.ID, attempts, scheduledAt); err != nil {
		return fmt.Errorf("mark job retry: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	if err := w.queue.PushDelayed(ctx, queue.EmailQueue, payload, scheduledAt); err != nil {
		return fmt.Errorf("requeue email job: %w", err)
	}

	metrics.EmailsRetried.Inc()
	w.logger.Warn("email delivery failed, retry scheduled",
		"job", job.ID,
		"attempt", attempts,
		"max_attempts", job.MaxAttempts,
		"retry_at", scheduledAt,
		"error", sendErr,
	)
	return nil
}

// SendTest delivers a one-off message through the transport, bypassing
// the job pipeline. Used by the test-email endpoint.
func (w *Worker) SendTest(ctx context.Context, to, subject, body string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	if subject == "" {
		subject = "SentryMail Test Email"
	}
	if body == "" {
		body = "This is a test email from SentryMail.\n\nIf you received this, email delivery is working."
	}
	return w.transport.Send(ctx, to, subject, body)
}
