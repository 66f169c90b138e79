package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/metrics"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

// errorBackoff is how long the consumer pauses after a failed pop or
// persist before continuing the loop.
const errorBackoff = 5 * time.Second

// Consumer drains the alert queue, persists each alert, and hands it to
// the aggregator hook.
type Consumer struct {
	store      storage.Storage
	queue      queue.Queue
	aggregator *Aggregator
	logger     *slog.Logger
	interval   time.Duration
}

// NewConsumer creates an alert queue consumer.
func NewConsumer(store storage.Storage, q queue.Queue, aggregator *Aggregator, logger *slog.Logger) *Consumer {
	return &Consumer{
		store:      store,
		queue:      q,
		aggregator: aggregator,
		logger:     logger.With("component", "alert-consumer"),
		interval:   errorBackoff,
	}
}

// Run processes the alert queue until ctx is cancelled or the queue is
// closed. Pop errors back off for a fixed interval and continue; a
// dequeued alert that fails to persist is held and retried after the
// backoff rather than dropped. Transient errors never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("alert consumer started")

	for {
		payload, err := c.queue.BlockingPop(ctx, queue.AlertQueue)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				c.logger.Info("alert consumer stopping")
				return nil
			}
			c.logger.Error("queue pop failed", "error", err)
			if !c.backoff(ctx) {
				return nil
			}
			continue
		}

		if !c.process(ctx, payload) {
			c.logger.Info("alert consumer stopping")
			return nil
		}
	}
}

// process handles one dequeued payload, retrying after the backoff
// interval on transient store errors. Once popped, the in-memory copy is
// the only copy of the alert, so it must not be discarded on failure.
// Reports false when ctx was cancelled before the payload was handled.
func (c *Consumer) process(ctx context.Context, payload []byte) bool {
	for {
		err := c.handle(ctx, payload)
		if err == nil {
			return true
		}
		c.logger.Error("alert processing failed, retrying", "error", err)
		if !c.backoff(ctx) {
			return false
		}
	}
}

// handle persists one dequeued alert and runs the aggregation hook. A
// malformed payload is dropped; there is no way to repair it by retrying.
func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	var alert models.Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		c.logger.Warn("dropping malformed alert payload", "error", err)
		return nil
	}

	if err := c.store.Alerts().Insert(ctx, &alert); err != nil {
		return err
	}
	metrics.AlertsPersisted.Inc()

	if err := c.aggregator.ProcessAlert(ctx, &alert); err != nil {
		// The alert is persisted and still unprocessed; the next
		// reconciliation pass will pick it up.
		c.logger.Warn("aggregation hook failed, deferring to reconciliation",
			"alert", alert.ID, "error", err)
	}
	return nil
}

// backoff sleeps for the error interval. Reports false when ctx was
// cancelled during the wait.
func (c *Consumer) backoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.interval):
		return true
	}
}
