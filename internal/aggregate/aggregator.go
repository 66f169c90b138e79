// Package aggregate folds persisted alerts into per-threat notifications.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/metrics"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

// DefaultStalenessHorizon bounds how old an unprocessed alert may be and
// still be picked up by a reconciliation pass.
const DefaultStalenessHorizon = 24 * time.Hour

// ReconcileSummary reports the outcome of one reconciliation pass.
type ReconcileSummary struct {
	Grouped   int      `json:"grouped"`
	Discarded int      `json:"discarded"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Groups    int      `json:"groups"`
	Errors    []string `json:"errors,omitempty"`
}

// Aggregator maintains the single open notification per (customer,
// threat IP) pair.
type Aggregator struct {
	store   storage.Storage
	horizon time.Duration
	logger  *slog.Logger
}

// NewAggregator creates an aggregator with the default staleness horizon.
func NewAggregator(store storage.Storage, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		horizon: DefaultStalenessHorizon,
		logger:  logger.With("component", "aggregator"),
	}
}

// ProcessAlert is the per-alert hook: it folds one freshly persisted alert
// into its open notification and marks the alert processed. Alerts with no
// assigned customer are marked processed without aggregation so later
// reconciliation passes do not rescan them.
func (a *Aggregator) ProcessAlert(ctx context.Context, alert *models.Alert) error {
	if alert.CustomerID == "" {
		a.logger.Debug("alert has no customer, skipping aggregation", "id", alert.ID)
		return a.store.Alerts().MarkProcessed(ctx, []string{alert.ID})
	}

	delta := models.NotificationDelta{
		CustomerID: alert.CustomerID,
		ThreatIP:   alert.ThreatIP,
		AlertCount: 1,
		FirstSeen:  alert.Timestamp,
		LastSeen:   alert.Timestamp,
	}
	if alert.Country != "" {
		delta.Countries = []string{alert.Country}
	}

	notification, err := a.store.Notifications().UpsertOpen(ctx, delta)
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}

	if err := a.store.Alerts().MarkProcessed(ctx, []string{alert.ID}); err != nil {
		return fmt.Errorf("mark alert processed: %w", err)
	}

	if notification.AlertCount == 1 {
		metrics.NotificationsCreated.Inc()
	} else {
		metrics.NotificationsUpdated.Inc()
	}
	a.logger.Debug("alert aggregated",
		"alert", alert.ID,
		"notification", notification.ID,
		"threat", alert.ThreatIP,
		"count", notification.AlertCount,
	)
	return nil
}

// alertGroup collects unprocessed alerts sharing a (customer, threat IP)
// pair during reconciliation.
type alertGroup struct {
	customerID string
	threatIP   string
	alerts     []*models.Alert
}

// Reconcile sweeps alerts the per-alert hook missed. Alerts older than the
// staleness horizon are skipped; the rest are grouped by (customer, threat
// IP), upserted in one delta per group, and marked processed. A failing
// group never aborts its siblings.
func (a *Aggregator) Reconcile(ctx context.Context) (*ReconcileSummary, error) {
	alerts, err := a.store.Alerts().ListUnprocessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed alerts: %w", err)
	}

	summary := &ReconcileSummary{}
	cutoff := time.Now().Add(-a.horizon)

	groups := make(map[string]*alertGroup)
	var order []string
	for _, alert := range alerts {
		if alert.Timestamp.Before(cutoff) {
			summary.Discarded++
			metrics.AlertsDiscarded.Inc()
			continue
		}
		if alert.CustomerID == "" {
			// Unassigned alerts cannot notify anyone. Flag them so the
			// next pass does not rescan.
			if err := a.store.Alerts().MarkProcessed(ctx, []string{alert.ID}); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("mark unassigned alert %s: %v", alert.ID, err))
			}
			continue
		}

		key := alert.CustomerID + "|" + alert.ThreatIP
		group, ok := groups[key]
		if !ok {
			group = &alertGroup{customerID: alert.CustomerID, threatIP: alert.ThreatIP}
			groups[key] = group
			order = append(order, key)
		}
		group.alerts = append(group.alerts, alert)
	}

	for _, key := range order {
		group := groups[key]
		created, err := a.reconcileGroup(ctx, group)
		if err != nil {
			a.logger.Error("group aggregation failed",
				"customer", group.customerID,
				"threat", group.threatIP,
				"error", err,
			)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s/%s: %v", group.customerID, group.threatIP, err))
			continue
		}

		summary.Groups++
		summary.Grouped += len(group.alerts)
		if created {
			summary.Created++
			metrics.NotificationsCreated.Inc()
		} else {
			summary.Updated++
			metrics.NotificationsUpdated.Inc()
		}
	}

	a.logger.Info("reconciliation pass complete",
		"grouped", summary.Grouped,
		"discarded", summary.Discarded,
		"created", summary.Created,
		"updated", summary.Updated,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// reconcileGroup upserts one group's delta and marks its alerts processed.
// Reports whether the upsert opened a new notification.
func (a *Aggregator) reconcileGroup(ctx context.Context, group *alertGroup) (created bool, err error) {
	delta := models.NotificationDelta{
		CustomerID: group.customerID,
		ThreatIP:   group.threatIP,
		AlertCount: len(group.alerts),
	}

	countrySet := make(map[string]struct{})
	for _, alert := range group.alerts {
		if delta.FirstSeen.IsZero() || alert.Timestamp.Before(delta.FirstSeen) {
			delta.FirstSeen = alert.Timestamp
		}
		if alert.Timestamp.After(delta.LastSeen) {
			delta.LastSeen = alert.Timestamp
		}
		if alert.Country != "" {
			if _, ok := countrySet[alert.Country]; !ok {
				countrySet[alert.Country] = struct{}{}
				delta.Countries = append(delta.Countries, alert.Country)
			}
		}
	}

	notification, err := a.store.Notifications().UpsertOpen(ctx, delta)
	if err != nil {
		return false, fmt.Errorf("upsert: %w", err)
	}

	ids := make([]string, len(group.alerts))
	for i, alert := range group.alerts {
		ids[i] = alert.ID
	}
	if err := a.store.Alerts().MarkProcessed(ctx, ids); err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}

	return notification.CreatedAt.Equal(notification.UpdatedAt), nil
}
