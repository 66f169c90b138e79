// Package ingest validates raw sensor attempt batches and feeds canonical
// alerts into the processing queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/sentrymail/internal/metrics"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
)

// RawAttempt is one sensor-reported connection attempt as delivered on the
// wire. Field names follow the sensor payload, not the storage schema.
type RawAttempt struct {
	Timestamp string         `json:"timestamp"`
	Hostname  string         `json:"hostname"`
	Direction string         `json:"direction"`
	Type      string         `json:"type,omitempty"`
	Threat    string         `json:"threat"`
	Target    string         `json:"target"`
	Country   string         `json:"country,omitempty"`
	Details   AttemptDetails `json:"details"`
}

// AttemptDetails carries the connection-level fields of a raw attempt.
type AttemptDetails struct {
	SourcePort      int    `json:"sourcePort,omitempty"`
	SourceIP        string `json:"sourceIp,omitempty"`
	DestinationPort int    `json:"destinationPort,omitempty"`
	DestinationIP   string `json:"destinationIp,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
}

// AttemptError records why one attempt in a batch was rejected. The
// offending attempt is echoed back so the sender can correlate.
type AttemptError struct {
	Attempt RawAttempt `json:"alert"`
	Error   string     `json:"error"`
}

// BatchSummary reports the outcome of one ingested batch.
// Processed + len(Errors) always equals Total.
type BatchSummary struct {
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	Errors    []AttemptError `json:"errors,omitempty"`
}

// Ingestor turns raw attempt batches into queued alerts.
type Ingestor struct {
	queue    queue.Queue
	assigner CustomerAssigner
	logger   *slog.Logger
}

// NewIngestor creates an ingestor publishing to q, assigning customers
// through assigner.
func NewIngestor(q queue.Queue, assigner CustomerAssigner, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		queue:    q,
		assigner: assigner,
		logger:   logger.With("component", "ingestor"),
	}
}

// IngestBatch validates each attempt, assigns a customer, and pushes the
// resulting alert onto the alert queue. A bad attempt is recorded in the
// summary and never aborts its siblings.
func (in *Ingestor) IngestBatch(ctx context.Context, attempts []RawAttempt) (*BatchSummary, error) {
	summary := &BatchSummary{Total: len(attempts)}

	for _, attempt := range attempts {
		alert, err := in.buildAlert(ctx, attempt)
		if err == nil {
			err = in.publish(ctx, alert)
		}
		if err != nil {
			in.logger.Warn("attempt rejected", "threat", attempt.Threat, "error", err)
			summary.Errors = append(summary.Errors, AttemptError{
				Attempt: attempt,
				Error:   err.Error(),
			})
			continue
		}

		metrics.AlertsIngested.Inc()
		summary.Processed++
		in.logger.Debug("alert queued", "id", alert.ID, "threat", alert.ThreatIP, "target", alert.TargetIP)
	}

	in.logger.Info("batch ingested", "processed", summary.Processed, "total", summary.Total, "rejected", len(summary.Errors))
	return summary, nil
}

// buildAlert validates one raw attempt and maps it onto the canonical
// alert shape.
func (in *Ingestor) buildAlert(ctx context.Context, attempt RawAttempt) (*models.Alert, error) {
	ts, err := time.Parse(time.RFC3339, attempt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", attempt.Timestamp, err)
	}
	if attempt.Hostname == "" {
		return nil, fmt.Errorf("hostname is required")
	}
	direction := models.Direction(attempt.Direction)
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", attempt.Direction)
	}
	if net.ParseIP(attempt.Threat) == nil {
		return nil, fmt.Errorf("invalid threat IP %q", attempt.Threat)
	}
	if net.ParseIP(attempt.Target) == nil {
		return nil, fmt.Errorf("invalid target IP %q", attempt.Target)
	}
	if attempt.Details.Protocol == "" {
		return nil, fmt.Errorf("protocol is required")
	}

	alert := models.NewAlert(uuid.New().String())
	alert.Timestamp = ts.UTC()
	alert.Hostname = attempt.Hostname
	alert.Direction = direction
	alert.ThreatIP = attempt.Threat
	alert.TargetIP = attempt.Target
	alert.Country = attempt.Country
	alert.Protocol = attempt.Details.Protocol
	alert.SourcePort = attempt.Details.SourcePort
	alert.SourceIP = attempt.Details.SourceIP
	alert.DestinationPort = attempt.Details.DestinationPort
	alert.DestinationIP = attempt.Details.DestinationIP

	customerID, err := in.assigner.Assign(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("assign customer: %w", err)
	}
	alert.CustomerID = customerID

	return alert, nil
}

func (in *Ingestor) publish(ctx context.Context, alert *models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := in.queue.Push(ctx, queue.AlertQueue, payload); err != nil {
		return fmt.Errorf("queue alert: %w", err)
	}
	return nil
}
