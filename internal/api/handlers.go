package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/ingest"
	"github.com/good-yellow-bee/sentrymail/internal/metrics"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	defaultSimulateN = 5
	maxSimulateN     = 100
)

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// handleHealth reports service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]any{
		"status":    "healthy",
		"service":   "sentrymail",
		"timestamp": time.Now().UTC(),
	})
}

// ingestRequest is the body of POST /alerts.
type ingestRequest struct {
	Attempts []ingest.RawAttempt `json:"attempts"`
}

func (s *Server) handleIngestAlerts(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid JSON body"))
		return
	}
	if req.Attempts == nil {
		JSONError(w, NewValidationError("attempts array is required"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	summary, err := s.ingestor.IngestBatch(ctx, req.Attempts)
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, summary)
}

// simulateRequest is the body of POST /alerts/simulate.
type simulateRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleSimulateAlerts(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			JSONError(w, NewBadRequest("invalid JSON body"))
			return
		}
	}
	if req.Count <= 0 {
		req.Count = defaultSimulateN
	}
	if req.Count > maxSimulateN {
		req.Count = maxSimulateN
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	attempts := ingest.SimulateAttempts(req.Count)
	summary, err := s.ingestor.IngestBatch(ctx, attempts)
	if err != nil {
		s.logger.Error("simulation ingest failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]any{
		"simulated": req.Count,
		"summary":   summary,
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.AlertFilter{
		Direction: models.Direction(q.Get("direction")),
		ThreatIP:  q.Get("threat_ip"),
		Country:   q.Get("country"),
		Limit:     parseLimit(q.Get("limit")),
	}
	if filter.Direction != "" && !filter.Direction.Valid() {
		JSONError(w, NewValidationError("direction must be INBOUND or OUTBOUND"))
		return
	}
	if from := q.Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			JSONError(w, NewValidationError("from must be RFC 3339"))
			return
		}
		filter.FromDate = ts
	}
	if to := q.Get("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			JSONError(w, NewValidationError("to must be RFC 3339"))
			return
		}
		filter.ToDate = ts
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	alerts, err := s.storage.Alerts().List(ctx, filter)
	if err != nil {
		s.logger.Error("list alerts failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	summary, err := s.aggregator.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconciliation failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, summary)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.NotificationFilter{
		CustomerID: q.Get("customer_id"),
		Limit:      parseLimit(q.Get("limit")),
	}
	if v := q.Get("email_sent"); v != "" {
		sent, err := strconv.ParseBool(v)
		if err != nil {
			JSONError(w, NewValidationError("email_sent must be a boolean"))
			return
		}
		filter.EmailSent = &sent
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	notifications, err := s.storage.Notifications().List(ctx, filter)
	if err != nil {
		s.logger.Error("list notifications failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

func (s *Server) handleProcessEmailJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	summary, err := s.builder.Run(ctx)
	if err != nil {
		s.logger.Error("builder pass failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, summary)
}

func (s *Server) handleListEmailJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := models.JobStatus(q.Get("status"))
	switch status {
	case "", models.JobStatusPending, models.JobStatusSent, models.JobStatusRetry, models.JobStatusFailed:
	default:
		JSONError(w, NewValidationError("unknown status"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	jobs, err := s.storage.EmailJobs().List(ctx, status, parseLimit(q.Get("limit")))
	if err != nil {
		s.logger.Error("list email jobs failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// testEmailRequest is the body of POST /test-email.
type testEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid JSON body"))
		return
	}
	if req.To == "" {
		JSONError(w, NewValidationError("to address is required"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.worker.SendTest(ctx, req.To, req.Subject, req.Body); err != nil {
		s.logger.Error("test email failed", "to", req.To, "error", err)
		JSONError(w, &Error{
			Code:    ErrCodeInternalError,
			Message: "test email delivery failed",
			Status:  http.StatusBadGateway,
		})
		return
	}
	OK(w, map[string]any{
		"message": "test email sent",
		"to":      req.To,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	alertDepth, err := s.queue.Len(ctx, queue.AlertQueue)
	if err != nil {
		s.logger.Error("alert queue depth failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	emailDepth, err := s.queue.Len(ctx, queue.EmailQueue)
	if err != nil {
		s.logger.Error("email queue depth failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	metrics.QueueDepth.WithLabelValues(queue.AlertQueue).Set(float64(alertDepth))
	metrics.QueueDepth.WithLabelValues(queue.EmailQueue).Set(float64(emailDepth))

	alertCount, err := s.storage.Alerts().Count(ctx)
	if err != nil {
		s.logger.Error("alert count failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	pendingNotifications, err := s.storage.Notifications().CountPending(ctx)
	if err != nil {
		s.logger.Error("pending notification count failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	jobCounts, err := s.storage.EmailJobs().CountByStatus(ctx)
	if err != nil {
		s.logger.Error("email job count failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}
	customers, err := s.storage.Customers().Count(ctx)
	if err != nil {
		s.logger.Error("customer count failed", "error", err)
		JSONError(w, ErrInternalServer)
		return
	}

	OK(w, map[string]any{
		"queues": map[string]int64{
			queue.AlertQueue: alertDepth,
			queue.EmailQueue: emailDepth,
		},
		"alerts":                alertCount,
		"pending_notifications": pendingNotifications,
		"email_jobs":            jobCounts,
		"customers":             customers,
		"timestamp":             time.Now().UTC(),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
