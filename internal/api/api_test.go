package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/sentrymail/internal/aggregate"
	"github.com/good-yellow-bee/sentrymail/internal/ingest"
	"github.com/good-yellow-bee/sentrymail/internal/mailer"
	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

type testServer struct {
	server  *Server
	store   storage.Storage
	queue   *queue.MemoryQueue
	handler http.Handler
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	templates, err := mailer.LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	ingestor := ingest.NewIngestor(q, ingest.NewRoundRobinAssigner(store.Customers()), logger)
	aggregator := aggregate.NewAggregator(store, logger)
	builder := mailer.NewBuilder(store, q, templates, mailer.DefaultBuilderConfig(), logger)

	workerConfig := mailer.DefaultWorkerConfig()
	workerConfig.SendsPerSecond = 1000
	worker := mailer.NewWorker(store, q, mailer.NewMockTransport(logger), workerConfig, logger)

	server := New(&Config{}, store, q, ingestor, aggregator, builder, worker, logger)

	return &testServer{
		server:  server,
		store:   store,
		queue:   q,
		handler: server.setupRouter(),
	}
}

func (ts *testServer) seedCustomer(t *testing.T) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		ID:                  uuid.New().String(),
		Name:                "Acme Corp",
		Email:               uuid.New().String() + "@example.com",
		NotificationEnabled: true,
		CreatedAt:           time.Now().UTC(),
	}
	if err := ts.store.Customers().Insert(context.Background(), customer); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var resp struct {
		Data  json.RawMessage `json:"data"`
		Error *Error          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("unexpected API error: %s", resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var data map[string]any
	decodeData(t, rec, &data)
	if data["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", data["status"])
	}
	if data["service"] != "sentrymail" {
		t.Errorf("service = %v", data["service"])
	}
}

func TestIngestAlertsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedCustomer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"attempts": ingest.SimulateAttempts(3),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	var summary ingest.BatchSummary
	decodeData(t, rec, &summary)
	if summary.Processed != 3 {
		t.Errorf("processed = %d, want 3", summary.Processed)
	}

	depth, _ := ts.queue.Len(context.Background(), queue.AlertQueue)
	if depth != 3 {
		t.Errorf("alert queue depth = %d, want 3", depth)
	}
}

func TestIngestAlertsRequiresAttempts(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/alerts", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/v1/alerts", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status for empty body = %d, want 400", rec.Code)
	}
}

func TestSimulateEndpointDefaultsCount(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedCustomer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/alerts/simulate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	var data struct {
		Simulated int                 `json:"simulated"`
		Summary   ingest.BatchSummary `json:"summary"`
	}
	decodeData(t, rec, &data)
	if data.Simulated != 5 {
		t.Errorf("simulated = %d, want default 5", data.Simulated)
	}
	if data.Summary.Processed != 5 {
		t.Errorf("processed = %d, want 5", data.Summary.Processed)
	}
}

func TestListAlertsValidatesDirection(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/alerts?direction=SIDEWAYS", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCheckAlertsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	customer := ts.seedCustomer(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		alert := models.NewAlert(uuid.New().String())
		alert.Timestamp = time.Now().UTC()
		alert.Hostname = "sensor-1.lan"
		alert.Direction = models.DirectionOutbound
		alert.ThreatIP = "203.0.113.45"
		alert.TargetIP = "172.30.0.250"
		alert.Country = "NL"
		alert.CustomerID = customer.ID
		if err := ts.store.Alerts().Insert(ctx, alert); err != nil {
			t.Fatalf("insert alert: %v", err)
		}
	}

	rec := ts.request(t, http.MethodPost, "/api/v1/check-alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	var summary aggregate.ReconcileSummary
	decodeData(t, rec, &summary)
	if summary.Grouped != 2 || summary.Created != 1 {
		t.Errorf("summary = %+v, want 2 grouped into 1 created", summary)
	}
}

func TestEmailJobsProcessEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	customer := ts.seedCustomer(t)
	ctx := context.Background()

	if _, err := ts.store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 2,
		FirstSeen:  time.Now().UTC(),
		LastSeen:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	rec := ts.request(t, http.MethodPost, "/api/v1/email-jobs/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	var summary mailer.BuildSummary
	decodeData(t, rec, &summary)
	if summary.JobsCreated != 1 {
		t.Errorf("jobs created = %d, want 1", summary.JobsCreated)
	}

	rec = ts.request(t, http.MethodGet, "/api/v1/email-jobs?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var list struct {
		Jobs  []*models.EmailJob `json:"jobs"`
		Count int                `json:"count"`
	}
	decodeData(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("job count = %d, want 1", list.Count)
	}
}

func TestTestEmailEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/test-email", map[string]string{
		"to": "ops@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodPost, "/api/v1/test-email", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status without recipient = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedCustomer(t)

	if err := ts.queue.Push(context.Background(), queue.AlertQueue, []byte("x")); err != nil {
		t.Fatalf("push: %v", err)
	}

	rec := ts.request(t, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	var data struct {
		Queues    map[string]int64 `json:"queues"`
		Customers int64            `json:"customers"`
	}
	decodeData(t, rec, &data)
	if data.Queues[queue.AlertQueue] != 1 {
		t.Errorf("alert queue depth = %d, want 1", data.Queues[queue.AlertQueue])
	}
	if data.Customers != 1 {
		t.Errorf("customers = %d, want 1", data.Customers)
	}
}

func TestNotificationsEndpointFilters(t *testing.T) {
	ts := setupTestServer(t)
	customer := ts.seedCustomer(t)
	ctx := context.Background()

	n, err := ts.store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 1,
		FirstSeen:  time.Now().UTC(),
		LastSeen:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	rec := ts.request(t, http.MethodGet, "/api/v1/notifications?email_sent=false", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list struct {
		Notifications []*models.Notification `json:"notifications"`
		Count         int                    `json:"count"`
	}
	decodeData(t, rec, &list)
	if list.Count != 1 || list.Notifications[0].ID != n.ID {
		t.Errorf("open notifications = %+v, want the seeded one", list)
	}

	rec = ts.request(t, http.MethodGet, "/api/v1/notifications?email_sent=true", nil)
	decodeData(t, rec, &list)
	if list.Count != 0 {
		t.Errorf("emailed notifications = %d, want 0", list.Count)
	}

	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/v1/notifications?customer_id=%s", customer.ID), nil)
	decodeData(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("customer notifications = %d, want 1", list.Count)
	}
}
