package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func seedCustomer(t *testing.T, store *SQLiteStorage, enabled bool) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		ID:                  uuid.New().String(),
		Name:                "Acme Corp",
		Email:               uuid.New().String() + "@example.com",
		NotificationEnabled: enabled,
		CreatedAt:           time.Now().UTC(),
	}
	if err := store.Customers().Insert(context.Background(), customer); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

func seedAlert(t *testing.T, store *SQLiteStorage, customerID, threatIP string, ts time.Time) *models.Alert {
	t.Helper()

	alert := models.NewAlert(uuid.New().String())
	alert.Timestamp = ts.UTC()
	alert.Hostname = "sensor-1.lan"
	alert.Direction = models.DirectionOutbound
	alert.ThreatIP = threatIP
	alert.TargetIP = "172.30.0.250"
	alert.Country = "NL"
	alert.Protocol = "tcp"
	alert.CustomerID = customerID
	if err := store.Alerts().Insert(context.Background(), alert); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	return alert
}

func TestAlertInsertAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	alert := seedAlert(t, store, customer.ID, "203.0.113.45", time.Now())

	got, err := store.Alerts().GetByID(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ThreatIP != alert.ThreatIP {
		t.Errorf("threat_ip = %q, want %q", got.ThreatIP, alert.ThreatIP)
	}
	if got.CustomerID != customer.ID {
		t.Errorf("customer_id = %q, want %q", got.CustomerID, customer.ID)
	}
	if got.NotificationProcessed {
		t.Error("fresh alert marked processed")
	}
}

func TestAlertListFilters(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	seedAlert(t, store, customer.ID, "203.0.113.45", time.Now())
	seedAlert(t, store, customer.ID, "203.0.113.45", time.Now())
	seedAlert(t, store, customer.ID, "198.51.100.78", time.Now())

	byThreat, err := store.Alerts().List(ctx, AlertFilter{ThreatIP: "203.0.113.45"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byThreat) != 2 {
		t.Errorf("threat filter matched %d, want 2", len(byThreat))
	}

	limited, err := store.Alerts().List(ctx, AlertFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit returned %d, want 1", len(limited))
	}

	outbound, err := store.Alerts().List(ctx, AlertFilter{Direction: models.DirectionInbound})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(outbound) != 0 {
		t.Errorf("inbound filter matched %d, want 0", len(outbound))
	}
}

func TestAlertMarkProcessed(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	a1 := seedAlert(t, store, customer.ID, "203.0.113.45", time.Now())
	a2 := seedAlert(t, store, customer.ID, "203.0.113.45", time.Now())

	unprocessed, err := store.Alerts().ListUnprocessed(ctx)
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(unprocessed) != 2 {
		t.Fatalf("unprocessed = %d, want 2", len(unprocessed))
	}

	if err := store.Alerts().MarkProcessed(ctx, []string{a1.ID, a2.ID}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	unprocessed, err = store.Alerts().ListUnprocessed(ctx)
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Errorf("unprocessed after mark = %d, want 0", len(unprocessed))
	}
}

func TestNotificationUpsertOpenCreatesThenFolds(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	first := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	last := time.Now().UTC().Truncate(time.Second)

	n1, err := store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 2,
		FirstSeen:  first,
		LastSeen:   first,
		Countries:  []string{"NL"},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if n1.AlertCount != 2 {
		t.Errorf("alert_count = %d, want 2", n1.AlertCount)
	}
	if !n1.CreatedAt.Equal(n1.UpdatedAt) {
		t.Error("fresh notification has created_at != updated_at")
	}

	n2, err := store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 3,
		FirstSeen:  last,
		LastSeen:   last,
		Countries:  []string{"NL", "FR"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if n2.ID != n1.ID {
		t.Errorf("second upsert opened a new notification %s, want fold into %s", n2.ID, n1.ID)
	}
	if n2.AlertCount != 5 {
		t.Errorf("alert_count = %d, want 5", n2.AlertCount)
	}
	if !n2.FirstSeen.Equal(first) {
		t.Errorf("first_seen = %v, want kept at %v", n2.FirstSeen, first)
	}
	if !n2.LastSeen.Equal(last) {
		t.Errorf("last_seen = %v, want extended to %v", n2.LastSeen, last)
	}
	if len(n2.Countries) != 2 {
		t.Errorf("countries = %v, want union of NL and FR", n2.Countries)
	}
}

func TestNotificationUpsertOpensNewAfterEmailed(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	delta := models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 1,
		FirstSeen:  time.Now().UTC(),
		LastSeen:   time.Now().UTC(),
	}

	n1, err := store.Notifications().UpsertOpen(ctx, delta)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Notifications().MarkEmailed(ctx, n1.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark emailed: %v", err)
	}

	n2, err := store.Notifications().UpsertOpen(ctx, delta)
	if err != nil {
		t.Fatalf("upsert after emailed: %v", err)
	}
	if n2.ID == n1.ID {
		t.Error("upsert reopened an emailed notification")
	}
	if n2.AlertCount != 1 {
		t.Errorf("new notification alert_count = %d, want 1", n2.AlertCount)
	}
}

func TestNotificationListPending(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	enabled := seedCustomer(t, store, true)
	disabled := seedCustomer(t, store, false)
	now := time.Now().UTC()

	mkNotification := func(customerID, threat string, count int) *models.Notification {
		t.Helper()
		n, err := store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
			CustomerID: customerID,
			ThreatIP:   threat,
			AlertCount: count,
			FirstSeen:  now,
			LastSeen:   now,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		return n
	}

	ready := mkNotification(enabled.ID, "203.0.113.45", 3)
	mkNotification(enabled.ID, "198.51.100.78", 1)  // below threshold
	mkNotification(disabled.ID, "203.0.113.45", 5)  // notifications disabled

	pending, err := store.Notifications().ListPending(ctx, 2, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].ID != ready.ID {
		t.Errorf("pending = %s, want %s", pending[0].ID, ready.ID)
	}

	// An open email job hides the notification from subsequent passes.
	job := models.NewEmailJob(uuid.New().String(), ready.ID, enabled.Email, 3)
	job.Subject = "s"
	job.Body = "b"
	if err := store.EmailJobs().Insert(ctx, job); err != nil {
		t.Fatalf("insert job: %v", err)
	}

	pending, err = store.Notifications().ListPending(ctx, 2, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending with open job = %d, want 0", len(pending))
	}
}

func TestEmailJobTransitions(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	n, err := store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 1,
		FirstSeen:  time.Now().UTC(),
		LastSeen:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	job := models.NewEmailJob(uuid.New().String(), n.ID, customer.Email, 3)
	job.Subject = "s"
	job.Body = "b"
	if err := store.EmailJobs().Insert(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.EmailJobs().MarkRetry(ctx, job.ID, 1, time.Now().Add(time.Minute).UTC()); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	got, _ := store.EmailJobs().GetByID(ctx, job.ID)
	if got.Status != models.JobStatusRetry || got.Attempts != 1 {
		t.Errorf("after retry: status = %s attempts = %d", got.Status, got.Attempts)
	}

	if err := store.EmailJobs().MarkPending(ctx, job.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	got, _ = store.EmailJobs().GetByID(ctx, job.ID)
	if got.Status != models.JobStatusPending {
		t.Errorf("after pending: status = %s", got.Status)
	}

	sentAt := time.Now().UTC()
	if err := store.EmailJobs().MarkSent(ctx, job.ID, sentAt); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	got, _ = store.EmailJobs().GetByID(ctx, job.ID)
	if got.Status != models.JobStatusSent {
		t.Errorf("after sent: status = %s", got.Status)
	}
	if got.SentAt == nil {
		t.Error("sent job has no sent_at")
	}
}

func TestEmailJobTerminalStatesAreImmutable(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	n, err := store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 1,
		FirstSeen:  time.Now().UTC(),
		LastSeen:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	job := models.NewEmailJob(uuid.New().String(), n.ID, customer.Email, 3)
	job.Subject = "s"
	job.Body = "b"
	if err := store.EmailJobs().Insert(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.EmailJobs().MarkSent(ctx, job.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	if err := store.EmailJobs().MarkRetry(ctx, job.ID, 1, time.Now().UTC()); err == nil {
		t.Error("retry transition allowed on a sent job")
	}
	if err := store.EmailJobs().MarkFailed(ctx, job.ID, 3, "boom"); err == nil {
		t.Error("failed transition allowed on a sent job")
	}

	got, _ := store.EmailJobs().GetByID(ctx, job.ID)
	if got.Status != models.JobStatusSent {
		t.Errorf("terminal status mutated to %s", got.Status)
	}
}

func TestEmailJobCountByStatus(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	n, err := store.Notifications().UpsertOpen(ctx, models.NotificationDelta{
		CustomerID: customer.ID,
		ThreatIP:   "203.0.113.45",
		AlertCount: 1,
		FirstSeen:  time.Now().UTC(),
		LastSeen:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for i := 0; i < 3; i++ {
		job := models.NewEmailJob(uuid.New().String(), n.ID, customer.Email, 3)
		job.Subject = "s"
		job.Body = "b"
		if err := store.EmailJobs().Insert(ctx, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if i == 0 {
			if err := store.EmailJobs().MarkSent(ctx, job.ID, time.Now().UTC()); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
		}
	}

	counts, err := store.EmailJobs().CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[models.JobStatusPending] != 2 {
		t.Errorf("pending = %d, want 2", counts[models.JobStatusPending])
	}
	if counts[models.JobStatusSent] != 1 {
		t.Errorf("sent = %d, want 1", counts[models.JobStatusSent])
	}
}

func TestListForThreatOrdersAndCaps(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	customer := seedCustomer(t, store, true)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedAlert(t, store, customer.ID, "203.0.113.45", base.Add(time.Duration(i)*time.Minute))
	}
	seedAlert(t, store, customer.ID, "198.51.100.78", time.Now())

	alerts, err := store.Alerts().ListForThreat(ctx, customer.ID, "203.0.113.45", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("len = %d, want 3", len(alerts))
	}
	for i := 1; i < len(alerts); i++ {
		if alerts[i].Timestamp.After(alerts[i-1].Timestamp) {
			t.Error("alerts not ordered most recent first")
		}
	}
}
