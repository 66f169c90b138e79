package mailer

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func setupTestStore(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func loadTestTemplates(t *testing.T) *Templates {
	t.Helper()

	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	return templates
}

func seedCustomer(t *testing.T, store storage.Storage) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		ID:                  uuid.New().String(),
		Name:                "Acme Corp",
		Email:               uuid.New().String() + "@example.com",
		NotificationEnabled: true,
		CreatedAt:           time.Now().UTC(),
	}
	if err := store.Customers().Insert(context.Background(), customer); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

func seedNotification(t *testing.T, store storage.Storage, customerID string, count int) *models.Notification {
	t.Helper()

	now := time.Now().UTC()
	n, err := store.Notifications().UpsertOpen(context.Background(), models.NotificationDelta{
		CustomerID: customerID,
		ThreatIP:   "203.0.113.45",
		AlertCount: count,
		FirstSeen:  now.Add(-time.Hour),
		LastSeen:   now,
		Countries:  []string{"NL", "FR"},
	})
	if err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return n
}

func seedAlerts(t *testing.T, store storage.Storage, customerID, threatIP string, count int) {
	t.Helper()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < count; i++ {
		alert := models.NewAlert(uuid.New().String())
		alert.Timestamp = base.Add(time.Duration(i) * time.Minute).UTC()
		alert.Hostname = "sensor-1.lan"
		alert.Direction = models.DirectionOutbound
		alert.ThreatIP = threatIP
		alert.TargetIP = "172.30.0.250"
		alert.Country = "NL"
		alert.Protocol = "tcp"
		alert.DestinationPort = 443
		alert.CustomerID = customerID
		if err := store.Alerts().Insert(context.Background(), alert); err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}
}

// failingTransport fails a configured number of sends before succeeding.
type failingTransport struct {
	mu       sync.Mutex
	failures int
	sends    int
}

func (f *failingTransport) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sends <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (f *failingTransport) Name() string { return "failing" }

func (f *failingTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}
