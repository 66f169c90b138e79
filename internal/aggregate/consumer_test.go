package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

func TestConsumerPersistsAndAggregates(t *testing.T) {
	store := setupTestStore(t)
	q := queue.NewMemoryQueue()
	defer q.Close()

	agg := NewAggregator(store, testLogger())
	consumer := NewConsumer(store, q, agg, testLogger())

	customer := seedCustomer(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	for i := 0; i < 3; i++ {
		alert := models.NewAlert("alert-" + string(rune('a'+i)))
		alert.Timestamp = time.Now().UTC()
		alert.Hostname = "sensor-1.lan"
		alert.Direction = models.DirectionOutbound
		alert.ThreatIP = "203.0.113.45"
		alert.TargetIP = "172.30.0.250"
		alert.Country = "NL"
		alert.CustomerID = customer.ID
		payload, err := json.Marshal(alert)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := q.Push(ctx, queue.AlertQueue, payload); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := store.Alerts().Count(context.Background())
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumer persisted %d alerts, want 3", count)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}

	open := false
	notifications, err := store.Notifications().List(context.Background(), storage.NotificationFilter{EmailSent: &open})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifications))
	}
	if notifications[0].AlertCount != 3 {
		t.Errorf("alert_count = %d, want 3", notifications[0].AlertCount)
	}
}

// flakyStore fails the first n alert inserts and then behaves normally.
type flakyStore struct {
	storage.Storage
	alerts *flakyAlertRepo
}

type flakyAlertRepo struct {
	storage.AlertRepository
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Alerts() storage.AlertRepository { return s.alerts }

func (r *flakyAlertRepo) Insert(ctx context.Context, alert *models.Alert) error {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return r.AlertRepository.Insert(ctx, alert)
}

func TestConsumerRetriesHeldAlertAfterInsertFailure(t *testing.T) {
	inner := setupTestStore(t)
	store := &flakyStore{
		Storage: inner,
		alerts:  &flakyAlertRepo{AlertRepository: inner.Alerts(), failures: 1},
	}
	q := queue.NewMemoryQueue()
	defer q.Close()

	agg := NewAggregator(store, testLogger())
	consumer := NewConsumer(store, q, agg, testLogger())
	consumer.interval = 20 * time.Millisecond

	customer := seedCustomer(t, inner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	alert := models.NewAlert("alert-retry")
	alert.Timestamp = time.Now().UTC()
	alert.Hostname = "sensor-1.lan"
	alert.Direction = models.DirectionOutbound
	alert.ThreatIP = "203.0.113.45"
	alert.TargetIP = "172.30.0.250"
	alert.Country = "NL"
	alert.CustomerID = customer.ID
	payload, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := q.Push(ctx, queue.AlertQueue, payload); err != nil {
		t.Fatalf("push: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := store.Alerts().Count(context.Background())
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("alert was dropped instead of retried after insert failure")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}

	got, err := store.Alerts().GetByID(context.Background(), "alert-retry")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("retried alert not found in store")
	}
}

func TestConsumerDropsMalformedPayload(t *testing.T) {
	store := setupTestStore(t)
	q := queue.NewMemoryQueue()
	defer q.Close()

	agg := NewAggregator(store, testLogger())
	consumer := NewConsumer(store, q, agg, testLogger())

	if err := consumer.handle(context.Background(), []byte("not json")); err != nil {
		t.Errorf("handle malformed payload = %v, want nil (drop)", err)
	}

	count, _ := store.Alerts().Count(context.Background())
	if count != 0 {
		t.Errorf("malformed payload persisted %d alerts", count)
	}
}

func TestConsumerStopsOnQueueClose(t *testing.T) {
	store := setupTestStore(t)
	q := queue.NewMemoryQueue()

	agg := NewAggregator(store, testLogger())
	consumer := NewConsumer(store, q, agg, testLogger())

	done := make(chan error, 1)
	go func() { done <- consumer.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v, want nil on queue close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop when queue closed")
	}
}
