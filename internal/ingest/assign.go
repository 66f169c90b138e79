package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/good-yellow-bee/sentrymail/internal/models"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

// CustomerAssigner decides which customer owns an incoming alert. The
// sensor feed carries no tenant information, so the policy is injectable;
// an empty customer ID means the alert stays unassigned.
type CustomerAssigner interface {
	Assign(ctx context.Context, alert *models.Alert) (string, error)
}

// RoundRobinAssigner distributes alerts across all known customers in
// rotation. It is the default policy until sensors carry real tenant
// identity.
type RoundRobinAssigner struct {
	customers storage.CustomerRepository

	mu   sync.Mutex
	next int
}

// NewRoundRobinAssigner creates an assigner backed by the customer store.
func NewRoundRobinAssigner(customers storage.CustomerRepository) *RoundRobinAssigner {
	return &RoundRobinAssigner{customers: customers}
}

// Assign returns the next customer in rotation, or an empty ID when no
// customers exist.
func (a *RoundRobinAssigner) Assign(ctx context.Context, alert *models.Alert) (string, error) {
	list, err := a.customers.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}
	if len(list) == 0 {
		return "", nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	customer := list[a.next%len(list)]
	a.next++
	return customer.ID, nil
}

// StaticAssigner assigns every alert to one fixed customer. Used by the
// test-data seeder and in tests.
type StaticAssigner struct {
	CustomerID string
}

func (a StaticAssigner) Assign(ctx context.Context, alert *models.Alert) (string, error) {
	return a.CustomerID, nil
}
