// Package queue provides FIFO work queues with delayed delivery and a
// TTL-bounded distributed lock, backed by Redis in production and by an
// in-process implementation for tests and development.
package queue

import (
	"context"
	"errors"
	"time"
)

// Well-known queue names.
const (
	AlertQueue = "alerts:queue"
	EmailQueue = "email:queue"
)

// BuilderLockKey guards the email job builder so only one instance runs a
// scheduled pass at a time.
const BuilderLockKey = "email-builder:lock"

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Queue is a FIFO, at-least-once, multi-producer/multi-consumer work
// queue. Payloads are opaque bytes; callers serialize their own items.
type Queue interface {
	// Push appends an item, making it immediately available to poppers.
	Push(ctx context.Context, name string, payload []byte) error
	// PushDelayed schedules an item to become visible at readyAt. Items
	// are promoted to the head queue once due; until then they are
	// invisible to BlockingPop.
	PushDelayed(ctx context.Context, name string, payload []byte, readyAt time.Time) error
	// BlockingPop removes and returns the oldest visible item, blocking
	// until one is available. Context cancellation unblocks the call and
	// returns the context's error.
	BlockingPop(ctx context.Context, name string) ([]byte, error)
	// Len returns the number of queued items, including not-yet-due
	// delayed items.
	Len(ctx context.Context, name string) (int64, error)

	// TrySetLock atomically acquires a named lock for owner with a TTL,
	// returning false without error when another owner holds it.
	TrySetLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock releases a lock only if owner still holds it, so an
	// expired holder can never release a successor's lock.
	ReleaseLock(ctx context.Context, key, owner string) error

	// Close releases queue resources. Blocked pops are unblocked.
	Close() error
}
