package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue implements Queue in process memory. It mirrors the Redis
// queue's semantics (FIFO, delayed visibility, owner-checked locks) and
// backs tests and single-process development runs.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	locks  map[string]memLock
	closed bool
}

type memQueue struct {
	items   [][]byte
	delayed delayedHeap
	// wake is signalled on every push so blocked pops re-check state.
	wake chan struct{}
}

type memLock struct {
	owner   string
	expires time.Time
}

type delayedItem struct {
	readyAt time.Time
	payload []byte
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[string]*memQueue),
		locks:  make(map[string]memLock),
	}
}

func (q *MemoryQueue) get(name string) *memQueue {
	mq, ok := q.queues[name]
	if !ok {
		mq = &memQueue{wake: make(chan struct{}, 1)}
		q.queues[name] = mq
	}
	return mq
}

// Push appends an item and wakes one blocked popper.
func (q *MemoryQueue) Push(ctx context.Context, name string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	mq := q.get(name)
	mq.items = append(mq.items, payload)
	signal(mq.wake)
	return nil
}

// PushDelayed schedules an item to become visible at readyAt.
func (q *MemoryQueue) PushDelayed(ctx context.Context, name string, payload []byte, readyAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	mq := q.get(name)
	heap.Push(&mq.delayed, delayedItem{readyAt: readyAt, payload: payload})
	signal(mq.wake)
	return nil
}

// BlockingPop waits for the oldest visible item, honoring delayed
// visibility, context cancellation, and queue closure.
func (q *MemoryQueue) BlockingPop(ctx context.Context, name string) ([]byte, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}

		mq := q.get(name)
		now := time.Now()

		// Promote due delayed items in readiness order.
		for mq.delayed.Len() > 0 && !mq.delayed[0].readyAt.After(now) {
			item := heap.Pop(&mq.delayed).(delayedItem)
			mq.items = append(mq.items, item.payload)
		}

		if len(mq.items) > 0 {
			payload := mq.items[0]
			mq.items = mq.items[1:]
			q.mu.Unlock()
			return payload, nil
		}

		// Nothing visible: wait for a push, the next delayed item
		// becoming due, or cancellation.
		var timer *time.Timer
		var due <-chan time.Time
		if mq.delayed.Len() > 0 {
			timer = time.NewTimer(time.Until(mq.delayed[0].readyAt))
			due = timer.C
		}
		wake := mq.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Len reports queued items including not-yet-due delayed ones.
func (q *MemoryQueue) Len(ctx context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	mq := q.get(name)
	return int64(len(mq.items) + mq.delayed.Len()), nil
}

// TrySetLock acquires key for owner unless a live lock is held by someone
// else. Expired locks are treated as absent.
func (q *MemoryQueue) TrySetLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}

	if lock, ok := q.locks[key]; ok && lock.expires.After(time.Now()) && lock.owner != owner {
		return false, nil
	}
	q.locks[key] = memLock{owner: owner, expires: time.Now().Add(ttl)}
	return true, nil
}

// ReleaseLock releases key only if owner still holds it.
func (q *MemoryQueue) ReleaseLock(ctx context.Context, key, owner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if lock, ok := q.locks[key]; ok && lock.owner == owner {
		delete(q.locks, key)
	}
	return nil
}

// Close marks the queue closed and wakes all blocked pops.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for _, mq := range q.queues {
		close(mq.wake)
	}
	return nil
}

// signal performs a non-blocking send on a capacity-1 wake channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// delayedHeap orders delayed items by readiness time.
type delayedHeap []delayedItem

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any) { *h = append(*h, x.(delayedItem)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
