// Package memqueue is an in-process queue.Fabric implementation: each queue
// is a mutex-guarded slice of items with a sync.Cond that wakes waiting
// consumers, and status events go through an in-process broadcaster. It is
// the default fabric for development and the backbone of every
// non-Redis-specific test, since it needs no external service.
//
// The status broadcaster generalizes the teacher's internal/websocket.Hub:
// instead of a single-writer event loop it keeps per-job subscriber channels
// in a map guarded by a read-write mutex and publishes outside the lock,
// fanning out queue.StatusEvent to subscribers instead of WebSocket clients.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelai/sentinel/internal/queue"
)

// item is one enqueued work item plus its in-flight bookkeeping.
type item struct {
	work      queue.WorkItem
	deadline  time.Time // zero if not currently in flight
	readyAt   time.Time // zero means ready now
	delivered bool
}

// Fabric implements queue.Fabric entirely in memory.
type Fabric struct {
	mu         sync.Mutex
	queues     map[string][]*item
	dlq        map[string][]queue.DLQEntry
	notEmpty   map[string]*sync.Cond
	visibility time.Duration

	broadcaster *broadcaster
}

// New creates an empty in-memory Fabric. visibility is the duration a
// delivered-but-unacked item is hidden from other consumers before being
// considered lost and redelivered.
func New(visibility time.Duration) *Fabric {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	f := &Fabric{
		queues:      make(map[string][]*item),
		dlq:         make(map[string][]queue.DLQEntry),
		notEmpty:    make(map[string]*sync.Cond),
		visibility:  visibility,
		broadcaster: newBroadcaster(),
	}
	go f.reaper()
	return f
}

func (f *Fabric) condFor(queueName string) *sync.Cond {
	if c, ok := f.notEmpty[queueName]; ok {
		return c
	}
	c := sync.NewCond(&f.mu)
	f.notEmpty[queueName] = c
	return c
}

// Publish implements queue.Fabric.
func (f *Fabric) Publish(_ context.Context, queueName string, work queue.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queues[queueName] = append(f.queues[queueName], &item{work: work})
	f.condFor(queueName).Signal()
	return nil
}

// Consume implements queue.Fabric. It blocks until an item is ready or ctx
// is done.
func (f *Fabric) Consume(ctx context.Context, queueName string) (*queue.Delivery, error) {
	done := make(chan struct{})
	defer close(done)

	// Cond.Wait cannot observe ctx cancellation directly, so a watchdog
	// goroutine broadcasts on the condition when the context ends.
	cond := func() *sync.Cond {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.condFor(queueName)
	}()

	go func() {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			cond.Broadcast()
			f.mu.Unlock()
		case <-done:
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now()
		var nextReady time.Time
		for _, it := range f.queues[queueName] {
			if it.delivered || (!it.readyAt.IsZero() && it.readyAt.After(now)) {
				if !it.delivered && (nextReady.IsZero() || it.readyAt.Before(nextReady)) {
					nextReady = it.readyAt
				}
				continue
			}
			it.delivered = true
			it.deadline = now.Add(f.visibility)
			return &queue.Delivery{Item: it.work}, nil
		}

		// A backed-off item becomes ready without any Signal, so wake this
		// waiter when the earliest one is due.
		var wake *time.Timer
		if !nextReady.IsZero() {
			wake = time.AfterFunc(nextReady.Sub(now), func() { f.mu.Lock(); cond.Broadcast(); f.mu.Unlock() })
		}
		cond.Wait()
		if wake != nil {
			wake.Stop()
		}
	}
}

// findInFlight locates the item matching d by job/artifact identity. memqueue
// deliveries carry no separate handle — the first delivered item with the
// same JobID and ArtifactID is taken to be the one d refers to.
func (f *Fabric) findInFlight(queueName string, d *queue.Delivery) (int, bool) {
	for i, it := range f.queues[queueName] {
		if it.delivered && it.work.JobID == d.Item.JobID && it.work.ArtifactID == d.Item.ArtifactID {
			return i, true
		}
	}
	return 0, false
}

// Ack implements queue.Fabric.
func (f *Fabric) Ack(_ context.Context, queueName string, d *queue.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i, ok := f.findInFlight(queueName, d); ok {
		f.queues[queueName] = append(f.queues[queueName][:i], f.queues[queueName][i+1:]...)
	}
	return nil
}

// Nack implements queue.Fabric's retry/DLQ policy.
func (f *Fabric) Nack(_ context.Context, queueName string, d *queue.Delivery, reason string, maxRetries int, backoffBase time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.findInFlight(queueName, d)
	if !ok {
		return nil
	}
	it := f.queues[queueName][i]
	it.work.Attempt++

	if it.work.Attempt > maxRetries {
		f.queues[queueName] = append(f.queues[queueName][:i], f.queues[queueName][i+1:]...)
		f.dlq[queueName] = append(f.dlq[queueName], queue.DLQEntry{
			Item:     it.work,
			Reason:   reason,
			FailedAt: time.Now(),
		})
		return nil
	}

	backoff := backoffBase * time.Duration(1<<uint(it.work.Attempt-1))
	it.delivered = false
	it.deadline = time.Time{}
	it.readyAt = time.Now().Add(backoff)
	f.condFor(queueName).Signal()
	return nil
}

// PublishStatus implements queue.Fabric.
func (f *Fabric) PublishStatus(_ context.Context, jobID string, event queue.StatusEvent) error {
	f.broadcaster.publish(jobID, event)
	return nil
}

// SubscribeStatus implements queue.Fabric.
func (f *Fabric) SubscribeStatus(ctx context.Context, jobID string) (queue.StatusSubscription, error) {
	return f.broadcaster.subscribe(ctx, jobID), nil
}

// ListDLQ implements queue.Fabric.
func (f *Fabric) ListDLQ(_ context.Context, queueName string) ([]queue.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.DLQEntry, len(f.dlq[queueName]))
	copy(out, f.dlq[queueName])
	return out, nil
}

// RequeueDLQ implements queue.Fabric.
func (f *Fabric) RequeueDLQ(_ context.Context, queueName string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.dlq[queueName]
	if index < 0 || index >= len(entries) {
		return queue.ErrEmpty
	}
	entry := entries[index]
	f.dlq[queueName] = append(entries[:index], entries[index+1:]...)

	entry.Item.Attempt = 0
	f.queues[queueName] = append(f.queues[queueName], &item{work: entry.Item})
	f.condFor(queueName).Signal()
	return nil
}

// Close implements queue.Fabric.
func (f *Fabric) Close() error {
	f.broadcaster.close()
	return nil
}

// reaper periodically requeues items whose visibility deadline passed
// without an Ack — the in-memory equivalent of a crashed consumer losing a
// delivery.
func (f *Fabric) reaper() {
	ticker := time.NewTicker(f.visibility / 2)
	defer ticker.Stop()

	for range ticker.C {
		f.mu.Lock()
		now := time.Now()
		for queueName, items := range f.queues {
			for _, it := range items {
				if it.delivered && !it.deadline.IsZero() && it.deadline.Before(now) {
					it.delivered = false
					it.deadline = time.Time{}
					f.condFor(queueName).Signal()
				}
			}
		}
		f.mu.Unlock()
	}
}
