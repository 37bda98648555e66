package memqueue

import (
	"context"
	"sync"

	"github.com/sentinelai/sentinel/internal/queue"
)

// broadcaster is the in-process pub/sub broker for per-job status events. It
// fans out queue.StatusEvent to per-job subscriber channels held in a map
// guarded by a read-write mutex; there is no event-loop goroutine.
type broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{} // jobID -> subscribers
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]map[*subscription]struct{})}
}

// subscription is one SubscribeStatus call's channel and lifecycle.
type subscription struct {
	jobID  string
	events chan queue.StatusEvent
	b      *broadcaster
	once   sync.Once
}

func (s *subscription) Events() <-chan queue.StatusEvent { return s.events }

func (s *subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs[s.jobID], s)
		if len(s.b.subs[s.jobID]) == 0 {
			delete(s.b.subs, s.jobID)
		}
		s.b.mu.Unlock()
		close(s.events)
	})
}

func (b *broadcaster) subscribe(ctx context.Context, jobID string) queue.StatusSubscription {
	sub := &subscription{
		jobID:  jobID,
		events: make(chan queue.StatusEvent, 32),
		b:      b,
	}

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscription]struct{})
	}
	b.subs[jobID][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

// publish sends event to every subscriber of jobID. For a subscriber whose
// buffer is full the event is dropped (the subscriber stays registered)
// rather than allowed to stall the publisher — status delivery is
// explicitly best-effort (spec.md §4.2).
func (b *broadcaster) publish(jobID string, event queue.StatusEvent) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[jobID]))
	for s := range b.subs[jobID] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.events <- event:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.RLock()
	all := make([]*subscription, 0)
	for _, subs := range b.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	b.mu.RUnlock()

	// Close() is idempotent per-subscription (guarded by sync.Once), so this
	// is safe even if a subscriber's own ctx cancels concurrently.
	for _, s := range all {
		s.Close()
	}
}
