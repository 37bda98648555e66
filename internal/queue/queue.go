// Package queue defines the Fabric contract every queue backend satisfies:
// named FIFO work queues with at-least-once delivery, a dead-letter queue
// per work queue, and a per-job status pub/sub channel. memqueue redelivers
// an unacknowledged delivery once its visibility timeout passes; redisqueue
// has no visibility timeout and leaves an unacknowledged delivery in its
// processing list. internal/queue/memqueue and internal/queue/redisqueue
// both implement Fabric against the same contract tests.
package queue

import (
	"context"
	"errors"
	"time"
)

// Queue names, matching spec.md's media-type-keyed work queues.
const (
	QueueDocument = "document"
	QueueAudio    = "audio"
	QueueVideo    = "video"
	QueueCDR      = "cdr"
	QueueGraph    = "graph"
)

// DefaultMaxRetries and DefaultBackoffBase implement spec.md §4.2's retry
// policy: attempt > max_retries moves the item to the DLQ; otherwise it is
// redelivered after base * 2^(attempt-1) seconds.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 60 * time.Second
)

// ErrEmpty is returned by redisqueue's Consume when its blocking wait ends
// with no item (memqueue's Consume returns ctx.Err() instead) — not an error
// condition, just "nothing to do right now." Both backends' RequeueDLQ also
// return it for an index outside the DLQ.
var ErrEmpty = errors.New("queue: no item available")

// WorkItem is the payload carried by a work queue, JSON-tagged exactly as
// spec.md §4.2 specifies.
type WorkItem struct {
	JobID      string            `json:"job_id"`
	ArtifactID string            `json:"artifact_id"`
	BlobPath   string            `json:"blob_path"`
	Filename   string            `json:"filename"`
	MediaType  string            `json:"media_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Attempt    int               `json:"attempt"`
}

// Delivery wraps a WorkItem for Ack/Nack. Neither backend sets handle:
// memqueue finds the in-flight item by JobID and ArtifactID, and redisqueue
// re-encodes Item to find it in its processing list.
type Delivery struct {
	Item   WorkItem
	handle any
}

// StatusEvent is the payload broadcast on a job's status channel, matching
// spec.md §6's artifact_status event shape.
type StatusEvent struct {
	Type             string             `json:"type"` // "artifact_status"
	JobID            string             `json:"job_id"`
	ArtifactID       string             `json:"artifact_id"`
	Filename         string             `json:"filename"`
	Status           string             `json:"status"`
	CurrentStage     string             `json:"current_stage,omitempty"`
	ProcessingStages map[string]float64 `json:"processing_stages,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
}

// DLQEntry is one poison or retry-exhausted item sitting in a <queue>.dlq,
// carrying the full error metadata spec.md §4.2 requires.
type DLQEntry struct {
	Item     WorkItem  `json:"item"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// StatusSubscription is returned by SubscribeStatus. Events arrives until
// the subscription's context is canceled or Close is called; the caller
// must drain or abandon Events to avoid leaking the subscription goroutine.
type StatusSubscription interface {
	Events() <-chan StatusEvent
	Close()
}

// Fabric is the queue contract spec.md §4.2 describes. Every operation is
// safe for concurrent use by multiple workers and multiple API gateway
// goroutines.
type Fabric interface {
	// Publish enqueues a work item onto the named queue.
	Publish(ctx context.Context, queueName string, item WorkItem) error

	// Consume blocks until a work item is available or ctx is done
	// (redisqueue returns ErrEmpty after a 5s wait with nothing to deliver).
	// The returned Delivery must be acknowledged with Ack or returned with
	// Nack; memqueue redelivers it once its visibility timeout elapses,
	// redisqueue keeps it in its processing list.
	Consume(ctx context.Context, queueName string) (*Delivery, error)

	// Ack confirms successful processing of a delivery, permanently removing
	// it from the queue's in-flight set.
	Ack(ctx context.Context, queueName string, d *Delivery) error

	// Nack returns a delivery to the queue. If the item's Attempt (after
	// incrementing) exceeds maxRetries, it is moved to <queue>.dlq with the
	// given reason instead of being redelivered.
	Nack(ctx context.Context, queueName string, d *Delivery, reason string, maxRetries int, backoffBase time.Duration) error

	// PublishStatus broadcasts an event on job_status:{job_id}. Delivery is
	// best-effort — no subscriber is guaranteed to see it.
	PublishStatus(ctx context.Context, jobID string, event StatusEvent) error

	// SubscribeStatus opens a subscription to a job's status channel.
	SubscribeStatus(ctx context.Context, jobID string) (StatusSubscription, error)

	// ListDLQ returns the current contents of a queue's dead-letter queue.
	ListDLQ(ctx context.Context, queueName string) ([]DLQEntry, error)

	// RequeueDLQ moves one DLQ entry back onto its live queue with a reset
	// Attempt, used by the admin requeue endpoint (spec.md §6).
	RequeueDLQ(ctx context.Context, queueName string, index int) error

	// Close releases any resources (connections, goroutines) held by the
	// fabric. Safe to call once during shutdown.
	Close() error
}
