package memqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/queue/memqueue"
)

func TestFabric_PublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	f := memqueue.New(time.Minute)
	defer f.Close()

	work := queue.WorkItem{JobID: "sup/owner/job1", ArtifactID: "artifact1", MediaType: queue.QueueDocument}
	require.NoError(t, f.Publish(ctx, queue.QueueDocument, work))

	delivery, err := f.Consume(ctx, queue.QueueDocument)
	require.NoError(t, err)
	assert.Equal(t, work.ArtifactID, delivery.Item.ArtifactID)

	require.NoError(t, f.Ack(ctx, queue.QueueDocument, delivery))

	// Once acked, the item is gone — a second Consume call on an otherwise
	// empty queue must block, so bound it with a context deadline.
	consumeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = f.Consume(consumeCtx, queue.QueueDocument)
	assert.Error(t, err)
}

func TestFabric_NackRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := memqueue.New(time.Minute)
	defer f.Close()

	work := queue.WorkItem{JobID: "sup/owner/job2", ArtifactID: "artifact2", MediaType: queue.QueueAudio}
	require.NoError(t, f.Publish(ctx, queue.QueueAudio, work))

	const maxRetries = 2
	for attempt := 0; attempt <= maxRetries; attempt++ {
		delivery, err := f.Consume(ctx, queue.QueueAudio)
		require.NoError(t, err, "attempt %d", attempt)
		require.NoError(t, f.Nack(ctx, queue.QueueAudio, delivery, "stage failed", maxRetries, time.Millisecond))
	}

	entries, err := f.ListDLQ(ctx, queue.QueueAudio)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, work.ArtifactID, entries[0].Item.ArtifactID)
	assert.Equal(t, "stage failed", entries[0].Reason)
}

func TestFabric_RequeueDLQ(t *testing.T) {
	ctx := context.Background()
	f := memqueue.New(time.Minute)
	defer f.Close()

	work := queue.WorkItem{JobID: "sup/owner/job3", ArtifactID: "artifact3", MediaType: queue.QueueVideo}
	require.NoError(t, f.Publish(ctx, queue.QueueVideo, work))

	delivery, err := f.Consume(ctx, queue.QueueVideo)
	require.NoError(t, err)
	require.NoError(t, f.Nack(ctx, queue.QueueVideo, delivery, "boom", 0, time.Millisecond))

	entries, err := f.ListDLQ(ctx, queue.QueueVideo)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, f.RequeueDLQ(ctx, queue.QueueVideo, 0))

	entries, err = f.ListDLQ(ctx, queue.QueueVideo)
	require.NoError(t, err)
	assert.Empty(t, entries)

	redelivered, err := f.Consume(ctx, queue.QueueVideo)
	require.NoError(t, err)
	assert.Equal(t, work.ArtifactID, redelivered.Item.ArtifactID)
	assert.Equal(t, 0, redelivered.Item.Attempt)
}

func TestFabric_RequeueDLQ_OutOfRange(t *testing.T) {
	f := memqueue.New(time.Minute)
	defer f.Close()

	err := f.RequeueDLQ(context.Background(), queue.QueueCDR, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestFabric_StatusPubSub(t *testing.T) {
	ctx := context.Background()
	f := memqueue.New(time.Minute)
	defer f.Close()

	sub, err := f.SubscribeStatus(ctx, "sup/owner/job4")
	require.NoError(t, err)
	defer sub.Close()

	event := queue.StatusEvent{Type: "artifact_status", ArtifactID: "artifact4", Status: "processing"}
	require.NoError(t, f.PublishStatus(ctx, "sup/owner/job4", event))

	select {
	case got := <-sub.Events():
		assert.Equal(t, event.ArtifactID, got.ArtifactID)
		assert.Equal(t, event.Status, got.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
	}
}
