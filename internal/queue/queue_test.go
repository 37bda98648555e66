package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/queue/memqueue"
	"github.com/sentinelai/sentinel/internal/queue/redisqueue"
)

// fabricFactory builds a fresh, isolated queue.Fabric for one test. Every
// contract test below is written once against the queue.Fabric interface
// and run against both backends through this factory, so a behavior gap
// between memqueue and redisqueue surfaces as a contract test failure
// instead of shipping unnoticed in whichever backend the bug happens not to
// affect.
type fabricFactory func(t *testing.T) queue.Fabric

func memqueueFactory(t *testing.T) queue.Fabric {
	f := memqueue.New(time.Minute)
	t.Cleanup(func() { f.Close() })
	return f
}

func redisqueueFactory(t *testing.T) queue.Fabric {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	f := redisqueue.New(client)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFabricContract(t *testing.T) {
	backends := map[string]fabricFactory{
		"memqueue":   memqueueFactory,
		"redisqueue": redisqueueFactory,
	}

	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("PublishConsumeAck", func(t *testing.T) { testPublishConsumeAck(t, factory(t)) })
			t.Run("NackRetriesThenDeadLetters", func(t *testing.T) { testNackRetriesThenDeadLetters(t, factory(t)) })
			t.Run("RequeueDLQResetsAttempt", func(t *testing.T) { testRequeueDLQResetsAttempt(t, factory(t)) })
			t.Run("StatusPubSub", func(t *testing.T) { testStatusPubSub(t, factory(t)) })
		})
	}
}

func testPublishConsumeAck(t *testing.T, f queue.Fabric) {
	ctx := context.Background()

	work := queue.WorkItem{JobID: "sup/owner/job1", ArtifactID: "artifact1", MediaType: queue.QueueDocument}
	require.NoError(t, f.Publish(ctx, queue.QueueDocument, work))

	delivery, err := f.Consume(ctx, queue.QueueDocument)
	require.NoError(t, err)
	assert.Equal(t, work.ArtifactID, delivery.Item.ArtifactID)

	require.NoError(t, f.Ack(ctx, queue.QueueDocument, delivery))
}

// testNackRetriesThenDeadLetters exercises spec.md §4.2's retry policy:
// maxRetries nacks redeliver the item, the (maxRetries+1)th moves it to the
// dead-letter queue with the given reason.
func testNackRetriesThenDeadLetters(t *testing.T, f queue.Fabric) {
	ctx := context.Background()

	work := queue.WorkItem{JobID: "sup/owner/job2", ArtifactID: "artifact2", MediaType: queue.QueueAudio}
	require.NoError(t, f.Publish(ctx, queue.QueueAudio, work))

	const maxRetries = 2
	for attempt := 0; attempt <= maxRetries; attempt++ {
		delivery, err := f.Consume(ctx, queue.QueueAudio)
		require.NoError(t, err, "attempt %d", attempt)
		require.NoError(t, f.Nack(ctx, queue.QueueAudio, delivery, "stage failed", maxRetries, time.Millisecond))
	}

	// Give redisqueue's delayed-item poller a moment to promote anything it
	// shouldn't have (there should be nothing left to promote — every nack
	// but the last redelivered onto the live queue, which should by now
	// have been drained by the loop above).
	time.Sleep(50 * time.Millisecond)

	entries, err := f.ListDLQ(ctx, queue.QueueAudio)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, work.ArtifactID, entries[0].Item.ArtifactID)
	assert.Equal(t, "stage failed", entries[0].Reason)
}

func testRequeueDLQResetsAttempt(t *testing.T, f queue.Fabric) {
	ctx := context.Background()

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

func testStatusPubSub(t *testing.T, f queue.Fabric) {
	ctx := context.Background()

	sub, err := f.SubscribeStatus(ctx, "sup/owner/job4")
	require.NoError(t, err)
	defer sub.Close()

	event := queue.StatusEvent{
		Type:       "artifact_status",
		JobID:      "sup/owner/job4",
		ArtifactID: "artifact4",
		Filename:   "evidence.txt",
		Status:     "processing",
	}
	require.NoError(t, f.PublishStatus(ctx, "sup/owner/job4", event))

	select {
	case got := <-sub.Events():
		assert.Equal(t, event.JobID, got.JobID)
		assert.Equal(t, event.ArtifactID, got.ArtifactID)
		assert.Equal(t, event.Filename, got.Filename)
		assert.Equal(t, event.Status, got.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
	}
}
