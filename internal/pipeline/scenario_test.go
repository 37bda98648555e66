package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm"

	"github.com/sentinelai/sentinel/internal/blobstore/localstore"
	"github.com/sentinelai/sentinel/internal/collab"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/pipeline"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/queue/memqueue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// openScenarioDB mirrors internal/repository's openTestDB helper: a fresh,
// isolated in-memory sqlite database with every migration applied.
func openScenarioDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// harness bundles one in-memory pipeline stood up with the same
// collaborators and queue/store backends a production process wires, so a
// scenario test drives the real Runner/Gate/repository code, not a mock of
// it.
type harness struct {
	t      *testing.T
	deps   *pipeline.Deps
	gate   *pipeline.Gate
	jobs   repository.JobRepository
	arts   repository.ArtifactRepository
	chunks repository.ChunkRepository
	graph  repository.GraphRepository
	q      queue.Fabric
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gdb := openScenarioDB(t)
	store, err := localstore.New(t.TempDir())
	require.NoError(t, err)

	q := memqueue.New(time.Minute)
	t.Cleanup(func() { q.Close() })

	jobs := repository.NewJobRepository(gdb)
	arts := repository.NewArtifactRepository(gdb)
	chunks := repository.NewChunkRepository(gdb)
	graph := repository.NewGraphRepository(gdb)

	det := collab.NewDeterministic()

	deps := &pipeline.Deps{
		Blobs:             store,
		Jobs:              jobs,
		Artifacts:         arts,
		Chunks:            chunks,
		Graph:             graph,
		Queue:             q,
		Transcriber:       det,
		Extractor:         det,
		Translator:        det,
		Summarizer:        det,
		Vision:            det,
		Embedder:          det,
		GraphExtractor:    det,
		CanonicalLanguage: "en",
		MaxRetries:        2,
		BackoffBase:       time.Millisecond,
		StageTimeout:      5 * time.Second,
		Logger:            zap.NewNop(),
	}
	gate := pipeline.NewGate(arts, q, zap.NewNop())

	return &harness{t: t, deps: deps, gate: gate, jobs: jobs, arts: arts, chunks: chunks, graph: graph, q: q}
}

// seedJobAndArtifact creates a one-file job with a document artifact whose
// original bytes are already in the blobstore, mirroring the state the
// upload handler leaves behind before publishing the first work item.
func (h *harness) seedJobAndArtifact(ctx context.Context, caseName, text string) (*db.Job, *db.Artifact) {
	h.t.Helper()

	owner := uuid.New()
	job := &db.Job{
		OwnerUserID:   owner,
		SupervisorID:  owner,
		CaseName:      caseName,
		StoragePrefix: "jobs/" + owner.String(),
		TotalFiles:    1,
		Status:        "queued",
	}
	require.NoError(h.t, h.jobs.Create(ctx, job))

	artifact := &db.Artifact{
		JobID:            job.ID,
		OriginalFilename: "evidence.txt",
		MediaType:        queue.QueueDocument,
		Status:           "queued",
	}
	require.NoError(h.t, h.arts.Create(ctx, artifact))

	blobPath := job.ID + "/evidence.txt"
	require.NoError(h.t, h.deps.Blobs.Put(ctx, blobPath, strings.NewReader(text)))

	return job, artifact
}

// runOneDelivery runs runner's consume loop for a fixed 200ms window, long
// enough for the one seeded delivery to run to completion (stage loop,
// ack/nack, gate recheck), then cancels it.
func runOneDelivery(t *testing.T, ctx context.Context, runner *pipeline.Runner) {
	t.Helper()
	runCtx, cancel := context.WithCancel(ctx)

	// The consume loop only exits on context cancellation, so cancel after
	// a fixed delay; Run then waits for the in-flight delivery to finish.
	go func() {
		<-time.After(200 * time.Millisecond)
		cancel()
	}()
	err := runner.Run(runCtx)
	assert.NoError(t, err)
}

func TestScenario_DocumentThenGraph_SingleArtifactJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, artifact := h.seedJobAndArtifact(ctx, "case-scenario-1", "Jane Doe met John Roe at the warehouse.")

	require.NoError(t, h.q.Publish(ctx, queue.QueueDocument, queue.WorkItem{
		JobID:      job.ID,
		ArtifactID: artifact.ID.String(),
		BlobPath:   job.ID + "/evidence.txt",
		Filename:   artifact.OriginalFilename,
		MediaType:  queue.QueueDocument,
	}))

	docRunner := pipeline.NewRunner(queue.QueueDocument, queue.QueueDocument, pipeline.DocumentStages(), "awaiting_graph", h.deps, h.gate, 1)
	runOneDelivery(t, ctx, docRunner)

	reloaded, err := h.arts.GetByID(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_graph", reloaded.Status)

	chunks, err := h.chunks.ListByArtifact(ctx, artifact.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks, "embeddings stage must have persisted at least one chunk")

	// The gate must have auto-published the graph work item once the
	// job's only artifact reached awaiting_graph.
	graphRunner := pipeline.NewRunner(queue.QueueGraph, queue.QueueGraph, pipeline.GraphStages(), "completed", h.deps, h.gate, 1)
	runOneDelivery(t, ctx, graphRunner)

	reloaded, err = h.arts.GetByID(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", reloaded.Status)

	nodes, err := h.graph.NodesByCase(ctx, "case-scenario-1")
	require.NoError(t, err)
	assert.NotEmpty(t, nodes, "graph stage must have extracted at least one node")
}

// TestScenario_RedeliveredEmbeddingsStage_DoesNotDuplicateChunks drives the
// embeddings stage's redelivery path through the real Runner rather than
// calling the repository directly: the same work item is processed twice,
// simulating an ack that a worker crash lost, and the chunk count must not
// double.
func TestScenario_RedeliveredEmbeddingsStage_DoesNotDuplicateChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, artifact := h.seedJobAndArtifact(ctx, "case-scenario-2", "Repeated delivery of the same evidence file.")
	item := queue.WorkItem{
		JobID:      job.ID,
		ArtifactID: artifact.ID.String(),
		BlobPath:   job.ID + "/evidence.txt",
		Filename:   artifact.OriginalFilename,
		MediaType:  queue.QueueDocument,
	}

	docRunner := pipeline.NewRunner(queue.QueueDocument, queue.QueueDocument, pipeline.DocumentStages(), "awaiting_graph", h.deps, h.gate, 1)

	require.NoError(t, h.q.Publish(ctx, queue.QueueDocument, item))
	runOneDelivery(t, ctx, docRunner)

	first, err := h.chunks.ListByArtifact(ctx, artifact.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Redeliver the identical work item (at-least-once delivery) and run it
	// through the same sequence again.
	require.NoError(t, h.q.Publish(ctx, queue.QueueDocument, item))
	runOneDelivery(t, ctx, docRunner)

	second, err := h.chunks.ListByArtifact(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Len(t, second, len(first), "a redelivered embeddings stage must replace, not duplicate, chunk rows")
}
