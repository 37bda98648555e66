// Package pipeline implements the typed workers spec.md §4.3 describes: one
// Runner per media type, each walking a fixed, declared sequence of Stages
// for every artifact it consumes. Stages are free functions closed over a
// Deps value rather than methods on Runner, so a media type's sequence
// (stages_*.go) can be built and unit-tested independently of the consume
// loop (runner.go).
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelai/sentinel/internal/blobstore"
	"github.com/sentinelai/sentinel/internal/collab"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// Deps bundles every dependency a Stage may call into. One Deps value is
// shared (read-only after construction) by every Runner in a process.
type Deps struct {
	Blobs     blobstore.Store
	Jobs      repository.JobRepository
	Artifacts repository.ArtifactRepository
	Suspects  repository.SuspectRepository
	Chunks    repository.ChunkRepository
	Graph     repository.GraphRepository
	Queue     queue.Fabric

	Transcriber    collab.Transcriber
	Extractor      collab.DocumentExtractor
	Translator     collab.Translator
	Summarizer     collab.Summarizer
	Vision         collab.VisionAnalyzer
	Embedder       collab.Embedder
	GraphExtractor collab.GraphExtractor
	VectorIndex    collab.VectorIndex

	// CanonicalLanguage is the language translation stages normalize to.
	// Per spec.md §8 invariant 3, the translation stage is skipped iff an
	// artifact's SourceLanguage is empty or already equals this value.
	CanonicalLanguage string

	MaxRetries   int
	BackoffBase  time.Duration
	StageTimeout time.Duration

	Logger *zap.Logger
}

// StageEnv is the per-delivery working context a Stage reads and mutates.
// Text is the in-memory hand-off between stages within one pass; each stage
// that produces text also persists it to the blobstore as a derivative. A
// redelivered item does not resume from those blobs: it runs every stage of
// its sequence again from the first.
type StageEnv struct {
	Deps     *Deps
	Item     queue.WorkItem
	Artifact *db.Artifact

	// Text is the full working text handed between stages (extracted,
	// transcribed, or translated document content). Summary is kept
	// separate so a later stage can still reach the full text after
	// summarization has run.
	Text    string
	Summary string
	Frames  [][]byte
}

// Stage is one named, observable step in a typed pipeline. Run receives a
// context carrying the stage's wall-clock budget (Deps.StageTimeout) and
// must be idempotent with respect to its outputs: re-running it overwrites
// the same blob path and metadata keyed by artifact ID + stage name, never
// appends (spec.md §4.3's idempotence contract, required because queue
// delivery is at-least-once). Skip, if non-nil, lets a stage declare itself
// a no-op for this artifact (used by the optional translation stage).
type Stage struct {
	Name string
	Skip func(env *StageEnv) bool
	Run  func(ctx context.Context, env *StageEnv) error
}

// Sequence is the ordered, type-specific list of Stages a Runner walks for
// one artifact. The final entry in every sequence hands off to the graph
// gate rather than marking the artifact complete directly — only the graph
// stage itself (GraphStages) sets status to "completed".
type Sequence struct {
	MediaType string
	QueueName string
	Stages    []Stage
}
