// Package collab declares the collaborator interfaces spec.md §6 keeps
// opaque to the core: the specific AI models (ASR, OCR, translation, LLM
// summarization, vision, NER-to-graph), the vector index, and the graph
// database. internal/pipeline depends only on these interfaces; Deterministic
// is the stand-in implementation wired by default so the pipeline is
// runnable and testable without any of the excluded model integrations.
package collab

import "context"

// TranscriptSegment is one timed slice of a Transcriber's output.
type TranscriptSegment struct {
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// Transcriber turns audio into text. blob is the raw audio bytes; language
// is an optional BCP-47 hint.
type Transcriber interface {
	Transcribe(ctx context.Context, blob []byte, language string) (text string, segments []TranscriptSegment, err error)
}

// DocumentExtractor turns a document blob (PDF, DOCX, plain text, ...) into
// plain text with structure markers preserved (e.g. "\f" for a page break).
type DocumentExtractor interface {
	Extract(ctx context.Context, blob []byte, language string) (text string, err error)
}

// Translator translates text between two BCP-47 language codes.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Summarizer produces a bounded-length summary of text. hints are free-form
// guidance (e.g. the job's case name) the implementation may use to steer
// the summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string, hints map[string]string) (string, error)
}

// VisionAnalyzer describes the content of a sequence of video frames.
type VisionAnalyzer interface {
	AnalyzeFrames(ctx context.Context, frames [][]byte) (description string, err error)
}

// Embedder produces fixed-dimensional dense vectors for a batch of text
// chunks, aligned by index with the input slice.
type Embedder interface {
	Embed(ctx context.Context, chunks []string) ([][]float32, error)
}

// ExtractedNode and ExtractedEdge are the raw output of a GraphExtractor,
// before case-scoped deduplication (internal/repository.GraphRepository
// owns that step).
type ExtractedNode struct {
	Label string
	Type  string
}

type ExtractedEdge struct {
	SourceLabel string
	TargetLabel string
	Type        string
}

// GraphExtractor extracts entities and typed relations from text. Named
// ExtractGraph (not Extract) so a single type can implement both this and
// DocumentExtractor without a method-signature collision — Deterministic
// does exactly that.
type GraphExtractor interface {
	ExtractGraph(ctx context.Context, text string) (nodes []ExtractedNode, edges []ExtractedEdge, err error)
}

// VectorMatch is one result of a VectorIndex similarity search.
type VectorMatch struct {
	ChunkID string
	Score   float64
}

// VectorIndex is the collaborator that provides similarity search over
// Chunk embeddings. The metadata store only persists the raw vector
// (internal/db.Embedding); a real similarity index is this collaborator's
// responsibility.
type VectorIndex interface {
	Insert(ctx context.Context, chunkID string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, vector []float32, k int) ([]VectorMatch, error)
}

// GraphDatabase is the read-side collaborator spec.md §6 names — used only
// by external readers of the knowledge graph, never by this core's writes
// (those go through internal/repository.GraphRepository directly against
// the metadata store). Declared here for interface completeness.
type GraphDatabase interface {
	UpsertNode(ctx context.Context, label, nodeType string, properties map[string]any) (string, error)
	UpsertEdge(ctx context.Context, sourceID, targetID, edgeType string) error
	Query(ctx context.Context, caseName string) (nodes []ExtractedNode, edges []ExtractedEdge, err error)
}
