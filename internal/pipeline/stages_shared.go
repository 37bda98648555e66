package pipeline

import (
	"context"
	"fmt"

	"gorm.io/datatypes"

	"github.com/sentinelai/sentinel/internal/apierr"
	"github.com/sentinelai/sentinel/internal/db"
)

// translationStage is shared by every media type whose sequence includes an
// optional translation step. It is skipped iff the artifact's
// SourceLanguage is empty or already the canonical language (spec.md §8
// invariant 3).
func translationStage() Stage {
	return Stage{
		Name: "translation",
		Skip: func(env *StageEnv) bool {
			return env.Artifact.SourceLanguage == "" || env.Artifact.SourceLanguage == env.Deps.CanonicalLanguage
		},
		Run: func(ctx context.Context, env *StageEnv) error {
			translated, err := env.Deps.Translator.Translate(ctx, env.Text, env.Artifact.SourceLanguage, env.Deps.CanonicalLanguage)
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "translation", err)
			}
			env.Text = translated
			return writeDerivative(ctx, env, "translation", translated)
		},
	}
}

// summarizationStage is shared by every media type.
func summarizationStage() Stage {
	return Stage{
		Name: "summarization",
		Run: func(ctx context.Context, env *StageEnv) error {
			hints := map[string]string{"job_id": env.Item.JobID}
			summary, err := env.Deps.Summarizer.Summarize(ctx, env.Text, hints)
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "summarization", err)
			}
			env.Summary = summary
			env.Artifact.SummaryText = summary
			if err := env.Deps.Artifacts.Update(ctx, env.Artifact); err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "persisting summary text", err)
			}
			return writeDerivative(ctx, env, "summarization", summary)
		},
	}
}

// chunkSize bounds each retrieval chunk produced by the embeddings stage.
// Small enough to keep Deterministic's brute-force vector index usable in
// tests, large enough to produce more than one chunk for realistic inputs.
const chunkSize = 1000

// embeddingsStage is shared by every media type that ends its own sequence
// with embeddings (document, audio, video). It is also the hand-off point
// to the graph stage: after indexing, it writes the "graph_input" blob role
// the graph worker reads.
func embeddingsStage() Stage {
	return Stage{
		Name: "embeddings",
		Run: func(ctx context.Context, env *StageEnv) error {
			chunks := splitIntoChunks(env.Text, chunkSize)
			if len(chunks) == 0 {
				chunks = []string{env.Text}
			}

			vectors, err := env.Deps.Embedder.Embed(ctx, chunks)
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "embedding", err)
			}
			if len(vectors) != len(chunks) {
				return apierr.New(apierr.KindFatal, "embedder returned a mismatched vector count")
			}

			rows := make([]db.Chunk, len(chunks))
			for i, text := range chunks {
				rows[i] = db.Chunk{
					ArtifactID: env.Artifact.ID,
					Index:      i,
					Text:       text,
					Embedding:  datatypes.NewJSONType(db.Embedding(vectors[i])),
					Metadata:   datatypes.NewJSONType(map[string]any{"job_id": env.Item.JobID}),
				}
			}
			// A redelivered embeddings stage must not duplicate chunk rows
			// (at-least-once delivery; see this package's idempotence
			// contract), so any chunks from a prior attempt are cleared
			// before the fresh batch is inserted.
			if err := env.Deps.Chunks.DeleteByArtifact(ctx, env.Artifact.ID); err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "clearing prior chunks", err)
			}
			if err := env.Deps.Chunks.BulkCreate(ctx, rows); err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "persisting chunks", err)
			}

			if env.Deps.VectorIndex != nil {
				for i := range rows {
					chunkID := fmt.Sprintf("%s:%d", env.Artifact.ID, i)
					if err := env.Deps.VectorIndex.Insert(ctx, chunkID, vectors[i], map[string]any{
						"artifact_id": env.Artifact.ID.String(),
						"job_id":      env.Item.JobID,
					}); err != nil {
						return apierr.Wrap(apierr.KindTransientIO, "indexing chunk vector", err)
					}
				}
			}

			return writeDerivative(ctx, env, "graph_input", env.Text)
		},
	}
}

func splitIntoChunks(text string, size int) []string {
	if len(text) <= size {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); start += size {
		end := min(start+size, len(text))
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
