package pipeline

import (
	"context"

	"github.com/sentinelai/sentinel/internal/apierr"
)

func extractionStage() Stage {
	return Stage{
		Name: "extraction",
		Run: func(ctx context.Context, env *StageEnv) error {
			blob, err := readOriginal(ctx, env)
			if err != nil {
				return err
			}
			text, err := env.Deps.Extractor.Extract(ctx, blob, env.Artifact.SourceLanguage)
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "document extraction", err)
			}
			env.Text = text
			return writeDerivative(ctx, env, "extraction", text)
		},
	}
}

// DocumentStages is the fixed stage sequence spec.md §4.3 declares for
// documents: extraction -> (optional) translation -> summarization ->
// embeddings -> awaiting_graph.
func DocumentStages() []Stage {
	return []Stage{
		extractionStage(),
		translationStage(),
		summarizationStage(),
		embeddingsStage(),
	}
}
