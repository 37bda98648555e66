package pipeline

import (
	"context"

	"github.com/sentinelai/sentinel/internal/apierr"
)

func transcriptionStage() Stage {
	return Stage{
		Name: "transcription",
		Run: func(ctx context.Context, env *StageEnv) error {
			blob, err := readOriginal(ctx, env)
			if err != nil {
				return err
			}
			text, _, err := env.Deps.Transcriber.Transcribe(ctx, blob, env.Artifact.SourceLanguage)
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "transcription", err)
			}
			env.Text = text
			return writeDerivative(ctx, env, "transcription", text)
		},
	}
}

// AudioStages is the fixed stage sequence spec.md §4.3 declares for audio:
// transcription -> (optional) translation -> summarization -> embeddings ->
// awaiting_graph.
func AudioStages() []Stage {
	return []Stage{
		transcriptionStage(),
		translationStage(),
		summarizationStage(),
		embeddingsStage(),
	}
}
