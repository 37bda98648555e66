package pipeline

import (
	"context"

	"github.com/sentinelai/sentinel/internal/apierr"
)

// frameCount is the fixed number of byte-slices frameExtractionStage splits
// a video blob into. There is no real video decoder behind this — it is a
// deterministic stand-in so videoAnalysisStage always has a non-empty
// frame list to hand to the VisionAnalyzer collaborator.
const frameCount = 8

func frameExtractionStage() Stage {
	return Stage{
		Name: "frame_extraction",
		Run: func(ctx context.Context, env *StageEnv) error {
			blob, err := readOriginal(ctx, env)
			if err != nil {
				return err
			}
			env.Frames = splitBytes(blob, frameCount)
			return nil
		},
	}
}

func videoAnalysisStage() Stage {
	return Stage{
		Name: "video_analysis",
		Run: func(ctx context.Context, env *StageEnv) error {
			description, err := env.Deps.Vision.AnalyzeFrames(ctx, env.Frames)
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "video analysis", err)
			}
			env.Text = description
			return writeDerivative(ctx, env, "video_analysis", description)
		},
	}
}

// splitBytes divides blob into at most n roughly equal contiguous slices.
func splitBytes(blob []byte, n int) [][]byte {
	if len(blob) == 0 || n <= 0 {
		return nil
	}
	size := (len(blob) + n - 1) / n
	frames := make([][]byte, 0, n)
	for start := 0; start < len(blob); start += size {
		end := min(start+size, len(blob))
		frames = append(frames, blob[start:end])
	}
	return frames
}

// VideoStages is the fixed stage sequence spec.md §4.3 declares for video:
// frame_extraction -> video_analysis -> (optional) translation ->
// summarization -> embeddings -> awaiting_graph.
func VideoStages() []Stage {
	return []Stage{
		frameExtractionStage(),
		videoAnalysisStage(),
		translationStage(),
		summarizationStage(),
		embeddingsStage(),
	}
}
