package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/sentinelai/sentinel/internal/apierr"
)

// parsingStage has no model collaborator — a CDR file is a structured
// record format (call detail records, typically CSV), not free-form
// content an ASR/OCR/vision model would process. Parsing it is plain Go
// using the standard library's encoding/csv; a file that does not parse as
// CSV is treated instead as one record per line, so a malformed or
// differently-delimited export still produces usable text for downstream
// stages instead of failing the whole artifact.
func parsingStage() Stage {
	return Stage{
		Name: "parsing",
		Run: func(ctx context.Context, env *StageEnv) error {
			blob, err := readOriginal(ctx, env)
			if err != nil {
				return err
			}

			rows, err := csv.NewReader(strings.NewReader(string(blob))).ReadAll()
			var lines []string
			if err != nil || len(rows) == 0 {
				lines = strings.Split(strings.TrimSpace(string(blob)), "\n")
			} else {
				for _, row := range rows {
					lines = append(lines, strings.Join(row, " | "))
				}
			}

			env.Text = strings.Join(lines, "\n")
			return writeDerivative(ctx, env, "parsing", env.Text)
		},
	}
}

// suspectMatchingStage scans the parsed records for any value recorded on
// one of the job's suspects (phone number, name, handle — whatever the
// analyst entered as a Suspect field) and annotates the working text with
// the matches found. This is plain substring matching, not a model call:
// spec.md §6 declares no collaborator interface for it, and CDR matching is
// exact-value lookup, not fuzzy entity recognition.
func suspectMatchingStage() Stage {
	return Stage{
		Name: "suspect_matching",
		Run: func(ctx context.Context, env *StageEnv) error {
			suspects, err := env.Deps.Suspects.ListByJob(ctx, env.Item.JobID)
			if err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "loading suspects for matching", err)
			}

			var matches []string
			for _, suspect := range suspects {
				for _, field := range suspect.Fields.Data() {
					if field.Value == "" {
						continue
					}
					if strings.Contains(env.Text, field.Value) {
						matches = append(matches, fmt.Sprintf("suspect %s: matched %s=%q", suspect.ID, field.Key, field.Value))
					}
				}
			}

			annotated := env.Text
			if len(matches) > 0 {
				annotated += "\n\n--- suspect matches ---\n" + strings.Join(matches, "\n")
			}
			env.Text = annotated

			// The graph stage needs the full annotated record text, not the
			// later summarization stage's condensed output, so the hand-off
			// blob is written here rather than by a dedicated embeddings
			// stage — CDR has none in its sequence.
			if err := writeDerivative(ctx, env, "suspect_matching", annotated); err != nil {
				return err
			}
			return writeDerivative(ctx, env, "graph_input", annotated)
		},
	}
}

// CDRStages is the fixed stage sequence spec.md §4.3 declares for call
// detail records: parsing -> suspect_matching -> summarization ->
// awaiting_graph.
func CDRStages() []Stage {
	return []Stage{
		parsingStage(),
		suspectMatchingStage(),
		summarizationStage(),
	}
}
