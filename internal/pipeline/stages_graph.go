package pipeline

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/sentinelai/sentinel/internal/apierr"
	"github.com/sentinelai/sentinel/internal/db"
)

// graphBuildingStage implements spec.md §4.3's "Graph stage specifics": it
// consumes the text handed off by an artifact's upstream stages, extracts
// entities and typed relations, and writes GraphNodes/GraphEdges with
// artifact provenance. Node dedup by (CaseName, Type, LabelNormalized) is
// internal/repository.GraphRepository's job — this stage only supplies the
// normalized key and lets UpsertNode decide new-vs-existing.
func graphBuildingStage() Stage {
	return Stage{
		Name: "graph_building",
		Run: func(ctx context.Context, env *StageEnv) error {
			path, ok := env.Artifact.BlobPaths.Data()[graphInputRole]
			if !ok || path == "" {
				return apierr.New(apierr.KindFatal, "artifact reached the graph stage with no graph_input blob recorded")
			}

			r, err := env.Deps.Blobs.Get(ctx, path)
			if err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "reading graph_input blob", err)
			}
			text, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "reading graph_input blob body", err)
			}

			job, err := env.Deps.Jobs.GetByID(ctx, env.Item.JobID)
			if err != nil {
				return apierr.Wrap(apierr.KindTransientIO, "loading job for case name", err)
			}

			nodes, edges, err := env.Deps.GraphExtractor.ExtractGraph(ctx, string(text))
			if err != nil {
				return apierr.Wrap(apierr.KindStageFailed, "graph extraction", err)
			}

			nodeIDs := make(map[string]uuid.UUID, len(nodes))

			for _, node := range nodes {
				id, err := env.Deps.Graph.UpsertNode(ctx, &db.GraphNode{
					CaseName:        job.CaseName,
					Label:           node.Label,
					LabelNormalized: normalizeLabel(node.Label),
					Type:            node.Type,
				})
				if err != nil {
					return apierr.Wrap(apierr.KindTransientIO, "upserting graph node", err)
				}
				if err := env.Deps.Graph.AddProvenance(ctx, id, env.Artifact.ID); err != nil {
					return apierr.Wrap(apierr.KindTransientIO, "recording graph provenance", err)
				}
				nodeIDs[node.Label] = id
			}

			for _, edge := range edges {
				sourceID, ok := nodeIDs[edge.SourceLabel]
				if !ok {
					continue
				}
				targetID, ok := nodeIDs[edge.TargetLabel]
				if !ok {
					continue
				}
				if err := env.Deps.Graph.CreateEdge(ctx, &db.GraphEdge{
					SourceNodeID: sourceID,
					TargetNodeID: targetID,
					Type:         edge.Type,
				}); err != nil {
					return apierr.Wrap(apierr.KindTransientIO, "creating graph edge", err)
				}
			}

			return nil
		},
	}
}

// graphInputRole is the BlobPaths key every non-graph sequence writes
// before its artifact reaches awaiting_graph.
const graphInputRole = "graph_input"

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// GraphStages is the fixed stage sequence spec.md §4.3 declares for the
// graph worker: graph_building -> completed.
func GraphStages() []Stage {
	return []Stage{graphBuildingStage()}
}
