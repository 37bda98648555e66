package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// Gate implements spec.md §4.3's cross-artifact ordering rule: the graph
// stage for a job's artifacts only runs once every non-failed artifact in
// that job has reached awaiting_graph. A failed artifact does not block the
// gate — "all upstream artifacts" is read as "all upstream artifacts that
// are still live."
//
// triggered is an in-process dedup optimization, not a correctness
// requirement: publishing a job's graph work items twice is harmless (the
// graph stage is idempotent), so a process restart losing this map only
// costs a few redundant re-checks, never a missed or duplicated graph run.
type Gate struct {
	mu        sync.Mutex
	triggered map[string]bool

	artifacts repository.ArtifactRepository
	q         queue.Fabric
	logger    *zap.Logger
}

// NewGate builds a Gate over the given artifact repository and queue fabric.
func NewGate(artifacts repository.ArtifactRepository, q queue.Fabric, logger *zap.Logger) *Gate {
	return &Gate{
		triggered: make(map[string]bool),
		artifacts: artifacts,
		q:         q,
		logger:    logger.Named("graphgate"),
	}
}

// Recheck is called after any artifact in jobID transitions to
// awaiting_graph or failed. It re-derives the job's live/awaiting counts
// from the current artifact rows and, once every live artifact has reached
// awaiting_graph, enqueues one graph work item per awaiting artifact.
func (g *Gate) Recheck(ctx context.Context, jobID string) error {
	all, err := g.artifacts.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("graphgate: listing artifacts for job %s: %w", jobID, err)
	}

	var live, awaiting int
	var ready []string
	for _, artifact := range all {
		if artifact.Status == "failed" {
			continue
		}
		live++
		if artifact.Status == "awaiting_graph" {
			awaiting++
			ready = append(ready, artifact.ID.String())
		}
	}
	if live == 0 || awaiting < live {
		return nil
	}

	g.mu.Lock()
	if g.triggered[jobID] {
		g.mu.Unlock()
		return nil
	}
	g.triggered[jobID] = true
	g.mu.Unlock()

	for _, artifact := range all {
		if artifact.Status != "awaiting_graph" {
			continue
		}
		path := artifact.BlobPaths.Data()[graphInputRole]
		item := queue.WorkItem{
			JobID:      jobID,
			ArtifactID: artifact.ID.String(),
			BlobPath:   path,
			Filename:   artifact.OriginalFilename,
			MediaType:  queue.QueueGraph,
		}
		if err := g.q.Publish(ctx, queue.QueueGraph, item); err != nil {
			g.logger.Error("publishing graph work item",
				zap.String("job_id", jobID),
				zap.String("artifact_id", artifact.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
