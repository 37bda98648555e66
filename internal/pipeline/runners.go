package pipeline

import "github.com/sentinelai/sentinel/internal/queue"

// BuildRunners constructs one Runner per queue spec.md §4.3 names, wired to
// the same Deps and Gate, each with its own pool size. graphPoolSize is
// kept separate from the others since the graph worker is typically
// provisioned differently (lower fan-out, since it runs after the others
// have already done the expensive collaborator work).
func BuildRunners(deps *Deps, gate *Gate, poolSize, graphPoolSize int) []*Runner {
	return []*Runner{
		NewRunner(queue.QueueDocument, queue.QueueDocument, DocumentStages(), "awaiting_graph", deps, gate, poolSize),
		NewRunner(queue.QueueAudio, queue.QueueAudio, AudioStages(), "awaiting_graph", deps, gate, poolSize),
		NewRunner(queue.QueueVideo, queue.QueueVideo, VideoStages(), "awaiting_graph", deps, gate, poolSize),
		NewRunner(queue.QueueCDR, queue.QueueCDR, CDRStages(), "awaiting_graph", deps, gate, poolSize),
		NewRunner(queue.QueueGraph, queue.QueueGraph, GraphStages(), "completed", deps, gate, graphPoolSize),
	}
}
