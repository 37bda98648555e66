// Package metrics holds the process-wide Prometheus collectors Sentinel AI
// exposes on /metrics. Collectors are package-level promauto registrations
// against the default registry, the same pattern promhttp.Handler()
// expects — callers just record against the exported vars, nothing here
// needs to be constructed or injected.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StageDuration records how long a single pipeline stage took to run, by
// media type, stage name, and outcome ("success" or "failure") — the
// per-stage timing breakdown spec.md §5 already tracks per-artifact in
// Artifact.StageTimings, aggregated here across every artifact for
// operational dashboards.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sentinel",
	Subsystem: "pipeline",
	Name:      "stage_duration_seconds",
	Help:      "Wall-clock time spent running a single pipeline stage.",
	Buckets:   prometheus.DefBuckets,
}, []string{"media_type", "stage", "outcome"})

// ArtifactsProcessed counts artifacts that reached a terminal status
// ("awaiting_graph", "completed", or "failed"), by media type and status.
var ArtifactsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "pipeline",
	Name:      "artifacts_total",
	Help:      "Artifacts that reached a terminal status, by media type and status.",
}, []string{"media_type", "status"})

// QueueDLQDepth is the number of entries currently dead-lettered on a
// queue, sampled whenever an operator lists a queue's DLQ — spec.md §6's
// admin DLQ inspection endpoint is the only place this repository reads
// queue depth, so that read is also where the gauge is kept fresh.
var QueueDLQDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Subsystem: "queue",
	Name:      "dlq_depth",
	Help:      "Number of entries currently sitting in a queue's dead-letter store.",
}, []string{"queue"})
