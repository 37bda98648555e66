package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelai/sentinel/internal/apierr"
	"github.com/sentinelai/sentinel/internal/metrics"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// Runner is a bounded-concurrency consumer loop for one media type: it pulls
// work items off a single queue and, for each, walks a declared []Stage to
// completion (or failure), then acks or nacks the delivery. Different
// artifacts may be processed concurrently up to PoolSize; for a single
// artifact, stages always run sequentially on one goroutine, keeping stage
// timing accurate (spec.md §5's scheduling model).
type Runner struct {
	mediaType      string
	queueName      string
	stages         []Stage
	terminalStatus string // "awaiting_graph" for every media type except graph, which is "completed"

	deps     *Deps
	gate     *Gate
	poolSize int
}

// NewRunner builds a Runner for one media type. terminalStatus is the
// Status an artifact takes on after its last stage succeeds —
// "awaiting_graph" for document/audio/video/cdr, "completed" for graph.
func NewRunner(mediaType, queueName string, stages []Stage, terminalStatus string, deps *Deps, gate *Gate, poolSize int) *Runner {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Runner{
		mediaType:      mediaType,
		queueName:      queueName,
		stages:         stages,
		terminalStatus: terminalStatus,
		deps:           deps,
		gate:           gate,
		poolSize:       poolSize,
	}
}

// Run consumes queueName until ctx is canceled, processing up to PoolSize
// deliveries concurrently. It returns once every in-flight delivery has
// finished.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.poolSize)

	for {
		delivery, err := r.deps.Queue.Consume(ctx, r.queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			r.deps.Logger.Error("consume failed", zap.String("queue", r.queueName), zap.Error(err))
			continue
		}

		d := delivery
		g.Go(func() error {
			r.processDelivery(gctx, d)
			return nil
		})
	}

	return g.Wait()
}

// processDelivery runs the declared stage sequence for one delivery,
// publishing status events and updating the Artifact/Job rows as it goes.
// It never returns an error — every failure path either nacks the delivery
// for redelivery or fails the artifact outright, both terminal from the
// caller's perspective.
func (r *Runner) processDelivery(ctx context.Context, delivery *queue.Delivery) {
	item := delivery.Item

	artifactID, err := uuid.Parse(item.ArtifactID)
	if err != nil {
		r.deps.Logger.Error("malformed artifact id in work item", zap.String("artifact_id", item.ArtifactID))
		_ = r.deps.Queue.Nack(ctx, r.queueName, delivery, "malformed artifact_id", 0, r.deps.BackoffBase)
		return
	}

	artifact, err := r.deps.Artifacts.GetByID(ctx, artifactID)
	if err != nil {
		r.deps.Logger.Error("loading artifact", zap.String("artifact_id", item.ArtifactID), zap.Error(err))
		_ = r.deps.Queue.Nack(ctx, r.queueName, delivery, "artifact lookup failed", r.deps.MaxRetries, r.deps.BackoffBase)
		return
	}

	env := &StageEnv{Deps: r.deps, Item: item, Artifact: artifact}

	for i, stage := range r.stages {
		if stage.Skip != nil && stage.Skip(env) {
			continue
		}

		r.publishEvent(ctx, env, queue.StatusEvent{
			Status:           "processing",
			CurrentStage:     stage.Name,
			ProcessingStages: artifact.StageTimings.Data(),
		})

		stageCtx := ctx
		var cancel context.CancelFunc
		if r.deps.StageTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, r.deps.StageTimeout)
		}
		start := time.Now()
		runErr := stage.Run(stageCtx, env)
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(start).Seconds()

		if runErr != nil {
			metrics.StageDuration.WithLabelValues(r.mediaType, stage.Name, "failure").Observe(elapsed)
			r.handleStageError(ctx, delivery, env, stage.Name, runErr)
			return
		}
		metrics.StageDuration.WithLabelValues(r.mediaType, stage.Name, "success").Observe(elapsed)

		nextStatus := "processing"
		if i == len(r.stages)-1 {
			nextStatus = r.terminalStatus
		}
		if err := r.deps.Artifacts.UpdateStage(ctx, artifact.ID, stage.Name, nextStatus, elapsed); err != nil {
			r.deps.Logger.Error("recording stage completion", zap.String("stage", stage.Name), zap.Error(err))
		}
		artifact.CurrentStage = stage.Name
		artifact.Status = nextStatus
	}

	r.publishEvent(ctx, env, queue.StatusEvent{
		Status:           artifact.Status,
		CurrentStage:     artifact.CurrentStage,
		ProcessingStages: artifact.StageTimings.Data(),
	})
	metrics.ArtifactsProcessed.WithLabelValues(r.mediaType, artifact.Status).Inc()

	if err := r.deps.Queue.Ack(ctx, r.queueName, delivery); err != nil {
		r.deps.Logger.Error("ack failed", zap.String("queue", r.queueName), zap.Error(err))
	}

	switch r.terminalStatus {
	case "awaiting_graph":
		if err := r.gate.Recheck(ctx, item.JobID); err != nil {
			r.deps.Logger.Error("graph gate recheck", zap.String("job_id", item.JobID), zap.Error(err))
		}
	case "completed":
		r.bumpJobCounters(ctx, item.JobID, 1, 0)
	}
}

// handleStageError classifies a stage failure and either returns the
// delivery to the queue for redelivery (nack, still-live artifact) or marks
// the artifact permanently failed (retries exhausted, or a non-retryable
// Kind — poison/fatal skip the normal retry budget entirely per spec.md
// §7's error taxonomy).
func (r *Runner) handleStageError(ctx context.Context, delivery *queue.Delivery, env *StageEnv, stageName string, cause error) {
	kind := apierr.KindStageFailed
	var classified *apierr.Error
	if errors.As(cause, &classified) {
		kind = classified.Kind
	}

	maxRetries := r.deps.MaxRetries
	if !kind.Retryable() {
		maxRetries = 0
	}

	if env.Item.Attempt+1 > maxRetries {
		r.failArtifact(ctx, env, stageName, cause)
	} else {
		r.publishEvent(ctx, env, queue.StatusEvent{
			Status:       "processing",
			CurrentStage: stageName,
			ErrorMessage: cause.Error(),
		})
	}

	if err := r.deps.Queue.Nack(ctx, r.queueName, delivery, cause.Error(), maxRetries, r.deps.BackoffBase); err != nil {
		r.deps.Logger.Error("nack failed", zap.String("queue", r.queueName), zap.Error(err))
	}
}

// failArtifact records a terminal failure, publishes the failed status
// event, bumps the job's failed-file counter, and — for a non-graph
// artifact — rechecks the gate, since a failed artifact can be the last
// one the gate was waiting on.
func (r *Runner) failArtifact(ctx context.Context, env *StageEnv, stageName string, cause error) {
	diagnostic := fmt.Sprintf("%s: %v", stageName, cause)
	if err := r.deps.Artifacts.SetError(ctx, env.Artifact.ID, diagnostic); err != nil {
		r.deps.Logger.Error("recording artifact failure", zap.Error(err))
	}
	metrics.ArtifactsProcessed.WithLabelValues(r.mediaType, "failed").Inc()

	r.publishEvent(ctx, env, queue.StatusEvent{
		Status:       "failed",
		CurrentStage: stageName,
		ErrorMessage: cause.Error(),
	})

	r.bumpJobCounters(ctx, env.Item.JobID, 0, 1)

	if r.mediaType != queue.QueueGraph {
		if err := r.gate.Recheck(ctx, env.Item.JobID); err != nil {
			r.deps.Logger.Error("graph gate recheck after failure", zap.String("job_id", env.Item.JobID), zap.Error(err))
		}
	}
}

// bumpJobCounters retries IncrementCounters's optimistic-concurrency CAS
// against fresh Version reads, up to maxAttempts times — concurrent workers
// finishing sibling artifacts in the same job are the expected source of
// contention, not an error condition. Running out of attempts is logged and
// the update is dropped.
func (r *Runner) bumpJobCounters(ctx context.Context, jobID string, processedDelta, failedDelta int) {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		job, err := r.deps.Jobs.GetByID(ctx, jobID)
		if err != nil {
			r.deps.Logger.Error("loading job for counter update", zap.String("job_id", jobID), zap.Error(err))
			return
		}

		err = r.deps.Jobs.IncrementCounters(ctx, jobID, processedDelta, failedDelta, job.Version)
		if err == nil {
			return
		}
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		r.deps.Logger.Error("incrementing job counters", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	r.deps.Logger.Error("exhausted retries incrementing job counters", zap.String("job_id", jobID))
}

func (r *Runner) publishEvent(ctx context.Context, env *StageEnv, event queue.StatusEvent) {
	event.Type = "artifact_status"
	event.JobID = env.Item.JobID
	event.ArtifactID = env.Artifact.ID.String()
	event.Filename = env.Item.Filename
	if err := r.deps.Queue.PublishStatus(ctx, env.Item.JobID, event); err != nil {
		r.deps.Logger.Warn("publishing status event", zap.String("job_id", env.Item.JobID), zap.Error(err))
	}
}
