// Package sweeper implements spec.md §9's resolved open question on blob
// garbage collection: a gocron-scheduled background task that deletes the
// storage prefix of jobs that failed and have sat past a configured
// retention window. It reuses gocron from the teacher's internal/scheduler
// for a new purpose — sweeping orphaned blobs, not dispatching backup jobs.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/sentinelai/sentinel/internal/blobstore"
	"github.com/sentinelai/sentinel/internal/repository"
)

// Sweeper periodically sweeps failed jobs' blob prefixes once they are
// older than Retention. The zero value is not usable — create instances
// with New.
type Sweeper struct {
	cron   gocron.Scheduler
	jobs   repository.JobRepository
	blobs  blobstore.Store
	logger *zap.Logger

	retention time.Duration
	interval  time.Duration
}

// Config controls sweep timing.
type Config struct {
	// Retention is how long a failed job's blobs are kept before deletion.
	Retention time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
}

// New creates a Sweeper. Call Start to begin running on Interval.
func New(jobs repository.JobRepository, blobs blobstore.Store, cfg Config, logger *zap.Logger) (*Sweeper, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("sweeper: creating scheduler: %w", err)
	}
	return &Sweeper{
		cron:      cron,
		jobs:      jobs,
		blobs:     blobs,
		logger:    logger.Named("sweeper"),
		retention: cfg.Retention,
		interval:  cfg.Interval,
	}, nil
}

// Start registers the recurring sweep and starts the underlying gocron
// scheduler. Should be called once at server startup.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("blob gc sweep failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("sweeper: scheduling sweep job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval), zap.Duration("retention", s.retention))
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for any in-flight sweep
// to finish.
func (s *Sweeper) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("sweeper: shutdown: %w", err)
	}
	s.logger.Info("sweeper stopped")
	return nil
}

// pageSize bounds how many job rows Sweep holds in memory per listing page.
const pageSize = 200

// Sweep lists every job, and for each one that is failed, has a non-empty
// StoragePrefix and has sat past Retention since its last update, deletes
// its storage prefix from the blobstore and records "blobs purged by
// retention sweep" as the job's error through SetStatus, replacing the
// earlier error text. StoragePrefix is not cleared, so a later sweep that
// finds the job eligible again deletes the already-empty prefix again,
// which is harmless.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	swept, skipped := 0, 0

	for offset := 0; ; offset += pageSize {
		jobs, total, err := s.jobs.List(ctx, repository.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("sweeper: listing jobs: %w", err)
		}

		for _, job := range jobs {
			if job.Status != "failed" || job.StoragePrefix == "" || job.UpdatedAt.After(cutoff) {
				skipped++
				continue
			}
			if err := s.blobs.DeletePrefix(ctx, job.StoragePrefix); err != nil {
				s.logger.Warn("deleting blob prefix", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			if err := s.jobs.SetStatus(ctx, job.ID, job.Status, "blobs purged by retention sweep"); err != nil {
				s.logger.Warn("recording purge on job", zap.String("job_id", job.ID), zap.Error(err))
			}
			swept++
			s.logger.Info("swept job blobs", zap.String("job_id", job.ID), zap.String("prefix", job.StoragePrefix))
		}

		if offset+len(jobs) >= int(total) || len(jobs) == 0 {
			break
		}
	}

	s.logger.Debug("sweep complete", zap.Int("swept", swept), zap.Int("skipped", skipped))
	return nil
}
