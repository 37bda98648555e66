package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sentinelai/sentinel/internal/db"
	"gorm.io/gorm"
)

// gormJobRepository is the GORM implementation of JobRepository.
type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

// Create inserts a new job record.
func (r *gormJobRepository) Create(ctx context.Context, job *db.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its hierarchical ID.
// Returns ErrNotFound if no record exists.
func (r *gormJobRepository) GetByID(ctx context.Context, id string) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// GetByIDWithArtifacts retrieves a job together with its Artifact and
// Suspect records using three separate queries, because GORM cannot
// auto-resolve foreign keys against the TEXT/UUID primary keys used here.
func (r *gormJobRepository) GetByIDWithArtifacts(ctx context.Context, id string) (*db.Job, []db.Artifact, []db.Suspect, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, fmt.Errorf("jobs: get by id with artifacts: %w", err)
	}

	var artifacts []db.Artifact
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("created_at ASC").
		Find(&artifacts).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("jobs: get artifacts for job %s: %w", id, err)
	}

	var suspects []db.Suspect
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Find(&suspects).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("jobs: get suspects for job %s: %w", id, err)
	}

	return &job, artifacts, suspects, nil
}

// IncrementCounters advances ProcessedFiles/FailedFiles by the given deltas
// and derives the job's terminal Status from the updated totals, guarded by
// a compare-and-set on Version. If expectVersion no longer matches the
// stored version — because a concurrent worker already applied its own
// delta — the update touches zero rows and ErrConflict is returned so the
// caller can reload the job and retry with the fresh version.
func (r *gormJobRepository) IncrementCounters(ctx context.Context, id string, processedDelta, failedDelta int, expectVersion int64) error {
	var job db.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("jobs: increment counters: load: %w", err)
	}

	processed := job.ProcessedFiles + processedDelta
	failed := job.FailedFiles + failedDelta

	status := job.Status
	if processed+failed >= job.TotalFiles {
		switch {
		case failed == 0:
			status = "completed"
		case processed == 0:
			status = "failed"
		default:
			status = "partial"
		}
	} else {
		status = "processing"
	}

	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND version = ?", id, expectVersion).
		Updates(map[string]interface{}{
			"processed_files": processed,
			"failed_files":    failed,
			"status":          status,
			"version":         expectVersion + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: increment counters: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SetStatus unconditionally overwrites status and error, independent of the
// counter CAS loop. Called by the upload handler when publishing fails and by
// the retention sweeper.
func (r *gormJobRepository) SetStatus(ctx context.Context, id string, status string, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": status,
			"error":  errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: set status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of jobs, optionally scoped by JobIDPrefix,
// ordered by creation time descending.
func (r *gormJobRepository) List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error) {
	query := r.db.WithContext(ctx).Model(&db.Job{})
	if opts.JobIDPrefix != "" {
		query = query.Where("id LIKE ?", opts.JobIDPrefix+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list count: %w", err)
	}

	var jobs []db.Job
	listQuery := r.db.WithContext(ctx).Model(&db.Job{})
	if opts.JobIDPrefix != "" {
		listQuery = listQuery.Where("id LIKE ?", opts.JobIDPrefix+"%")
	}
	if err := listQuery.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list: %w", err)
	}

	return jobs, total, nil
}

// ListByCase returns a paginated list of jobs for a given case, optionally
// scoped by JobIDPrefix, ordered by creation time descending.
func (r *gormJobRepository) ListByCase(ctx context.Context, caseName string, opts ListOptions) ([]db.Job, int64, error) {
	base := r.db.WithContext(ctx).Model(&db.Job{}).Where("case_name = ?", caseName)
	if opts.JobIDPrefix != "" {
		base = base.Where("id LIKE ?", opts.JobIDPrefix+"%")
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by case count: %w", err)
	}

	listQuery := r.db.WithContext(ctx).Model(&db.Job{}).Where("case_name = ?", caseName)
	if opts.JobIDPrefix != "" {
		listQuery = listQuery.Where("id LIKE ?", opts.JobIDPrefix+"%")
	}

	var jobs []db.Job
	if err := listQuery.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by case: %w", err)
	}

	return jobs, total, nil
}

// ListCaseNames returns the distinct case names visible under jobIDPrefix,
// ordered alphabetically.
func (r *gormJobRepository) ListCaseNames(ctx context.Context, jobIDPrefix string) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&db.Job{})
	if jobIDPrefix != "" {
		query = query.Where("id LIKE ?", jobIDPrefix+"%")
	}

	var names []string
	if err := query.
		Distinct("case_name").
		Order("case_name ASC").
		Pluck("case_name", &names).Error; err != nil {
		return nil, fmt.Errorf("jobs: list case names: %w", err)
	}
	return names, nil
}
