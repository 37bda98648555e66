package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sentinelai/sentinel/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// gormArtifactRepository is the GORM implementation of ArtifactRepository.
type gormArtifactRepository struct {
	db *gorm.DB
}

// NewArtifactRepository returns an ArtifactRepository backed by the provided *gorm.DB.
func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &gormArtifactRepository{db: db}
}

// Create inserts a new artifact record.
func (r *gormArtifactRepository) Create(ctx context.Context, artifact *db.Artifact) error {
	if err := r.db.WithContext(ctx).Create(artifact).Error; err != nil {
		return fmt.Errorf("artifacts: create: %w", err)
	}
	return nil
}

// GetByID retrieves an artifact by its UUID. Returns ErrNotFound if no record exists.
func (r *gormArtifactRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Artifact, error) {
	var artifact db.Artifact
	err := r.db.WithContext(ctx).First(&artifact, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifacts: get by id: %w", err)
	}
	return &artifact, nil
}

// Update persists all fields of an existing artifact record.
func (r *gormArtifactRepository) Update(ctx context.Context, artifact *db.Artifact) error {
	result := r.db.WithContext(ctx).Save(artifact)
	if result.Error != nil {
		return fmt.Errorf("artifacts: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStage advances CurrentStage/Status and records the elapsed seconds
// for the stage just completed. The timing update reads-modifies-writes the
// StageTimings map rather than using a raw SQL JSON merge, since stage
// transitions are sequential per artifact and never contended.
func (r *gormArtifactRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage, status string, elapsedSeconds float64) error {
	var artifact db.Artifact
	if err := r.db.WithContext(ctx).First(&artifact, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("artifacts: update stage: load: %w", err)
	}

	timings := artifact.StageTimings.Data()
	if timings == nil {
		timings = db.StageTimings{}
	}
	if stage != "" {
		timings[stage] = elapsedSeconds
	}

	result := r.db.WithContext(ctx).
		Model(&db.Artifact{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage": stage,
			"status":        status,
			"stage_timings": datatypes.NewJSONType(timings),
		})
	if result.Error != nil {
		return fmt.Errorf("artifacts: update stage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBlobPath records the store path of one named derivative without
// touching other fields.
func (r *gormArtifactRepository) SetBlobPath(ctx context.Context, id uuid.UUID, role, path string) error {
	var artifact db.Artifact
	if err := r.db.WithContext(ctx).First(&artifact, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("artifacts: set blob path: load: %w", err)
	}

	paths := artifact.BlobPaths.Data()
	if paths == nil {
		paths = db.BlobPaths{}
	}
	paths[role] = path

	result := r.db.WithContext(ctx).
		Model(&db.Artifact{}).
		Where("id = ?", id).
		Update("blob_paths", datatypes.NewJSONType(paths))
	if result.Error != nil {
		return fmt.Errorf("artifacts: set blob path: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetError records a terminal error message and marks the artifact failed.
func (r *gormArtifactRepository) SetError(ctx context.Context, id uuid.UUID, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Artifact{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": "failed",
			"error":  errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("artifacts: set error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByJob returns all artifacts for a job, ordered by creation time.
func (r *gormArtifactRepository) ListByJob(ctx context.Context, jobID string) ([]db.Artifact, error) {
	var artifacts []db.Artifact
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("artifacts: list by job: %w", err)
	}
	return artifacts, nil
}

// ListByJobAndStatus narrows ListByJob by one or more statuses.
func (r *gormArtifactRepository) ListByJobAndStatus(ctx context.Context, jobID string, statuses ...string) ([]db.Artifact, error) {
	var artifacts []db.Artifact
	if err := r.db.WithContext(ctx).
		Where("job_id = ? AND status IN ?", jobID, statuses).
		Order("created_at ASC").
		Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("artifacts: list by job and status: %w", err)
	}
	return artifacts, nil
}
