package repository

import (
	"context"
	"fmt"

	"github.com/sentinelai/sentinel/internal/db"
	"gorm.io/gorm"
)

// gormSuspectRepository is the GORM implementation of SuspectRepository.
type gormSuspectRepository struct {
	db *gorm.DB
}

// NewSuspectRepository returns a SuspectRepository backed by the provided *gorm.DB.
func NewSuspectRepository(db *gorm.DB) SuspectRepository {
	return &gormSuspectRepository{db: db}
}

// Create inserts a new suspect record.
func (r *gormSuspectRepository) Create(ctx context.Context, suspect *db.Suspect) error {
	if err := r.db.WithContext(ctx).Create(suspect).Error; err != nil {
		return fmt.Errorf("suspects: create: %w", err)
	}
	return nil
}

// ListByJob returns all suspects attached to a job.
func (r *gormSuspectRepository) ListByJob(ctx context.Context, jobID string) ([]db.Suspect, error) {
	var suspects []db.Suspect
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&suspects).Error; err != nil {
		return nil, fmt.Errorf("suspects: list by job: %w", err)
	}
	return suspects, nil
}
