package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelai/sentinel/internal/db"
	"gorm.io/gorm"
)

// gormActivityRepository is the GORM implementation of ActivityRepository.
type gormActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository returns an ActivityRepository backed by the provided *gorm.DB.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &gormActivityRepository{db: db}
}

// Record appends a new activity log entry. The log is append-only — there
// is no Update or Delete.
func (r *gormActivityRepository) Record(ctx context.Context, entry *db.ActivityLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("activity: record: %w", err)
	}
	return nil
}

// ListByUser returns a paginated list of activity entries for one user,
// most recent first.
func (r *gormActivityRepository) ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.ActivityLogEntry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&db.ActivityLogEntry{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("activity: list by user count: %w", err)
	}

	var entries []db.ActivityLogEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("timestamp DESC").
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("activity: list by user: %w", err)
	}

	return entries, total, nil
}

// ListSince returns a paginated list of activity entries recorded at or
// after the given time, most recent first.
func (r *gormActivityRepository) ListSince(ctx context.Context, since time.Time, opts ListOptions) ([]db.ActivityLogEntry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&db.ActivityLogEntry{}).
		Where("timestamp >= ?", since).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("activity: list since count: %w", err)
	}

	var entries []db.ActivityLogEntry
	if err := r.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("timestamp DESC").
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("activity: list since: %w", err)
	}

	return entries, total, nil
}
