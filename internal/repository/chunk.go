package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sentinelai/sentinel/internal/db"
	"gorm.io/gorm"
)

// gormChunkRepository is the GORM implementation of ChunkRepository.
type gormChunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository returns a ChunkRepository backed by the provided *gorm.DB.
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &gormChunkRepository{db: db}
}

// BulkCreate inserts multiple chunks in a single statement. Chunks are
// produced in a batch by the embeddings stage, so a single bulk insert
// avoids one round trip per chunk.
func (r *gormChunkRepository) BulkCreate(ctx context.Context, chunks []db.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("chunks: bulk create: %w", err)
	}
	return nil
}

// ListByArtifact returns all chunks for an artifact, ordered by index.
func (r *gormChunkRepository) ListByArtifact(ctx context.Context, artifactID uuid.UUID) ([]db.Chunk, error) {
	var chunks []db.Chunk
	if err := r.db.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Order(`"index" ASC`).
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("chunks: list by artifact: %w", err)
	}
	return chunks, nil
}

// DeleteByArtifact removes all chunks for an artifact. The embeddings stage
// calls it before every BulkCreate, so a redelivered item replaces its chunks
// instead of duplicating them.
func (r *gormChunkRepository) DeleteByArtifact(ctx context.Context, artifactID uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Delete(&db.Chunk{}).Error; err != nil {
		return fmt.Errorf("chunks: delete by artifact: %w", err)
	}
	return nil
}
