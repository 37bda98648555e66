package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/repository"
)

func TestChunkRepository_BulkCreateAndList(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewChunkRepository(gdb)

	artifactID := uuid.New()
	require.NoError(t, repo.BulkCreate(ctx, []db.Chunk{
		{ArtifactID: artifactID, Index: 0, Text: "first"},
		{ArtifactID: artifactID, Index: 1, Text: "second"},
	}))

	chunks, err := repo.ListByArtifact(ctx, artifactID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Text)
	assert.Equal(t, "second", chunks[1].Text)
}

// TestChunkRepository_DeleteByArtifact_ThenBulkCreate_NoDuplication mirrors
// the embeddings stage's retry path: a redelivered stage run clears the
// prior attempt's chunks before inserting the fresh batch, so a retry must
// never leave both the old and new rows behind.
func TestChunkRepository_DeleteByArtifact_ThenBulkCreate_NoDuplication(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewChunkRepository(gdb)

	artifactID := uuid.New()
	require.NoError(t, repo.BulkCreate(ctx, []db.Chunk{
		{ArtifactID: artifactID, Index: 0, Text: "attempt one, chunk zero"},
	}))

	require.NoError(t, repo.DeleteByArtifact(ctx, artifactID))
	require.NoError(t, repo.BulkCreate(ctx, []db.Chunk{
		{ArtifactID: artifactID, Index: 0, Text: "attempt two, chunk zero"},
		{ArtifactID: artifactID, Index: 1, Text: "attempt two, chunk one"},
	}))

	chunks, err := repo.ListByArtifact(ctx, artifactID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "attempt two, chunk zero", chunks[0].Text)
	assert.Equal(t, "attempt two, chunk one", chunks[1].Text)
}

func TestChunkRepository_DeleteByArtifact_NoRowsIsNotAnError(t *testing.T) {
	gdb := openTestDB(t)
	repo := repository.NewChunkRepository(gdb)

	assert.NoError(t, repo.DeleteByArtifact(context.Background(), uuid.New()))
}
