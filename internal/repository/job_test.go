package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/repository"
)

func newTestJob(t *testing.T, totalFiles int) *db.Job {
	t.Helper()
	owner := uuid.New()
	return &db.Job{
		OwnerUserID:   owner,
		SupervisorID:  owner,
		CaseName:      "case-alpha",
		StoragePrefix: "jobs/" + owner.String(),
		TotalFiles:    totalFiles,
		Status:        "queued",
	}
}

func TestJobRepository_CreateAssignsHierarchicalID(t *testing.T) {
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job := newTestJob(t, 3)
	require.NoError(t, repo.Create(context.Background(), job))

	assert.Contains(t, job.ID, job.SupervisorID.String()+"/"+job.OwnerUserID.String()+"/")
	assert.NotEmpty(t, job.CreatedAt)
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	_, err := repo.GetByID(context.Background(), "missing/missing/missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestJobRepository_IncrementCounters_AllSucceed(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job := newTestJob(t, 2)
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.IncrementCounters(ctx, job.ID, 1, 0, job.Version))
	reloaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "processing", reloaded.Status)
	assert.Equal(t, int64(1), reloaded.Version)

	require.NoError(t, repo.IncrementCounters(ctx, job.ID, 1, 0, reloaded.Version))
	reloaded, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", reloaded.Status)
}

func TestJobRepository_IncrementCounters_AllFail(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job := newTestJob(t, 1)
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.IncrementCounters(ctx, job.ID, 0, 1, job.Version))
	reloaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", reloaded.Status)
}

func TestJobRepository_IncrementCounters_PartialSuccess(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job := newTestJob(t, 2)
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.IncrementCounters(ctx, job.ID, 1, 0, job.Version))
	reloaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, repo.IncrementCounters(ctx, job.ID, 0, 1, reloaded.Version))
	reloaded, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", reloaded.Status)
}

func TestJobRepository_IncrementCounters_StaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job := newTestJob(t, 5)
	require.NoError(t, repo.Create(ctx, job))

	// Simulate two concurrent workers both reading version 0: the first
	// commits and advances the version, the second's CAS against the now-
	// stale version 0 must fail with ErrConflict rather than silently
	// double-counting the same file.
	require.NoError(t, repo.IncrementCounters(ctx, job.ID, 1, 0, job.Version))
	err := repo.IncrementCounters(ctx, job.ID, 1, 0, job.Version)
	assert.True(t, errors.Is(err, repository.ErrConflict))
}

func TestJobRepository_SetStatus(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job := newTestJob(t, 3)
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.SetStatus(ctx, job.ID, "failed", "blob store unreachable"))
	reloaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", reloaded.Status)
	assert.Equal(t, "blob store unreachable", reloaded.Error)
}

func TestJobRepository_SetStatus_NotFound(t *testing.T) {
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	err := repo.SetStatus(context.Background(), "missing/missing/missing", "failed", "boom")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestJobRepository_List_ScopedByPrefix(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	jobA := newTestJob(t, 1)
	jobB := newTestJob(t, 1)
	require.NoError(t, repo.Create(ctx, jobA))
	require.NoError(t, repo.Create(ctx, jobB))

	prefixA := jobA.SupervisorID.String() + "/" + jobA.OwnerUserID.String() + "/"
	jobs, total, err := repo.List(ctx, repository.ListOptions{Limit: 10, JobIDPrefix: prefixA})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobA.ID, jobs[0].ID)
}

func TestJobRepository_ListCaseNames(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewJobRepository(gdb)

	job1 := newTestJob(t, 1)
	job1.CaseName = "case-bravo"
	job2 := newTestJob(t, 1)
	job2.CaseName = "case-alpha"
	require.NoError(t, repo.Create(ctx, job1))
	require.NoError(t, repo.Create(ctx, job2))

	names, err := repo.ListCaseNames(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"case-alpha", "case-bravo"}, names)
}
