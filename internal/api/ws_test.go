package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sentinelai/sentinel/internal/api"
	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/queue/memqueue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// TestStatusStreamHandler_SnapshotIncludesJobIDAndFilename exercises the
// connect-time snapshot event end to end through the real handler: it must
// carry job_id and filename for every artifact, the fields spec.md §6's
// status event payload requires alongside artifact_id/status.
func TestStatusStreamHandler_SnapshotIncludesJobIDAndFilename(t *testing.T) {
	ctx := context.Background()

	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	jobs := repository.NewJobRepository(gdb)
	artifacts := repository.NewArtifactRepository(gdb)
	q := memqueue.New(time.Minute)
	t.Cleanup(func() { q.Close() })

	jwtMgr, err := auth.NewJWTManagerGenerated("sentinel-test")
	require.NoError(t, err)

	owner := uuid.New()
	job := &db.Job{
		OwnerUserID:   owner,
		SupervisorID:  owner,
		CaseName:      "case-ws",
		StoragePrefix: "jobs/" + owner.String(),
		TotalFiles:    1,
		Status:        "processing",
	}
	require.NoError(t, jobs.Create(ctx, job))

	artifact := &db.Artifact{
		JobID:            job.ID,
		OriginalFilename: "call-log.csv",
		MediaType:        queue.QueueCDR,
		Status:           "processing",
		CurrentStage:     "normalization",
	}
	require.NoError(t, artifacts.Create(ctx, artifact))

	handler := api.NewStatusStreamHandler(jobs, artifacts, q, jwtMgr, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/jobs/{supervisor_id}/{owner_id}/{job_uuid}/status/stream", handler.ServeStatusStream)

	token, err := jwtMgr.GenerateAccessToken(owner.String(), "admin@example.com", "admin")
	require.NoError(t, err)

	jobIDSegments := strings.SplitN(job.ID, "/", 3)
	require.Len(t, jobIDSegments, 3)
	path := "/jobs/" + jobIDSegments[0] + "/" + jobIDSegments[1] + "/" + jobIDSegments[2] + "/status/stream"
	reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, path+"?token="+token, nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `"job_id":"`+job.ID+`"`)
	assert.Contains(t, body, `"filename":"call-log.csv"`)
	assert.Contains(t, body, `"artifact_id":"`+artifact.ID.String()+`"`)
}
