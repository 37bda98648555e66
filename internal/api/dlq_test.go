package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sentinelai/sentinel/internal/activity"
	"github.com/sentinelai/sentinel/internal/api"
	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/queue/memqueue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// newDLQTestRouter wires just the admin-scoped DLQ routes with the same
// Authenticate/RequireAnyRole middleware stack router.go uses, so the
// handler tests exercise the real authorization boundary rather than
// calling DLQHandler's methods directly against a bare *http.Request.
func newDLQTestRouter(t *testing.T) (http.Handler, *auth.JWTManager, queue.Fabric) {
	t.Helper()

	jwtMgr, err := auth.NewJWTManagerGenerated("sentinel-test")
	require.NoError(t, err)

	q := memqueue.New(time.Minute)
	t.Cleanup(func() { q.Close() })

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

	rec := activity.New(repository.NewActivityRepository(gdb), zap.NewNop())
	dlqHandler := api.NewDLQHandler(q, rec, zap.NewNop())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(api.Authenticate(jwtMgr))
			r.Group(func(r chi.Router) {
				r.Use(api.RequireAnyRole("admin"))
				r.Get("/admin/dlq/{queue}", dlqHandler.List)
				r.Post("/admin/dlq/{queue}/requeue", dlqHandler.Requeue)
			})
		})
	})

	return r, jwtMgr, q
}

func TestDLQHandler_List_RequiresAuthentication(t *testing.T) {
	router, _, _ := newDLQTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dlq/document", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDLQHandler_List_RejectsNonAdminRole(t *testing.T) {
	router, jwtMgr, _ := newDLQTestRouter(t)

	token, err := jwtMgr.GenerateAccessToken(uuid.NewString(), "analyst@example.com", "analyst")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dlq/document", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDLQHandler_List_RejectsUnknownQueue(t *testing.T) {
	router, jwtMgr, _ := newDLQTestRouter(t)

	token, err := jwtMgr.GenerateAccessToken(uuid.NewString(), "admin@example.com", "admin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dlq/not-a-queue", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDLQHandler_ListAndRequeue(t *testing.T) {
	router, jwtMgr, q := newDLQTestRouter(t)
	ctx := context.Background()

	work := queue.WorkItem{JobID: "sup/owner/job1", ArtifactID: "artifact1", MediaType: queue.QueueDocument}
	require.NoError(t, q.Publish(ctx, queue.QueueDocument, work))
	delivery, err := q.Consume(ctx, queue.QueueDocument)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, queue.QueueDocument, delivery, "poison payload", 0, time.Millisecond))

	token, err := jwtMgr.GenerateAccessToken(uuid.NewString(), "admin@example.com", "admin")
	require.NoError(t, err)

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dlq/document", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), "artifact1")
	assert.Contains(t, listRec.Body.String(), "poison payload")

	requeueReq := httptest.NewRequest(http.MethodPost, "/api/v1/admin/dlq/document/requeue?index=0", nil)
	requeueReq.Header.Set("Authorization", "Bearer "+token)
	requeueRec := httptest.NewRecorder()
	router.ServeHTTP(requeueRec, requeueReq)
	assert.Equal(t, http.StatusNoContent, requeueRec.Code)

	redelivered, err := q.Consume(ctx, queue.QueueDocument)
	require.NoError(t, err)
	assert.Equal(t, work.ArtifactID, redelivered.Item.ArtifactID)
	assert.Equal(t, 0, redelivered.Item.Attempt)
}
