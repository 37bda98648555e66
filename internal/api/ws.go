package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/rbac"
	"github.com/sentinelai/sentinel/internal/repository"
)

// StatusStreamHandler serves GET
// /jobs/{supervisor_id}/{owner_id}/{job_uuid}/status/stream, the Server-Sent
// Events endpoint spec.md §6 describes in place of the teacher's WebSocket
// hub — a job's status fan-out is a narrow one-directional broadcast, which
// SSE expresses with a plain http.ResponseWriter and no upgrade handshake or
// per-connection read pump.
//
// Event delivery is best-effort, per spec.md §9 ("subscribers must tolerate
// missed events and reconcile from the store on connect"): the stream always
// opens with a snapshot event built from the current artifact rows, so a
// client that connects after missing every earlier pub/sub event still
// starts from a correct state, then layers live queue.Fabric events on top.
type StatusStreamHandler struct {
	jobs      repository.JobRepository
	artifacts repository.ArtifactRepository
	queue     queue.Fabric
	jwtMgr    *auth.JWTManager
	logger    *zap.Logger
}

// NewStatusStreamHandler creates a new StatusStreamHandler.
func NewStatusStreamHandler(
	jobs repository.JobRepository,
	artifacts repository.ArtifactRepository,
	q queue.Fabric,
	jwtMgr *auth.JWTManager,
	logger *zap.Logger,
) *StatusStreamHandler {
	return &StatusStreamHandler{
		jobs:      jobs,
		artifacts: artifacts,
		queue:     q,
		jwtMgr:    jwtMgr,
		logger:    logger.Named("status_stream_handler"),
	}
}

// snapshotEvent mirrors queue.StatusEvent's shape but is emitted once per
// artifact on connect, from store state rather than the pub/sub channel.
type snapshotEvent struct {
	Type             string             `json:"type"`
	JobID            string             `json:"job_id"`
	ArtifactID       string             `json:"artifact_id"`
	Filename         string             `json:"filename"`
	Status           string             `json:"status"`
	CurrentStage     string             `json:"current_stage,omitempty"`
	ProcessingStages map[string]float64 `json:"processing_stages,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
}

// ServeStatusStream authenticates the request, verifies the caller's RBAC
// scope covers the requested job, then streams status events as
// text/event-stream until the job reaches a terminal status, the client
// disconnects, or the request context is canceled.
//
// Authentication prefers the claims middleware already attached to the
// request context (the normal Authorization-header path exercised by every
// other handler and by tests); browsers using the native EventSource API
// cannot set that header, so a `token` query parameter is accepted as a
// fallback, the same convention the teacher's WebSocket handler used.
func (h *StatusStreamHandler) ServeStatusStream(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	if claims == nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			ErrUnauthorized(w)
			return
		}
		parsed, err := h.jwtMgr.ValidateAccessToken(tokenStr)
		if err != nil {
			ErrUnauthorized(w)
			return
		}
		claims = parsed
	}

	identity, ok := identityFromClaims(claims)
	if !ok {
		ErrUnauthorized(w)
		return
	}

	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	if !rbac.CanAccessJob(identity, jobID) {
		ErrNotFound(w)
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		h.writeJobLookupErrorSSE(w, jobID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support flushing")
		ErrInternal(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	artifacts, err := h.artifacts.ListByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error("loading artifacts for snapshot", zap.String("job_id", jobID), zap.Error(err))
	}
	for i := range artifacts {
		a := &artifacts[i]
		writeSSEEvent(w, "artifact_status", snapshotEvent{
			Type:             "artifact_status",
			JobID:            jobID,
			ArtifactID:       a.ID.String(),
			Filename:         a.OriginalFilename,
			Status:           a.Status,
			CurrentStage:     a.CurrentStage,
			ProcessingStages: a.StageTimings.Data(),
			ErrorMessage:     a.Error,
		})
	}
	flusher.Flush()

	if isTerminalJobStatus(job.Status) {
		return
	}

	sub, err := h.queue.SubscribeStatus(r.Context(), jobID)
	if err != nil {
		h.logger.Error("subscribing to job status", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(w, "artifact_status", event)
			flusher.Flush()

			if job, err := h.jobs.GetByID(ctx, jobID); err == nil && isTerminalJobStatus(job.Status) {
				writeSSEEvent(w, "job_complete", jobCompleteEvent{
					Type:   "job_complete",
					Status: job.Status,
					Error:  job.Error,
				})
				flusher.Flush()
				return
			}
		}
	}
}

// jobCompleteEvent is the final event sent on a status stream once the job
// reaches a terminal status.
type jobCompleteEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// isTerminalJobStatus reports whether a job's status means no further
// status events will ever be published for it.
func isTerminalJobStatus(status string) bool {
	switch status {
	case "completed", "failed", "partial":
		return true
	default:
		return false
	}
}

// writeSSEEvent writes one named Server-Sent Event with a JSON-encoded
// payload. Encoding errors are swallowed — there is no meaningful recovery
// mid-stream beyond dropping the single event.
func writeSSEEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (h *StatusStreamHandler) writeJobLookupErrorSSE(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	h.logger.Error("loading job", zap.String("job_id", jobID), zap.Error(err))
	ErrInternal(w)
}
