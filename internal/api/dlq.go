package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentinelai/sentinel/internal/activity"
	"github.com/sentinelai/sentinel/internal/metrics"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/rbac"
)

// DLQHandler exposes admin-only inspection and requeue of dead-lettered
// work items, per spec.md §4.2's "admin read-side exposes DLQ inspection
// and requeue."
type DLQHandler struct {
	queue    queue.Fabric
	activity *activity.Recorder
	logger   *zap.Logger
}

// NewDLQHandler creates a new DLQHandler.
func NewDLQHandler(q queue.Fabric, activityRec *activity.Recorder, logger *zap.Logger) *DLQHandler {
	return &DLQHandler{queue: q, activity: activityRec, logger: logger.Named("dlq_handler")}
}

// queueNames is the fixed set of valid queue names a DLQ route may name,
// matching spec.md §9's "queue names document|audio|video|cdr|graph."
var queueNames = map[string]bool{
	queue.QueueDocument: true,
	queue.QueueAudio:    true,
	queue.QueueVideo:    true,
	queue.QueueCDR:      true,
	queue.QueueGraph:    true,
}

// List handles GET /api/v1/admin/dlq/{queue}.
func (h *DLQHandler) List(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	if !queueNames[queueName] {
		ErrBadRequest(w, "unknown queue: "+queueName)
		return
	}

	entries, err := h.queue.ListDLQ(r.Context(), queueName)
	if err != nil {
		h.logger.Error("listing dlq", zap.String("queue", queueName), zap.Error(err))
		ErrInternal(w)
		return
	}
	metrics.QueueDLQDepth.WithLabelValues(queueName).Set(float64(len(entries)))

	Ok(w, envelope{"queue": queueName, "items": entries})
}

// requeueRequest carries the index of the DLQ entry to requeue, as returned
// by List's items array.
type requeueRequest struct {
	Index int `json:"index"`
}

// Requeue handles POST /api/v1/admin/dlq/{queue}/requeue. Accepts the
// target index either as a JSON body {"index": n} or an ?index= query
// parameter, since an admin operating from a shell script may not want to
// construct a JSON body for a one-field request.
func (h *DLQHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	if !queueNames[queueName] {
		ErrBadRequest(w, "unknown queue: "+queueName)
		return
	}

	index := -1
	if v := r.URL.Query().Get("index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			ErrBadRequest(w, "index must be an integer")
			return
		}
		index = n
	} else {
		var req requeueRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		index = req.Index
	}
	if index < 0 {
		ErrUnprocessable(w, "index is required and must be >= 0")
		return
	}

	if err := h.queue.RequeueDLQ(r.Context(), queueName, index); err != nil {
		h.logger.Error("requeuing dlq entry", zap.String("queue", queueName), zap.Int("index", index), zap.Error(err))
		ErrInternal(w)
		return
	}

	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if ok {
		h.activity.Record(r.Context(), identity.UserID, activity.KindDLQRequeue, rbac.ScopePrefix(identity), map[string]any{
			"queue": queueName,
			"index": index,
		})
	}

	NoContent(w)
}
