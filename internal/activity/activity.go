// Package activity records the append-only audit trail described by
// SPEC_FULL.md §3's ActivityLogEntry expansion: every scoped read or
// mutating action an API handler performs is written here, alongside the
// RBAC context that admitted or denied it. This is the feature
// original_source/ implies (an audit trail) that spec.md names as an
// entity but never operationalizes.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/repository"
)

// Kind values recorded by handlers. Kept as string constants rather than a
// closed enum type since Details is itself schema-less JSON — callers are
// trusted to log a Kind drawn from this list plus whatever Details fits.
const (
	KindUpload      = "upload"
	KindLogin       = "login"
	KindRead        = "read"
	KindDLQRequeue  = "dlq_requeue"
	KindRBACDenied  = "rbac_denied"
	KindUserManaged = "user_managed"
)

// Recorder writes ActivityLogEntry rows. Failures to write are logged but
// never propagated — an audit-log outage must not block the action it is
// recording.
type Recorder struct {
	repo   repository.ActivityRepository
	logger *zap.Logger
}

// New creates a Recorder.
func New(repo repository.ActivityRepository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger.Named("activity")}
}

// Record writes one audit entry. scope is the RBAC context string the
// caller's request was evaluated under (rbac.ScopePrefix, e.g.
// "<supervisor>/<id>/" for an analyst),
// recorded so that a later investigation can see what access the action was
// permitted under, not just who performed it.
func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, kind, scope string, details map[string]any) {
	entry := &db.ActivityLogEntry{
		UserID:    userID,
		Kind:      kind,
		Details:   datatypes.NewJSONType(details),
		RBACScope: scope,
		Timestamp: time.Now().UTC(),
	}

	if err := r.repo.Record(ctx, entry); err != nil {
		r.logger.Warn("failed to record activity log entry",
			zap.String("kind", kind),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}
