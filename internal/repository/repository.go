// Package repository provides GORM-backed data access for every entity in
// the metadata store. Each repository exposes a narrow, intention-revealing
// interface rather than a generic CRUD surface, so call sites read as
// domain operations ("IncrementCounters", "UpsertNode") instead of bare SQL.
//
// GORM cannot auto-resolve foreign keys against UUID primary keys, so none
// of the models here use struct-level associations or Preload. Any "with
// details" method issues a small number of explicit, separately-queried
// selects and returns the results as independent slices.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelai/sentinel/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination and filtering options for list queries.
type ListOptions struct {
	Limit  int
	Offset int

	// JobIDPrefix, when non-empty, restricts the query to jobs (or rows
	// joined to a job) whose hierarchical ID starts with this prefix. Used
	// to enforce RBAC scoping: a manager's prefix is "<manager_id>/", an
	// analyst's is "<manager_id>/<analyst_id>/".
	JobIDPrefix string

	// CaseName is not read by any repository method; ListByCase takes the
	// case name as its own argument.
	CaseName string
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByOIDC(ctx context.Context, provider, sub string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)

	// ListBySupervisor returns every analyst reporting to the given manager.
	// The rbac package does not call it; RBAC scoping works on job-ID
	// prefixes.
	ListBySupervisor(ctx context.Context, supervisorID uuid.UUID) ([]db.User, error)
}

// -----------------------------------------------------------------------------
// RefreshTokenRepository
// -----------------------------------------------------------------------------

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*db.RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) error
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// OIDCProviderRepository
// -----------------------------------------------------------------------------

type OIDCProviderRepository interface {
	Create(ctx context.Context, provider *db.OIDCProvider) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.OIDCProvider, error)
	GetEnabled(ctx context.Context) (*db.OIDCProvider, error)
	Update(ctx context.Context, provider *db.OIDCProvider) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error
	GetByID(ctx context.Context, id string) (*db.Job, error)

	// GetByIDWithArtifacts retrieves a job together with its Artifact and
	// Suspect records, each fetched with its own query.
	GetByIDWithArtifacts(ctx context.Context, id string) (*db.Job, []db.Artifact, []db.Suspect, error)

	// IncrementCounters atomically advances ProcessedFiles/FailedFiles and
	// recomputes Status using an optimistic-concurrency compare-and-set on
	// Version. Returns ErrConflict if another writer updated the row between
	// read and write — callers should reload and retry.
	IncrementCounters(ctx context.Context, id string, processedDelta, failedDelta int, expectVersion int64) error

	// SetStatus unconditionally sets status/error, independent of the
	// counter CAS loop (used by the upload handler when publishing fails and
	// by the retention sweeper).
	SetStatus(ctx context.Context, id string, status string, errMsg string) error

	List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error)
	ListByCase(ctx context.Context, caseName string, opts ListOptions) ([]db.Job, int64, error)

	// ListCaseNames returns the distinct case names visible under the given
	// job ID prefix, used to back the cases index endpoint.
	ListCaseNames(ctx context.Context, jobIDPrefix string) ([]string, error)
}

// -----------------------------------------------------------------------------
// ArtifactRepository
// -----------------------------------------------------------------------------

type ArtifactRepository interface {
	Create(ctx context.Context, artifact *db.Artifact) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Artifact, error)
	Update(ctx context.Context, artifact *db.Artifact) error

	// UpdateStage advances CurrentStage/Status and records the elapsed
	// seconds for the stage just completed into StageTimings.
	UpdateStage(ctx context.Context, id uuid.UUID, stage, status string, elapsedSeconds float64) error

	// SetBlobPath records the store path of one named derivative (e.g.
	// "original", "transcription", "summarization") without touching other
	// fields.
	SetBlobPath(ctx context.Context, id uuid.UUID, role, path string) error

	SetError(ctx context.Context, id uuid.UUID, errMsg string) error
	ListByJob(ctx context.Context, jobID string) ([]db.Artifact, error)

	// ListByJobAndStatus narrows ListByJob by Status. The graph gate does
	// not use it; it reads every artifact through ListByJob.
	ListByJobAndStatus(ctx context.Context, jobID string, statuses ...string) ([]db.Artifact, error)
}

// -----------------------------------------------------------------------------
// SuspectRepository
// -----------------------------------------------------------------------------

type SuspectRepository interface {
	Create(ctx context.Context, suspect *db.Suspect) error
	ListByJob(ctx context.Context, jobID string) ([]db.Suspect, error)
}

// -----------------------------------------------------------------------------
// ChunkRepository
// -----------------------------------------------------------------------------

type ChunkRepository interface {
	BulkCreate(ctx context.Context, chunks []db.Chunk) error
	ListByArtifact(ctx context.Context, artifactID uuid.UUID) ([]db.Chunk, error)
	DeleteByArtifact(ctx context.Context, artifactID uuid.UUID) error
}

// -----------------------------------------------------------------------------
// GraphRepository
// -----------------------------------------------------------------------------

type GraphRepository interface {
	// UpsertNode inserts a node or, if one already exists for the same
	// (CaseName, Type, LabelNormalized), merges node.Properties into the
	// existing row (last writer wins per key) and returns its ID without
	// creating a duplicate.
	UpsertNode(ctx context.Context, node *db.GraphNode) (uuid.UUID, error)

	// CreateEdge inserts an edge or, if one already exists between the same
	// (SourceNodeID, TargetNodeID, Type), is a no-op.
	CreateEdge(ctx context.Context, edge *db.GraphEdge) error

	// AddProvenance links a node to the artifact that produced or
	// corroborated it. A no-op if the link already exists.
	AddProvenance(ctx context.Context, nodeID, artifactID uuid.UUID) error

	NodesByCase(ctx context.Context, caseName string) ([]db.GraphNode, error)
	EdgesByCase(ctx context.Context, caseName string) ([]db.GraphEdge, error)
	ProvenanceByNode(ctx context.Context, nodeID uuid.UUID) ([]db.GraphProvenance, error)
}

// -----------------------------------------------------------------------------
// ActivityRepository
// -----------------------------------------------------------------------------

type ActivityRepository interface {
	Record(ctx context.Context, entry *db.ActivityLogEntry) error
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.ActivityLogEntry, int64, error)
	ListSince(ctx context.Context, since time.Time, opts ListOptions) ([]db.ActivityLogEntry, int64, error)
}
