package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// base contains the common fields shared by all UUID-keyed models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Users & Auth
// -----------------------------------------------------------------------------

// User represents a local or OIDC-authenticated analyst, manager, or admin.
// Password is only set for local accounts — OIDC users authenticate via the
// provider and have an empty Password field.
//
// SupervisorID links an analyst to the manager who scopes their work for
// RBAC purposes (see internal/rbac). It is empty for admins and managers.
type User struct {
	base
	Email        string          `gorm:"uniqueIndex;not null"`
	Password     EncryptedString `gorm:"type:text"` // empty for OIDC users
	DisplayName  string          `gorm:"not null"`
	Role         string          `gorm:"not null;default:'analyst'"` // "admin", "manager", "analyst"
	SupervisorID *uuid.UUID      `gorm:"type:text;index"`
	IsActive     bool            `gorm:"not null;default:true"`
	OIDCProvider string          `gorm:"default:''"`
	OIDCSub      string          `gorm:"default:''"`
	LastLoginAt  *time.Time
}

// RefreshToken stores a hashed refresh token associated with a user session.
// The raw token is never stored — only its SHA-256 hash.
type RefreshToken struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null;index"`
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

// OIDCProvider stores the configuration for an external OIDC identity provider.
// ClientSecret is encrypted at rest. Only one provider is supported at a time.
type OIDCProvider struct {
	base
	Name         string          `gorm:"not null"`
	Issuer       string          `gorm:"not null"`
	ClientID     string          `gorm:"not null"`
	ClientSecret EncryptedString `gorm:"type:text;not null"`
	RedirectURL  string          `gorm:"not null"`
	Scopes       string          `gorm:"not null;default:'openid email profile'"`
	Enabled      bool            `gorm:"not null;default:false"`
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// Job represents one unified upload. Its primary key is a hierarchical string
// of the form "<supervisor_id>/<owner_id>/<uuid>" rather than a bare UUID, so
// that RBAC scoping (see internal/rbac) can be enforced with a cheap LIKE
// prefix match instead of a join against the user hierarchy on every read.
// SupervisorID is the owner's own id when the owner has no supervisor
// (managers and admins), so the prefix is always two segments deep.
//
// Version is incremented on every counter update (processed_files,
// failed_files, status) and used as an optimistic-concurrency token: workers
// racing to update the same job's aggregate counters do a compare-and-set on
// Version rather than taking a row lock.
type Job struct {
	ID             string    `gorm:"type:text;primaryKey"`
	OwnerUserID    uuid.UUID `gorm:"type:text;not null;index"`
	SupervisorID   uuid.UUID `gorm:"type:text;not null;index"`
	CaseName       string    `gorm:"not null;index"`
	ParentJobID    *string   `gorm:"type:text;index"`
	StoragePrefix  string    `gorm:"not null"`
	TotalFiles     int       `gorm:"not null"`
	ProcessedFiles int       `gorm:"not null;default:0"`
	FailedFiles    int       `gorm:"not null;default:0"`
	Status         string    `gorm:"not null;default:'queued';index"` // queued, processing, completed, failed, partial
	Error          string    `gorm:"type:text;default:''"`
	Version        int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate assigns a hierarchical job ID when none is set.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		j.ID = j.SupervisorID.String() + "/" + j.OwnerUserID.String() + "/" + id.String()
	}
	return nil
}

// StageTimings maps a pipeline stage name to the elapsed seconds spent in it.
type StageTimings map[string]float64

// BlobPaths maps a role ("original", "summarization", "transcription", "graph_input",
// ...) to the blob-store path of the corresponding derivative.
type BlobPaths map[string]string

// Artifact represents one uploaded file and the state of its type-specific
// pipeline. StageTimings and BlobPaths are stored as JSON columns — both are
// small, schema-less maps that never participate in relational queries, so a
// typed column would buy nothing over datatypes.JSONType.
type Artifact struct {
	base
	JobID            string                            `gorm:"type:text;not null;index"`
	OriginalFilename string                            `gorm:"not null"`
	MediaType        string                            `gorm:"not null"` // document, audio, video, cdr
	SourceLanguage   string                            `gorm:"default:''"`
	Status           string                            `gorm:"not null;default:'queued';index"` // queued, processing, awaiting_graph, completed, failed
	CurrentStage     string                            `gorm:"default:''"`
	StageTimings     datatypes.JSONType[StageTimings] `gorm:"type:text"`
	BlobPaths        datatypes.JSONType[BlobPaths]    `gorm:"type:text"`
	SummaryText      string                            `gorm:"type:text;default:''"`
	Error            string                            `gorm:"type:text;default:''"`
}

// SuspectField is one key/value attribute an analyst attached to a Suspect.
// Order is preserved — Suspect.Fields is a slice, not a map.
type SuspectField struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Suspect is an analyst-supplied person of interest bound to a job at
// creation time. Fields is opaque to the pipeline — workers never read it.
type Suspect struct {
	base
	JobID  string                                  `gorm:"type:text;not null;index"`
	Fields datatypes.JSONType[[]SuspectField] `gorm:"type:text"`
}

// -----------------------------------------------------------------------------
// Chunks & embeddings
// -----------------------------------------------------------------------------

// Embedding is a fixed-dimensional dense vector produced by the Embedder
// collaborator. Stored as JSON rather than a native vector column so the
// schema stays portable across the sqlite/postgres dual-driver setup; a
// dedicated similarity index (e.g. pgvector) is an external collaborator
// concern per the vector-index interface, not something this store provides.
type Embedding []float32

// Chunk is a retrieval-sized slice of extracted text with its embedding.
type Chunk struct {
	base
	ArtifactID uuid.UUID                        `gorm:"type:text;not null;uniqueIndex:idx_chunk_dedup"`
	Index      int                               `gorm:"not null;uniqueIndex:idx_chunk_dedup"`
	Text       string                            `gorm:"type:text;not null"`
	Embedding  datatypes.JSONType[Embedding]      `gorm:"type:text"`
	Metadata   datatypes.JSONType[map[string]any] `gorm:"type:text"`
}

// -----------------------------------------------------------------------------
// Knowledge graph
// -----------------------------------------------------------------------------

// GraphNode is an entity extracted by the graph worker. Nodes are
// deduplicated within a case by (CaseName, Type, LabelNormalized) — see
// internal/repository's GraphRepository.UpsertNode.
type GraphNode struct {
	base
	CaseName        string                             `gorm:"not null;index:idx_graph_node_dedup,unique"`
	Label           string                              `gorm:"not null"`
	LabelNormalized string                             `gorm:"not null;index:idx_graph_node_dedup,unique"`
	Type            string                              `gorm:"not null;index:idx_graph_node_dedup,unique"`
	Properties      datatypes.JSONType[map[string]any] `gorm:"type:text"`
}

// GraphEdge is a typed, directed relation between two GraphNodes.
// Composite-unique on (SourceNodeID, TargetNodeID, Type) so a redelivered
// graph_building stage's CreateEdge upsert cannot duplicate an edge, the
// same protection GraphNode and GraphProvenance already have.
type GraphEdge struct {
	base
	SourceNodeID uuid.UUID                          `gorm:"type:text;not null;index;uniqueIndex:idx_graph_edge_dedup"`
	TargetNodeID uuid.UUID                          `gorm:"type:text;not null;index;uniqueIndex:idx_graph_edge_dedup"`
	Type         string                              `gorm:"not null;uniqueIndex:idx_graph_edge_dedup"`
	Properties   datatypes.JSONType[map[string]any] `gorm:"type:text"`
}

// GraphProvenance is the many-to-many join between GraphNode and Artifact:
// a node survives as long as any artifact in the same case still references
// it. Composite-unique so re-running the idempotent graph stage does not
// duplicate provenance rows.
type GraphProvenance struct {
	base
	GraphNodeID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_provenance"`
	ArtifactID  uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_provenance"`
}

// -----------------------------------------------------------------------------
// Activity log
// -----------------------------------------------------------------------------

// ActivityLogEntry is an append-only audit record. Details carries kind-
// specific structured data (e.g. the job_id for an "upload" entry, the queue
// name for a "dlq_requeue" entry).
type ActivityLogEntry struct {
	base
	UserID    uuid.UUID                          `gorm:"type:text;not null;index"`
	Kind      string                              `gorm:"not null;index"` // "upload", "login", "dlq_requeue", "rbac_denied", ...
	Details   datatypes.JSONType[map[string]any] `gorm:"type:text"`
	RBACScope string                              `gorm:"default:''"` // role + scope context at the time of the action
	Timestamp time.Time                           `gorm:"not null;index"`
}
