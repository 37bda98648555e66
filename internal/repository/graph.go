package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sentinelai/sentinel/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormGraphRepository is the GORM implementation of GraphRepository.
type gormGraphRepository struct {
	db *gorm.DB
}

// NewGraphRepository returns a GraphRepository backed by the provided *gorm.DB.
func NewGraphRepository(db *gorm.DB) GraphRepository {
	return &gormGraphRepository{db: db}
}

// UpsertNode inserts node, or — if a node already exists for the same
// (case_name, type, label_normalized) — merges node.Properties into the
// existing row's Properties key-by-key (last writer wins per key) and
// returns its ID. Re-running the graph stage over the same case must never
// duplicate an already-known entity, but a later artifact can legitimately
// add or correct properties the first pass didn't have (spec.md §4.3/§5,
// scenario S6), so the dedup key is enforced at the database level via a
// unique index while the property merge happens in a read-then-write step
// rather than a bare ON CONFLICT DO NOTHING.
func (r *gormGraphRepository) UpsertNode(ctx context.Context, node *db.GraphNode) (uuid.UUID, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "case_name"}, {Name: "type"}, {Name: "label_normalized"}},
			DoNothing: true,
		}).
		Create(node)
	if result.Error != nil {
		return uuid.Nil, fmt.Errorf("graph: upsert node: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return node.ID, nil
	}

	var existing db.GraphNode
	err := r.db.WithContext(ctx).
		Where("case_name = ? AND type = ? AND label_normalized = ?", node.CaseName, node.Type, node.LabelNormalized).
		First(&existing).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: upsert node: resolve existing: %w", err)
	}

	incoming := node.Properties.Data()
	if len(incoming) == 0 {
		return existing.ID, nil
	}

	merged := existing.Properties.Data()
	if merged == nil {
		merged = make(map[string]any, len(incoming))
	}
	for k, v := range incoming {
		merged[k] = v
	}

	if err := r.db.WithContext(ctx).
		Model(&db.GraphNode{}).
		Where("id = ?", existing.ID).
		Update("properties", datatypes.NewJSONType(merged)).Error; err != nil {
		return uuid.Nil, fmt.Errorf("graph: upsert node: merge properties: %w", err)
	}

	return existing.ID, nil
}

// CreateEdge inserts a new directed edge between two nodes, or is a no-op if
// an edge of the same type already exists between the same (source, target)
// pair. A redelivered graph_building stage (at-least-once delivery, see
// internal/pipeline's idempotence contract) must not duplicate edges any
// more than UpsertNode/AddProvenance may duplicate nodes or provenance
// links, so the dedup key is enforced the same way: a composite unique
// index plus an ON CONFLICT DO NOTHING upsert.
func (r *gormGraphRepository) CreateEdge(ctx context.Context, edge *db.GraphEdge) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_node_id"}, {Name: "target_node_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(edge).Error
	if err != nil {
		return fmt.Errorf("graph: create edge: %w", err)
	}
	return nil
}

// AddProvenance links a node to the artifact that produced or corroborated
// it. A no-op (via ON CONFLICT DO NOTHING on the composite unique index) if
// the link already exists.
func (r *gormGraphRepository) AddProvenance(ctx context.Context, nodeID, artifactID uuid.UUID) error {
	prov := db.GraphProvenance{GraphNodeID: nodeID, ArtifactID: artifactID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&prov).Error
	if err != nil {
		return fmt.Errorf("graph: add provenance: %w", err)
	}
	return nil
}

// NodesByCase returns every node belonging to a case.
func (r *gormGraphRepository) NodesByCase(ctx context.Context, caseName string) ([]db.GraphNode, error) {
	var nodes []db.GraphNode
	if err := r.db.WithContext(ctx).
		Where("case_name = ?", caseName).
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("graph: nodes by case: %w", err)
	}
	return nodes, nil
}

// EdgesByCase returns every edge whose source node belongs to a case.
func (r *gormGraphRepository) EdgesByCase(ctx context.Context, caseName string) ([]db.GraphEdge, error) {
	var edges []db.GraphEdge
	err := r.db.WithContext(ctx).
		Joins("JOIN graph_nodes ON graph_nodes.id = graph_edges.source_node_id").
		Where("graph_nodes.case_name = ?", caseName).
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("graph: edges by case: %w", err)
	}
	return edges, nil
}

// ProvenanceByNode returns every artifact link recorded for a node.
func (r *gormGraphRepository) ProvenanceByNode(ctx context.Context, nodeID uuid.UUID) ([]db.GraphProvenance, error) {
	var provenance []db.GraphProvenance
	if err := r.db.WithContext(ctx).
		Where("graph_node_id = ?", nodeID).
		Find(&provenance).Error; err != nil {
		return nil, fmt.Errorf("graph: provenance by node: %w", err)
	}
	return provenance, nil
}
