package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/repository"
)

func TestGraphRepository_UpsertNode_CreatesNew(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewGraphRepository(gdb)

	id, err := repo.UpsertNode(ctx, &db.GraphNode{
		CaseName:        "case-alpha",
		Label:           "Jane Doe",
		LabelNormalized: "jane doe",
		Type:            "person",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
}

// TestGraphRepository_UpsertNode_MergesPropertiesLastWriterWins exercises
// the redelivery path a graph_building stage retry takes: the same
// (CaseName, Type, LabelNormalized) arrives twice with different Properties,
// and the second call must merge into the first rather than duplicate the
// node or discard either side's keys.
func TestGraphRepository_UpsertNode_MergesPropertiesLastWriterWins(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewGraphRepository(gdb)

	first, err := repo.UpsertNode(ctx, &db.GraphNode{
		CaseName:        "case-alpha",
		Label:           "Jane Doe",
		LabelNormalized: "jane doe",
		Type:            "person",
		Properties:      datatypes.NewJSONType(map[string]any{"phone": "555-0100", "role": "suspect"}),
	})
	require.NoError(t, err)

	second, err := repo.UpsertNode(ctx, &db.GraphNode{
		CaseName:        "case-alpha",
		Label:           "Jane Doe",
		LabelNormalized: "jane doe",
		Type:            "person",
		Properties:      datatypes.NewJSONType(map[string]any{"role": "witness", "email": "jane@example.com"}),
	})
	require.NoError(t, err)

	assert.Equal(t, first, second, "same dedup key must resolve to the same node")

	nodes, err := repo.NodesByCase(ctx, "case-alpha")
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	props := nodes[0].Properties.Data()
	assert.Equal(t, "555-0100", props["phone"], "keys absent from the incoming update are preserved")
	assert.Equal(t, "witness", props["role"], "overlapping keys take the most recent write")
	assert.Equal(t, "jane@example.com", props["email"])
}

func TestGraphRepository_UpsertNode_DistinctCasesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewGraphRepository(gdb)

	idA, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-alpha", Label: "X", LabelNormalized: "x", Type: "person"})
	require.NoError(t, err)
	idB, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-bravo", Label: "X", LabelNormalized: "x", Type: "person"})
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)
}

// TestGraphRepository_CreateEdge_RedeliveryDoesNotDuplicate directly
// exercises the idempotence contract a redelivered graph_building stage
// depends on: calling CreateEdge twice with the same (source, target, type)
// must leave exactly one edge row behind.
func TestGraphRepository_CreateEdge_RedeliveryDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewGraphRepository(gdb)

	source, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-alpha", Label: "A", LabelNormalized: "a", Type: "person"})
	require.NoError(t, err)
	target, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-alpha", Label: "B", LabelNormalized: "b", Type: "org"})
	require.NoError(t, err)

	edge := &db.GraphEdge{SourceNodeID: source, TargetNodeID: target, Type: "employed_by"}
	require.NoError(t, repo.CreateEdge(ctx, edge))
	require.NoError(t, repo.CreateEdge(ctx, &db.GraphEdge{SourceNodeID: source, TargetNodeID: target, Type: "employed_by"}))

	edges, err := repo.EdgesByCase(ctx, "case-alpha")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestGraphRepository_CreateEdge_DistinctTypesCoexist(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewGraphRepository(gdb)

	source, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-alpha", Label: "A", LabelNormalized: "a", Type: "person"})
	require.NoError(t, err)
	target, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-alpha", Label: "B", LabelNormalized: "b", Type: "org"})
	require.NoError(t, err)

	require.NoError(t, repo.CreateEdge(ctx, &db.GraphEdge{SourceNodeID: source, TargetNodeID: target, Type: "employed_by"}))
	require.NoError(t, repo.CreateEdge(ctx, &db.GraphEdge{SourceNodeID: source, TargetNodeID: target, Type: "communicates_with"}))

	edges, err := repo.EdgesByCase(ctx, "case-alpha")
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

// TestGraphRepository_AddProvenance_RedeliveryDoesNotDuplicate covers the
// provenance half of the same redelivery scenario (S6): the same artifact
// corroborating the same node twice must leave one link, not two.
func TestGraphRepository_AddProvenance_RedeliveryDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := repository.NewGraphRepository(gdb)

	nodeID, err := repo.UpsertNode(ctx, &db.GraphNode{CaseName: "case-alpha", Label: "A", LabelNormalized: "a", Type: "person"})
	require.NoError(t, err)
	artifactID := uuid.New()

	require.NoError(t, repo.AddProvenance(ctx, nodeID, artifactID))
	require.NoError(t, repo.AddProvenance(ctx, nodeID, artifactID))

	provenance, err := repo.ProvenanceByNode(ctx, nodeID)
	require.NoError(t, err)
	assert.Len(t, provenance, 1)
}
