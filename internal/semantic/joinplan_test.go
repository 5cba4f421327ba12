package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestRegistry(t *testing.T) *Registry {
	t.Helper()

	accounts := &Entity{
		Name:  "accounts",
		Table: "analytics.accounts",
		Dimensions: []Dimension{
			{Name: "id", SQL: "{CUBE}.ID", Type: "string", PrimaryKey: true},
			{Name: "owner_id", SQL: "{CUBE}.OWNER_ID", Type: "string"},
		},
		Joins: []Join{
			{TargetEntity: "owners", Relationship: OneToOne, FromField: "owner_id", ToField: "id"},
		},
	}
	owners := &Entity{
		Name:  "owners",
		Table: "crm.owners",
		Dimensions: []Dimension{
			{Name: "id", SQL: "{CUBE}.ID", Type: "string", PrimaryKey: true},
			{Name: "region_id", SQL: "{CUBE}.REGION_ID", Type: "string"},
		},
		Joins: []Join{
			{TargetEntity: "regions", Relationship: ManyToOne, FromField: "region_id", ToField: "id"},
		},
	}
	regions := &Entity{
		Name:  "regions",
		Table: "crm.regions",
		Dimensions: []Dimension{
			{Name: "id", SQL: "{CUBE}.ID", Type: "string", PrimaryKey: true},
		},
	}

	for _, e := range []*Entity{accounts, owners, regions} {
		require.NoError(t, e.build())
	}

	return NewRegistry(map[string]*Entity{
		"accounts": accounts,
		"owners":   owners,
		"regions":  regions,
	})
}

func TestComputeJoinPath_NoOtherEntities(t *testing.T) {
	reg := buildTestRegistry(t)
	plan, err := ComputeJoinPath("accounts", []string{"accounts"}, reg)
	require.NoError(t, err)
	assert.Empty(t, plan.Edges)
	assert.Equal(t, map[string]string{"accounts": "t0"}, plan.AliasByEntity)
	assert.Equal(t, []string{"accounts"}, plan.OrderedEntities)
}

func TestComputeJoinPath_DirectEdge(t *testing.T) {
	reg := buildTestRegistry(t)
	plan, err := ComputeJoinPath("accounts", []string{"accounts", "owners"}, reg)
	require.NoError(t, err)
	require.Len(t, plan.Edges, 1)
	assert.Equal(t, "accounts", plan.Edges[0].From)
	assert.Equal(t, "owners", plan.Edges[0].To)
	assert.Equal(t, "t0", plan.AliasByEntity["accounts"])
	assert.Equal(t, "t1", plan.AliasByEntity["owners"])
}

func TestComputeJoinPath_TransitiveEdge(t *testing.T) {
	reg := buildTestRegistry(t)
	plan, err := ComputeJoinPath("accounts", []string{"accounts", "regions"}, reg)
	require.NoError(t, err)
	require.Len(t, plan.Edges, 2)
	assert.Equal(t, "accounts", plan.Edges[0].From)
	assert.Equal(t, "owners", plan.Edges[0].To)
	assert.Equal(t, "owners", plan.Edges[1].From)
	assert.Equal(t, "regions", plan.Edges[1].To)
}

func TestComputeJoinPath_AliasDeterminism(t *testing.T) {
	reg := buildTestRegistry(t)
	p1, err := ComputeJoinPath("accounts", []string{"accounts", "regions", "owners"}, reg)
	require.NoError(t, err)
	p2, err := ComputeJoinPath("accounts", []string{"accounts", "regions", "owners"}, reg)
	require.NoError(t, err)
	assert.Equal(t, p1.AliasByEntity, p2.AliasByEntity)
	assert.Equal(t, p1.OrderedEntities, p2.OrderedEntities)
	// lexicographic: owners before regions
	assert.Equal(t, "t1", p1.AliasByEntity["owners"])
	assert.Equal(t, "t2", p1.AliasByEntity["regions"])
}

func TestComputeJoinPath_Unreachable(t *testing.T) {
	reg := buildTestRegistry(t)
	isolated := &Entity{Name: "isolated", Table: "main.isolated"}
	require.NoError(t, isolated.build())
	entities := map[string]*Entity{"accounts": mustEntity(t, reg, "accounts"), "isolated": isolated}
	reg2 := NewRegistry(entities)

	_, err := ComputeJoinPath("accounts", []string{"accounts", "isolated"}, reg2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJoin)
}

func mustEntity(t *testing.T, reg *Registry, name string) *Entity {
	t.Helper()
	e, ok := reg.Entity(name)
	require.True(t, ok)
	return e
}
