package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_SimpleCube(t *testing.T) {
	reg := buildTestRegistry(t)
	ctx := ExpandContext{
		CurrentEntity: "accounts",
		AliasByEntity: map[string]string{"accounts": "t0"},
		Registry:      reg,
	}
	got, err := Expand("{CUBE}.ID", ctx)
	require.NoError(t, err)
	assert.Equal(t, `t0."ID"`, got)
}

func TestExpand_FieldReference(t *testing.T) {
	reg := buildTestRegistry(t)
	ctx := ExpandContext{
		CurrentEntity: "accounts",
		AliasByEntity: map[string]string{"accounts": "t0"},
		Registry:      reg,
	}
	got, err := Expand("{id}", ctx)
	require.NoError(t, err)
	assert.Equal(t, `t0."ID"`, got)
}

func TestExpand_CrossEntity(t *testing.T) {
	reg := buildTestRegistry(t)
	ctx := ExpandContext{
		CurrentEntity: "accounts",
		AliasByEntity: map[string]string{"accounts": "t0", "owners": "t1"},
		Registry:      reg,
	}
	got, err := Expand("{owners.region_id}", ctx)
	require.NoError(t, err)
	assert.Equal(t, `t1."REGION_ID"`, got)
}

func TestExpand_UnknownField(t *testing.T) {
	reg := buildTestRegistry(t)
	ctx := ExpandContext{
		CurrentEntity: "accounts",
		AliasByEntity: map[string]string{"accounts": "t0"},
		Registry:      reg,
	}
	_, err := Expand("{does_not_exist}", ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMacro)
}

func TestExpand_CyclicDetected(t *testing.T) {
	a := &Entity{
		Name:  "a",
		Table: "main.a",
		Dimensions: []Dimension{
			{Name: "x", SQL: "{y}"},
			{Name: "y", SQL: "{x}"},
		},
	}
	require.NoError(t, a.build())
	reg := NewRegistry(map[string]*Entity{"a": a})

	ctx := ExpandContext{CurrentEntity: "a", AliasByEntity: map[string]string{"a": "t0"}, Registry: reg}
	_, err := Expand("{x}", ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMacro)
}

func TestQualifySimpleColumn(t *testing.T) {
	reg := buildTestRegistry(t)
	ctx := ExpandContext{
		CurrentEntity: "owners",
		AliasByEntity: map[string]string{"owners": "t1"},
		Registry:      reg,
	}
	got, err := QualifySimpleColumn("id", ctx)
	require.NoError(t, err)
	assert.Equal(t, `t1."ID"`, got)
}
