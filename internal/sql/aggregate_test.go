package sql

import (
	"testing"

	"github.com/queryfabric/queryagent/internal/semantic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAggregate_Count(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureCount}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "COUNT(*)", expr)
}

func TestBuildAggregate_CountWithPredicate(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureCount}, "", []string{`t0."STATUS" = 'won'`})
	require.NoError(t, err)
	assert.Equal(t, `COUNT_IF(t0."STATUS" = 'won')`, expr)
}

func TestBuildAggregate_CountDistinct(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureCountDistinct}, `t0."ACCOUNT_ID"`, nil)
	require.NoError(t, err)
	assert.Equal(t, `COUNT(DISTINCT t0."ACCOUNT_ID")`, expr)
}

func TestBuildAggregate_CountDistinctWithPredicate(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureCountDistinct}, `t0."ACCOUNT_ID"`, []string{`t0."STATUS" = 'won'`})
	require.NoError(t, err)
	assert.Equal(t, `COUNT(DISTINCT IFF(t0."STATUS" = 'won', t0."ACCOUNT_ID", NULL))`, expr)
}

func TestBuildAggregate_SumWithPredicate(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureSum}, `t0."AMOUNT"`, []string{`t0."STATUS" = 'won'`})
	require.NoError(t, err)
	assert.Equal(t, `SUM(IFF(t0."STATUS" = 'won', t0."AMOUNT", NULL))`, expr)
}

func TestBuildAggregate_AvgNoPredicate(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureAvg}, `t0."AMOUNT"`, nil)
	require.NoError(t, err)
	assert.Equal(t, `AVG(t0."AMOUNT")`, expr)
}

func TestBuildAggregate_MultiplePredicatesAnded(t *testing.T) {
	expr, err := buildAggregate(&semantic.Measure{Type: semantic.MeasureSum}, `t0."AMOUNT"`, []string{
		`t0."STATUS" = 'won'`, `t0."REGION" = 'west'`,
	})
	require.NoError(t, err)
	assert.Equal(t, `SUM(IFF((t0."STATUS" = 'won') AND (t0."REGION" = 'west'), t0."AMOUNT", NULL))`, expr)
}

func TestBuildAggregate_UnsupportedType(t *testing.T) {
	_, err := buildAggregate(&semantic.Measure{Type: "median"}, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}
