package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryfabric/queryagent/internal/exec"
	"github.com/queryfabric/queryagent/internal/semantic"
	"github.com/queryfabric/queryagent/internal/warehouse"
)

// fakeExecutor is a minimal warehouse.Executor stand-in for Guard-backed
// orchestrator tool tests.
type fakeExecutor struct {
	result  *warehouse.QueryResult
	explain *warehouse.QueryResult
	err     error
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, _ time.Duration) (*warehouse.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) Explain(_ context.Context, _ string, _ time.Duration) (*warehouse.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.explain, nil
}

func (f *fakeExecutor) Close() error { return nil }

func newTestGuard(t *testing.T, fx *fakeExecutor) *exec.Guard {
	t.Helper()
	cache := exec.NewResultCache(16, time.Minute)
	breaker := exec.NewBreaker(5, time.Second)
	cfg := exec.GuardConfig{StatementTimeout: time.Second, ExplainTimeout: time.Second, MaxRetries: 1, InitialBackoff: time.Millisecond}
	logger := slog.Default()
	return exec.NewGuard(fx, cache, breaker, cfg, logger)
}

func TestScoreCost_PenalizesJoinsAndMissingTimeFilter(t *testing.T) {
	sqlNoFilter := `SELECT t0."ID" FROM "DB"."SCHEMA"."ACCOUNTS" AS t0 LEFT JOIN "DB"."SCHEMA"."DEALS" AS t1 ON t0."ID" = t1."ACCOUNT_ID" LIMIT 1001`
	plan := &warehouse.QueryResult{Rows: make([]map[string]any, 5)}

	est := scoreCost(sqlNoFilter, 1, plan)
	assert.Equal(t, 1, est.JoinCount)
	assert.False(t, est.HasTimeFilter)
	assert.NotEmpty(t, est.Recommendations)
	assert.Greater(t, est.Score, 0)
}

func TestScoreCost_HighJoinCountRecommendsReview(t *testing.T) {
	est := scoreCost(`SELECT 1 WHERE "D" >= '2024-01-01' AND "D" < '2024-02-01'`, 3, &warehouse.QueryResult{})
	assert.True(t, est.HasTimeFilter)
	found := false
	for _, r := range est.Recommendations {
		if r == "query joins more than two entities; confirm every join is necessary" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEstimateCostTool_NoBuiltSQL(t *testing.T) {
	st := newRunState("req-1", "how many deals closed last month")
	tool := &estimateCostTool{st: st, deps: Deps{}}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEstimateCostTool_StoresEstimate(t *testing.T) {
	st := newRunState("req-1", "q")
	st.BuiltSQL = `SELECT 1 WHERE "D" >= '2024-01-01' AND "D" < '2024-02-01'`
	fx := &fakeExecutor{explain: &warehouse.QueryResult{Rows: []map[string]any{{"a": 1}}}}
	guard := newTestGuard(t, fx)
	tool := &estimateCostTool{st: st, deps: Deps{Guard: guard}}

	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NotNil(t, st.CostEstimate)
	assert.True(t, st.CostEstimate.HasTimeFilter)
}

func TestExecuteWithRepairTool_NoBuiltSQL(t *testing.T) {
	st := newRunState("req-1", "q")
	tool := &executeWithRepairTool{st: st, deps: Deps{}}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteWithRepairTool_StoresResultOnSuccess(t *testing.T) {
	st := newRunState("req-1", "q")
	st.BuiltSQL = `SELECT t0."NAME" FROM "DB"."SCHEMA"."ACCOUNTS" AS t0 LIMIT 1001`
	st.JoinPlan = &semantic.JoinPlan{AliasByEntity: map[string]string{"accounts": "t0"}}
	fx := &fakeExecutor{result: &warehouse.QueryResult{
		Rows:    []map[string]any{{"NAME": "Acme"}},
		Columns: []warehouse.Column{{Name: "NAME", Type: "TEXT"}},
	}}
	guard := newTestGuard(t, fx)
	tool := &executeWithRepairTool{st: st, deps: Deps{Guard: guard}}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.NotNil(t, st.ExecResult)
	assert.True(t, st.ExecResult.OK)
	assert.Len(t, st.ExecResult.Rows, 1)
}

func TestExecuteWithRepairTool_NonFatalOnFailure(t *testing.T) {
	st := newRunState("req-1", "q")
	st.BuiltSQL = `SELECT t0."NAME" FROM "DB"."SCHEMA"."ACCOUNTS" AS t0 LIMIT 1001`
	fx := &fakeExecutor{err: assertError("column FOO does not exist")}
	guard := newTestGuard(t, fx)
	tool := &executeWithRepairTool{st: st, deps: Deps{Guard: guard}}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.IsError, "execution failure must not error the tool call itself")
	require.NotNil(t, st.ExecResult)
	assert.False(t, st.ExecResult.OK)
}

type assertError string

func (e assertError) Error() string { return string(e) }
