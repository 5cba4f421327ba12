package exec

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryfabric/queryagent/internal/semantic"
	"github.com/queryfabric/queryagent/internal/warehouse"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedExecutor struct {
	executeCalls int
	executeErrs  []error
	executeOK    *warehouse.QueryResult
	explainOK    *warehouse.QueryResult
}

func (e *scriptedExecutor) Execute(_ context.Context, _ string, _ time.Duration) (*warehouse.QueryResult, error) {
	idx := e.executeCalls
	e.executeCalls++
	if idx < len(e.executeErrs) {
		return nil, e.executeErrs[idx]
	}
	return e.executeOK, nil
}

func (e *scriptedExecutor) Explain(_ context.Context, _ string, _ time.Duration) (*warehouse.QueryResult, error) {
	return e.explainOK, nil
}

func (e *scriptedExecutor) Close() error { return nil }

func newTestGuard(exec warehouse.Executor) *Guard {
	breaker := NewBreaker(3, 60*time.Second)
	cache := NewResultCache(10, 5*time.Minute)
	cfg := GuardConfig{
		StatementTimeout: time.Second,
		ExplainTimeout:   time.Second,
		MaxRetries:       3,
		InitialBackoff:   time.Millisecond,
	}
	return NewGuard(exec, cache, breaker, cfg, testLogger())
}

func TestGuardExecute_SucceedsFirstTry(t *testing.T) {
	fake := &scriptedExecutor{executeOK: &warehouse.QueryResult{
		Rows:    []map[string]any{{"n": 1}},
		Columns: []warehouse.Column{{Name: "n", Type: "NUMBER"}},
		QueryID: "q1",
	}}
	g := newTestGuard(fake)

	result := g.Execute(context.Background(), "SELECT 1 AS n", RepairContext{})
	require.True(t, result.OK)
	assert.Equal(t, 1, fake.executeCalls)
	assert.False(t, result.Repaired)
	assert.Equal(t, "q1", result.LastQueryID)
}

func TestGuardExecute_RejectsMultipleStatementsWithoutCallingExecutor(t *testing.T) {
	fake := &scriptedExecutor{}
	g := newTestGuard(fake)

	result := g.Execute(context.Background(), "SELECT 1; SELECT 2;", RepairContext{})
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 0, fake.executeCalls)
}

func TestGuardExecute_RetriesTransientFailure(t *testing.T) {
	fake := &scriptedExecutor{
		executeErrs: []error{errors.New("connection reset by peer")},
		executeOK:   &warehouse.QueryResult{Rows: []map[string]any{{"n": 1}}},
	}
	g := newTestGuard(fake)

	result := g.Execute(context.Background(), "SELECT 1 AS n", RepairContext{})
	require.True(t, result.OK)
	assert.Equal(t, 2, fake.executeCalls)
}

func TestGuardExecute_CacheHitSkipsExecutor(t *testing.T) {
	fake := &scriptedExecutor{executeOK: &warehouse.QueryResult{Rows: []map[string]any{{"n": 1}}}}
	g := newTestGuard(fake)

	first := g.Execute(context.Background(), "SELECT 1 AS n", RepairContext{})
	require.True(t, first.OK)
	require.Equal(t, 1, fake.executeCalls)

	second := g.Execute(context.Background(), "SELECT 1 AS n", RepairContext{})
	require.True(t, second.OK)
	assert.Equal(t, 1, fake.executeCalls, "second call must be served from cache")
}

func TestGuardExecute_RepairsColumnNotFoundThenSucceeds(t *testing.T) {
	deals := &semantic.Entity{
		Name:  "deals",
		Table: "analytics.deals",
		Dimensions: []semantic.Dimension{
			{Name: "status", SQL: "{CUBE}.STATUS", Type: "string"},
		},
	}
	require.NoError(t, deals.Build())
	reg := semantic.NewRegistry(map[string]*semantic.Entity{"deals": deals})
	rctx := RepairContext{Registry: reg, AliasByEntity: map[string]string{"deals": "t0"}}

	// The broken statement fails on every one of its MaxRetries (3)
	// attempts, so only the repaired statement can succeed.
	compileErr := errors.New(`SQL compilation error: invalid identifier 'STATS'`)
	fake := &scriptedExecutor{
		executeErrs: []error{compileErr, compileErr, compileErr},
		executeOK:   &warehouse.QueryResult{Rows: []map[string]any{{"status": "won"}}},
	}
	g := newTestGuard(fake)

	result := g.Execute(context.Background(), `SELECT STATS FROM analytics.deals t0`, rctx)
	require.True(t, result.OK)
	assert.True(t, result.Repaired)
	assert.Contains(t, result.AttemptedSQL, "t0.status")
}

func TestGuardExecute_GivesUpWhenRepairFindsNoCandidate(t *testing.T) {
	fake := &scriptedExecutor{
		executeErrs: []error{
			errors.New(`SQL compilation error: invalid identifier 'A'`),
		},
	}
	breaker := NewBreaker(10, time.Minute)
	cache := NewResultCache(10, time.Minute)
	cfg := GuardConfig{StatementTimeout: time.Second, ExplainTimeout: time.Second, MaxRetries: 1, InitialBackoff: time.Millisecond}
	g := NewGuard(fake, cache, breaker, cfg, testLogger())

	// Registry has no entities, so classify-and-repair can never find a
	// fuzzy match: Repair reports no candidate and the Guard gives up
	// after the first failed attempt instead of spinning through retries.
	result := g.Execute(context.Background(), "SELECT A FROM analytics.deals t0", RepairContext{Registry: semantic.NewRegistry(nil)})
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, fake.executeCalls)
}

func TestGuardExplain_Passthrough(t *testing.T) {
	fake := &scriptedExecutor{explainOK: &warehouse.QueryResult{QueryID: "explain-1"}}
	g := newTestGuard(fake)

	qr, err := g.Explain(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "explain-1", qr.QueryID)
}

func TestGuardExplain_RejectsPolicyViolation(t *testing.T) {
	fake := &scriptedExecutor{}
	g := newTestGuard(fake)

	_, err := g.Explain(context.Background(), "DROP TABLE analytics.deals")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicy)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fake := &scriptedExecutor{
		executeErrs: []error{
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
		},
	}
	breaker := NewBreaker(1, time.Minute)
	cache := NewResultCache(10, time.Minute)
	cfg := GuardConfig{StatementTimeout: time.Second, ExplainTimeout: time.Second, MaxRetries: 1, InitialBackoff: time.Millisecond}
	g := NewGuard(fake, cache, breaker, cfg, testLogger())

	first := g.Execute(context.Background(), "SELECT 1", RepairContext{})
	assert.False(t, first.OK)

	second := g.Execute(context.Background(), "SELECT 2", RepairContext{})
	assert.False(t, second.OK)
	assert.Contains(t, second.Error, gobreaker.ErrOpenState.Error())
}
