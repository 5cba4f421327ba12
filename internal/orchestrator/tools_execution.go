package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/queryfabric/queryagent/internal/exec"
	"github.com/queryfabric/queryagent/internal/mcp"
	"github.com/queryfabric/queryagent/internal/warehouse"
)

// executionTools returns the Execution phase's tool allow-list.
func executionTools(st *RunState, deps Deps) []mcp.Tool {
	return []mcp.Tool{
		&estimateCostTool{st: st, deps: deps},
		&executeWithRepairTool{st: st, deps: deps},
	}
}

// CostEstimate is the output of the heuristic EXPLAIN-based cost scorer.
type CostEstimate struct {
	Score           int      `json:"score"` // 0 (cheap) to 100 (expensive/risky)
	JoinCount       int      `json:"join_count"`
	HasTimeFilter   bool     `json:"has_time_filter"`
	PlanRowEstimate int      `json:"plan_row_estimate"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// --- estimate_cost ---

type estimateCostTool struct {
	st   *RunState
	deps Deps
}

func (t *estimateCostTool) Name() string { return "estimate_cost" }
func (t *estimateCostTool) Description() string {
	return "Run EXPLAIN against the built SQL and score it 0-100 for cost/risk, with recommendations. Informational only; does not block execution."
}
func (t *estimateCostTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *estimateCostTool) Execute(ctx context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	t.st.mu.Lock()
	builtSQL := t.st.BuiltSQL
	joinCount := 0
	if t.st.JoinPlan != nil {
		joinCount = len(t.st.JoinPlan.Edges)
	}
	t.st.mu.Unlock()

	if builtSQL == "" {
		return mcp.ErrorResult("no SQL built yet"), nil
	}

	plan, err := t.deps.Guard.Explain(ctx, builtSQL)
	if err != nil {
		// EXPLAIN failing is informative, not fatal: report it as a
		// maximal-risk estimate rather than erroring the tool call.
		estimate := CostEstimate{Score: 100, JoinCount: joinCount, Recommendations: []string{
			"EXPLAIN failed: " + err.Error(),
		}}
		t.st.mu.Lock()
		t.st.CostEstimate = &estimate
		t.st.mu.Unlock()
		return mcp.JSONResult(estimate)
	}

	estimate := scoreCost(builtSQL, joinCount, plan)
	t.st.mu.Lock()
	t.st.CostEstimate = &estimate
	t.st.mu.Unlock()

	return mcp.JSONResult(estimate)
}

// scoreCost combines a handful of cheap signals into a 0-100 score: a
// join for every hop, a large EXPLAIN row estimate, and the absence of a
// time-range predicate on a joined query, each contributing points and a
// matching recommendation.
func scoreCost(sqlText string, joinCount int, plan *warehouse.QueryResult) CostEstimate {
	score := 0
	var recs []string

	score += joinCount * 10
	if joinCount > 2 {
		recs = append(recs, "query joins more than two entities; confirm every join is necessary")
	}

	hasTimeFilter := strings.Contains(strings.ToUpper(sqlText), "WHERE") &&
		(strings.Contains(sqlText, ">=") && strings.Contains(sqlText, "<"))
	if !hasTimeFilter && joinCount > 0 {
		score += 20
		recs = append(recs, "no time-range predicate found on a joined query; consider narrowing the window")
	}

	rowEstimate := len(plan.Rows)
	if rowEstimate > 0 {
		score += minInt(40, rowEstimate)
	}

	if score > 100 {
		score = 100
	}
	return CostEstimate{
		Score:           score,
		JoinCount:       joinCount,
		HasTimeFilter:   hasTimeFilter,
		PlanRowEstimate: rowEstimate,
		Recommendations: recs,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- execute_with_repair ---

type executeWithRepairTool struct {
	st   *RunState
	deps Deps
}

func (t *executeWithRepairTool) Name() string { return "execute_with_repair" }
func (t *executeWithRepairTool) Description() string {
	return "Execute the built SQL against the warehouse, applying up to two classifier-driven repairs on failure. Always advances to Reporting, whether or not it succeeds."
}
func (t *executeWithRepairTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *executeWithRepairTool) Execute(ctx context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	t.st.mu.Lock()
	builtSQL := t.st.BuiltSQL
	var aliasByEntity map[string]string
	if t.st.JoinPlan != nil {
		aliasByEntity = t.st.JoinPlan.AliasByEntity
	}
	t.st.mu.Unlock()

	if builtSQL == "" {
		return mcp.ErrorResult("no SQL built yet"), nil
	}

	ctx = warehouse.WithSessionTag(ctx, sessionTag(ctx, t.st.RequestID))

	rctx := exec.RepairContext{Registry: t.st.registry(), AliasByEntity: aliasByEntity}
	result := t.deps.Guard.Execute(ctx, builtSQL, rctx)

	t.st.mu.Lock()
	t.st.ExecResult = &result
	t.st.mu.Unlock()

	return mcp.JSONResult(result)
}

// sessionTag builds the Snowflake QUERY_TAG for this execution: the request
// ID always, plus a short fingerprint of the caller's bearer token when the
// request arrived over the HTTP transport, so QUERY_TAG history can be
// correlated back to a caller without the warehouse ever seeing the token
// itself.
func sessionTag(ctx context.Context, requestID string) string {
	token := mcp.BearerTokenFrom(ctx)
	if token == "" {
		return fmt.Sprintf("queryagent:%s", requestID)
	}
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("queryagent:%s:caller-%s", requestID, hex.EncodeToString(sum[:])[:8])
}
