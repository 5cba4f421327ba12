package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/queryfabric/queryagent/internal/mcp"
	"github.com/queryfabric/queryagent/internal/semantic"
	"github.com/queryfabric/queryagent/internal/sql"
)

// buildingTools returns the Building phase's tool allow-list.
func buildingTools(st *RunState, deps Deps) []mcp.Tool {
	return []mcp.Tool{
		&computeJoinPathTool{st: st, deps: deps},
		&buildSQLTool{st: st, deps: deps},
		&validateSQLTool{st: st, deps: deps},
		&finalizeBuildTool{st: st, deps: deps},
	}
}

// --- compute_join_path ---

type computeJoinPathTool struct {
	st   *RunState
	deps Deps
}

func (t *computeJoinPathTool) Name() string { return "compute_join_path" }
func (t *computeJoinPathTool) Description() string {
	return "Compute the deterministic join path connecting the plan's base entity to every selected entity."
}
func (t *computeJoinPathTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *computeJoinPathTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	if t.st.Plan == nil {
		return mcp.ErrorResult("no finalized plan; Planning must finish first"), nil
	}

	reg := t.st.registry()
	base := t.st.Plan.SelectedEntities[0]
	jp, err := semantic.ComputeJoinPath(base, t.st.Plan.SelectedEntities, reg)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	t.st.mu.Lock()
	t.st.JoinPlan = jp
	t.st.mu.Unlock()

	edges := make([]map[string]any, len(jp.Edges))
	for i, e := range jp.Edges {
		edges[i] = map[string]any{
			"from": e.From, "to": e.To,
			"from_field": e.FromField, "to_field": e.ToField,
			"relationship": string(e.Relationship),
		}
	}
	return mcp.JSONResult(map[string]any{
		"alias_by_entity": jp.AliasByEntity,
		"ordered":         jp.OrderedEntities,
		"edges":           edges,
	})
}

// --- build_sql_from_plan ---

type buildSQLTool struct {
	st   *RunState
	deps Deps
}

func (t *buildSQLTool) Name() string { return "build_sql_from_plan" }
func (t *buildSQLTool) Description() string {
	return "Render the finalized plan to SQL text via the semantic renderer."
}
func (t *buildSQLTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *buildSQLTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	if t.st.Plan == nil {
		return mcp.ErrorResult("no finalized plan; Planning must finish first"), nil
	}

	reg := t.st.registry()
	rendered, err := sql.Render(t.st.Plan, reg)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	t.st.mu.Lock()
	t.st.BuiltSQL = rendered
	t.st.SQLValidated = false
	t.st.mu.Unlock()

	return mcp.JSONResult(map[string]any{"sql": rendered})
}

// --- validate_sql ---

type validateSQLTool struct {
	st   *RunState
	deps Deps
}

func (t *validateSQLTool) Name() string { return "validate_sql" }
func (t *validateSQLTool) Description() string {
	return "Run the syntax and semantic scans against the built SQL. Must pass before finalize_build."
}
func (t *validateSQLTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *validateSQLTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	t.st.mu.Lock()
	builtSQL := t.st.BuiltSQL
	t.st.mu.Unlock()

	if builtSQL == "" {
		return mcp.ErrorResult("no SQL built yet; call build_sql_from_plan first"), nil
	}

	if err := sql.ValidateSyntax(builtSQL); err != nil {
		return mcp.JSONResult(map[string]any{"ok": false, "error": err.Error()})
	}

	reg := t.st.registry()
	if err := sql.ValidateSemantics(t.st.Plan, reg, t.deps.AllowedSchemas); err != nil {
		return mcp.JSONResult(map[string]any{"ok": false, "error": err.Error()})
	}

	t.st.mu.Lock()
	t.st.SQLValidated = true
	t.st.mu.Unlock()

	return mcp.JSONResult(map[string]any{"ok": true})
}

// --- finalize_build ---

type finalizeBuildTool struct {
	st   *RunState
	deps Deps
}

func (t *finalizeBuildTool) Name() string { return "finalize_build" }
func (t *finalizeBuildTool) Description() string {
	return "Advance to Execution. Rejected unless validate_sql has reported ok=true for the current SQL."
}
func (t *finalizeBuildTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *finalizeBuildTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	t.st.mu.Lock()
	validated := t.st.SQLValidated
	t.st.mu.Unlock()

	if !validated {
		return mcp.ErrorResult(fmt.Sprintf("%v: SQL has not passed validate_sql", sql.ErrValidation)), nil
	}
	return mcp.JSONResult(map[string]any{"accepted": true})
}
