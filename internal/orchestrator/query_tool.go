package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/queryfabric/queryagent/internal/mcp"
)

// AskQuestionTool is the single outward-facing MCP tool: it accepts a
// natural-language question and drives it through the full Planning ->
// Building -> Execution -> Reporting state machine, returning the
// terminal Outcome. Unlike the per-phase tools in tools_planning.go et
// al, which are only ever visible to the model mid-run, this is the one
// tool an MCP client actually calls.
type AskQuestionTool struct {
	Orchestrator *Orchestrator
}

type askQuestionParams struct {
	Question string `json:"question"`
}

func (t *AskQuestionTool) Name() string { return "ask_question" }

func (t *AskQuestionTool) Description() string {
	return "Answer a natural-language analytics question by planning, building, executing, " +
		"and reporting on a SQL query against the semantic layer."
}

func (t *AskQuestionTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The natural-language question to answer."}
		},
		"required": ["question"]
	}`)
}

func (t *AskQuestionTool) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p askQuestionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid params: %v", err)), nil
	}
	if p.Question == "" {
		return mcp.ErrorResult("question is required"), nil
	}

	requestID := uuid.NewString()
	outcome, err := t.Orchestrator.Run(ctx, requestID, p.Question, nil)
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("request %s: %v", requestID, err)), nil
	}
	return mcp.JSONResult(outcome)
}
