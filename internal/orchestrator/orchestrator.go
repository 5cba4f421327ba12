package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/queryfabric/queryagent/internal/exec"
	"github.com/queryfabric/queryagent/internal/llm"
	"github.com/queryfabric/queryagent/internal/mcp"
	"github.com/queryfabric/queryagent/internal/plan"
	"github.com/queryfabric/queryagent/internal/semantic"
)

// Event is one unit of step-level progress emitted while a request is in
// flight: a tool being invoked, a tool's output becoming available, a
// text/reasoning delta from the model, or the terminal "done" marker. See
// the phase transport contract.
type Event struct {
	Type     string          `json:"type"`
	ToolName string          `json:"toolName,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// EventSink receives Events as they occur. A nil sink is valid; events
// are simply dropped.
type EventSink func(Event)

func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}

// RunState is the mutable, request-scoped state shared by every tool
// registered for a request: the conversation transcript and whatever
// each phase has produced so far. Tools close over a *RunState and
// mutate it directly inside Execute, since mcp.Tool's return type
// (*ToolsCallResult) carries only text content back to the model, not a
// typed value back to the orchestrator.
type RunState struct {
	mu sync.Mutex

	RequestID string
	Question  string
	Phase     Phase
	Steps     int

	Messages []llm.Message

	LoadedEntities map[string]*semantic.Entity
	Plan           *plan.FinalizedPlan
	JoinPlan       *semantic.JoinPlan
	BuiltSQL       string
	SQLValidated   bool

	CostEstimate *CostEstimate
	ExecResult   *exec.Result

	Report *ReportOutcome

	NoDataReason    string
	ClarifyQuestion string
}

func newRunState(requestID, question string) *RunState {
	return &RunState{
		RequestID:      requestID,
		Question:       question,
		Phase:          PhasePlanning,
		LoadedEntities: make(map[string]*semantic.Entity),
	}
}

func (s *RunState) appendMessage(m llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, m)
}

// registry returns a Registry view over whatever entities Planning has
// loaded so far, safe to call mid-request.
func (s *RunState) registry() *semantic.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]*semantic.Entity, len(s.LoadedEntities))
	for k, v := range s.LoadedEntities {
		snapshot[k] = v
	}
	return semantic.NewRegistry(snapshot)
}

// Outcome is the terminal result of a full orchestrator run.
type Outcome struct {
	RequestID       string
	FinalPhase      Phase
	Steps           int
	Plan            *plan.FinalizedPlan
	BuiltSQL        string
	ExecResult      *exec.Result
	Report          *ReportOutcome
	NoDataReason    string
	ClarifyQuestion string
}

// Deps bundles every collaborator the orchestrator's tools need: the
// semantic Store for Planning, the Execution Guard for Execution, the
// warehouse's schema allow-list for Building's validator, and a logger.
type Deps struct {
	Store          *semantic.Store
	Guard          *exec.Guard
	AllowedSchemas []string
	Logger         *slog.Logger
}

// Orchestrator drives one phase state machine per request against an
// llm.Client, dispatching tool calls through a fresh, phase-scoped
// mcp.Registry at every step.
type Orchestrator struct {
	llmClient llm.Client
	deps      Deps
}

// New builds an Orchestrator.
func New(llmClient llm.Client, deps Deps) *Orchestrator {
	return &Orchestrator{llmClient: llmClient, deps: deps}
}

// Run drives requestID/question through Planning, Building, Execution,
// and Reporting (or an early exit) to completion, streaming progress to
// sink. It never returns a nil Outcome on a non-error return.
func (o *Orchestrator) Run(ctx context.Context, requestID, question string, sink EventSink) (*Outcome, error) {
	st := newRunState(requestID, question)

	for st.Phase != PhaseDone {
		if st.Steps >= stepCeiling {
			return nil, fmt.Errorf("%w: request %s exceeded %d steps", ErrStepCeilingReached, requestID, stepCeiling)
		}
		st.Steps++

		reg := o.buildRegistry(st)
		req := o.buildChatRequest(st, reg)

		resp, err := o.llmClient.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("llm step %d (%s): %w", st.Steps, st.Phase, err)
		}

		if resp.Content != "" {
			emit(sink, Event{Type: "text_delta", Delta: resp.Content})
		}

		assistantMsg := llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		st.appendMessage(assistantMsg)

		if len(resp.ToolCalls) == 0 {
			// The model produced text with no tool call. Nudge it forward
			// by recording the turn and looping; the step ceiling bounds
			// how long this can go on for.
			continue
		}

		if err := o.dispatchToolCalls(ctx, st, reg, resp.ToolCalls, sink); err != nil {
			return nil, err
		}

		if err := o.applyTransition(st, resp.ToolCalls); err != nil {
			return nil, err
		}
	}

	emit(sink, Event{Type: "done"})
	return st.outcome(), nil
}

// dispatchToolCalls runs every tool call from one step concurrently
// (within the step; steps themselves are strictly sequential), feeding a
// "tool" role message back into the transcript for each result.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, st *RunState, reg *mcp.Registry, calls []llm.ToolCall, sink EventSink) error {
	type outcome struct {
		call   llm.ToolCall
		result *mcp.ToolsCallResult
	}
	outcomes := make([]outcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			emit(sink, Event{Type: "tool_input", ToolName: call.Name, Input: json.RawMessage(call.Arguments)})

			tool := reg.Get(call.Name)
			if tool == nil {
				outcomes[i] = outcome{call: call, result: mcp.ErrorResult(fmt.Sprintf("unknown tool %q for phase %s", call.Name, st.Phase))}
				return nil
			}

			args := call.Arguments
			if args == "" {
				args = "{}"
			}
			result, err := tool.Execute(gctx, json.RawMessage(args))
			if err != nil {
				return fmt.Errorf("tool %q: %w", call.Name, err)
			}
			outcomes[i] = outcome{call: call, result: result}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, oc := range outcomes {
		b, _ := json.Marshal(oc.result)
		emit(sink, Event{Type: "tool_output", ToolName: oc.call.Name, Output: b})
		st.appendMessage(llm.Message{
			Role:       "tool",
			Content:    toolResultText(oc.result),
			ToolCallID: oc.call.ID,
		})
	}
	return nil
}

func toolResultText(r *mcp.ToolsCallResult) string {
	var out string
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}

// applyTransition scans the calls made in the just-completed step for a
// terminal tool and, if found, advances (or ends) the state machine.
func (o *Orchestrator) applyTransition(st *RunState, calls []llm.ToolCall) error {
	for _, call := range calls {
		t, ok := terminalTools[call.Name]
		if !ok {
			continue
		}
		if t.Done {
			st.Phase = PhaseDone
			return nil
		}
		if !isAllowedPhaseTransition(st.Phase, t.Next) {
			return phaseTransitionError(st.Phase, t.Next)
		}
		st.Phase = t.Next
		return nil
	}
	return nil
}

// buildRegistry constructs the tool allow-list for the current phase,
// scoped to this request's RunState and dependencies.
func (o *Orchestrator) buildRegistry(st *RunState) *mcp.Registry {
	reg := mcp.NewRegistry()
	var tools []mcp.Tool
	switch st.Phase {
	case PhasePlanning:
		tools = planningTools(st, o.deps)
	case PhaseBuilding:
		tools = buildingTools(st, o.deps)
	case PhaseExecution:
		tools = executionTools(st, o.deps)
	case PhaseReporting:
		tools = reportingTools(st, o.deps)
	}
	for _, t := range tools {
		reg.Register(t)
	}
	return reg
}

func (o *Orchestrator) buildChatRequest(st *RunState, reg *mcp.Registry) llm.ChatRequest {
	defs := reg.List()
	specs := make([]llm.ToolSpec, len(defs))
	for i, d := range defs {
		var params map[string]any
		_ = json.Unmarshal(d.InputSchema, &params)
		specs[i] = llm.ToolSpec{Name: d.Name, Description: d.Description, Parameters: params}
	}

	messages := make([]llm.Message, 0, len(st.Messages)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt(st.Phase)})
	if st.Phase == PhasePlanning && len(st.Messages) == 0 {
		messages = append(messages, llm.Message{Role: "user", Content: st.Question})
	}
	messages = append(messages, st.Messages...)

	return llm.ChatRequest{Messages: messages, Tools: specs, Temperature: 0}
}

func (s *RunState) outcome() *Outcome {
	return &Outcome{
		RequestID:       s.RequestID,
		FinalPhase:      s.Phase,
		Steps:           s.Steps,
		Plan:            s.Plan,
		BuiltSQL:        s.BuiltSQL,
		ExecResult:      s.ExecResult,
		Report:          s.Report,
		NoDataReason:    s.NoDataReason,
		ClarifyQuestion: s.ClarifyQuestion,
	}
}

func systemPrompt(p Phase) string {
	switch p {
	case PhasePlanning:
		return "You are the planning phase of a SQL query agent. Explore the entity catalog, " +
			"load the entities you need, and call finalize_plan once metrics, dimensions, and " +
			"selected entities are settled. If the question is out of scope for the loaded " +
			"entities, call finalize_no_data. If the question is ambiguous, call clarify_intent."
	case PhaseBuilding:
		return "You are the building phase. Compute the join path for the finalized plan, render " +
			"it to SQL, validate the SQL, and call finalize_build once validation passes."
	case PhaseExecution:
		return "You are the execution phase. Optionally estimate cost, then call " +
			"execute_with_repair to run the built statement against the warehouse."
	case PhaseReporting:
		return "You are the reporting phase. Sanity-check the execution result, format it as " +
			"CSV, explain it in a narrative with a confidence rating, then call finalize_report."
	default:
		return ""
	}
}
