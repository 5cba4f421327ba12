// Package orchestrator drives the four-phase LLM tool-calling loop
// (Planning, Building, Execution, Reporting) that turns a user question
// into a finalized plan, rendered SQL, an execution result, and a
// narrative report.
package orchestrator

// Phase is one step of the orchestrator's state machine. Each phase has
// its own system prompt and tool allow-list.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseBuilding  Phase = "building"
	PhaseExecution Phase = "execution"
	PhaseReporting Phase = "reporting"
	// PhaseDone is terminal: the loop stops issuing further steps.
	PhaseDone Phase = "done"
)

// Terminal tool names, one per phase, whose firing advances (or ends) the
// state machine. Names are roles, not wire identifiers chosen
// for any particular LLM provider's tool-calling convention.
const (
	ToolFinalizePlan   = "finalize_plan"
	ToolFinalizeNoData = "finalize_no_data"
	ToolClarifyIntent  = "clarify_intent"
	ToolFinalizeBuild  = "finalize_build"
	ToolExecuteQuery   = "execute_with_repair"
	ToolFinalizeReport = "finalize_report"
)

// stepCeiling is the hard deadman bound on LLM steps for a single request,
// across every phase, guarding against a runaway tool-calling loop.
const stepCeiling = 100
