package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for the phase state machine, in the same idiom as
// internal/validation's transition errors: a Go sentinel per kind,
// wrapped with context at the point of detection.
var (
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")
	ErrStepCeilingReached     = errors.New("step ceiling reached")
)

// phaseTransitions enumerates the phases reachable from each phase. Early
// exits (FinalizeNoData, ClarifyIntent) leave Planning for PhaseDone
// directly, bypassing Building/Execution/Reporting entirely.
var phaseTransitions = map[Phase][]Phase{
	PhasePlanning:  {PhaseBuilding, PhaseDone},
	PhaseBuilding:  {PhaseExecution},
	PhaseExecution: {PhaseReporting},
	PhaseReporting: {PhaseDone},
}

// isAllowedPhaseTransition mirrors internal/validation's
// isAllowedTransition helper, adapted from entity lifecycle states to
// orchestrator phases.
func isAllowedPhaseTransition(from, to Phase) bool {
	allowed, ok := phaseTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

func phaseTransitionError(from, to Phase) error {
	return fmt.Errorf("%w: cannot transition from %q to %q", ErrInvalidPhaseTransition, from, to)
}

// terminalTool describes what firing a given terminal tool does to the
// state machine: Next is the phase to advance to (ignored when Done is
// true).
type terminalTool struct {
	Next Phase
	Done bool
}

// terminalTools maps each phase's terminal tool names to the transition
// its firing triggers.
var terminalTools = map[string]terminalTool{
	ToolFinalizePlan:   {Next: PhaseBuilding},
	ToolFinalizeNoData: {Done: true},
	ToolClarifyIntent:  {Done: true},
	ToolFinalizeBuild:  {Next: PhaseExecution},
	ToolExecuteQuery:   {Next: PhaseReporting},
	ToolFinalizeReport: {Done: true},
}
