package service

import "fmt"

// GradingState is a step of a grading run.
type GradingState string

const (
	StateIdle                 GradingState = "idle"
	StateValidatingCredential GradingState = "validating_credential"
	StateCollectingInputs     GradingState = "collecting_inputs"
	StateDispatching          GradingState = "dispatching"
	StateAwaitingResponse     GradingState = "awaiting_response"
	StateReconciling          GradingState = "reconciling"
	StateDone                 GradingState = "done"
	StateFailed               GradingState = "failed"
)

var gradingTransitions = map[GradingState]GradingState{
	StateIdle:                 StateValidatingCredential,
	StateValidatingCredential: StateCollectingInputs,
	StateCollectingInputs:     StateDispatching,
	StateDispatching:          StateAwaitingResponse,
	StateAwaitingResponse:     StateReconciling,
	StateReconciling:          StateDone,
}

// Terminal reports whether no further transition is possible.
func (s GradingState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Description is the progress text shown to users for the state.
func (s GradingState) Description() string {
	switch s {
	case StateValidatingCredential:
		return "Checking API key..."
	case StateCollectingInputs:
		return "Step 1/3: Reading inputs..."
	case StateDispatching:
		return "Step 2/3: Sending to the grader..."
	case StateAwaitingResponse:
		return "Step 2/3: AI is grading..."
	case StateReconciling:
		return "Step 3/3: Calculating similarity scores..."
	case StateDone:
		return "Grading complete."
	case StateFailed:
		return "Grading failed."
	default:
		return "Ready."
	}
}

// CanTransition reports whether from may move to to. Failed is reachable
// from every non-terminal state.
func CanTransition(from, to GradingState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return gradingTransitions[from] == to
}

type gradingStateMachine struct {
	state    GradingState
	onChange func(from, to GradingState)
}

func newGradingStateMachine(onChange func(from, to GradingState)) *gradingStateMachine {
	return &gradingStateMachine{state: StateIdle, onChange: onChange}
}

func (m *gradingStateMachine) transition(to GradingState) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("illegal grading transition %s -> %s", m.state, to)
	}
	from := m.state
	m.state = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}

func (m *gradingStateMachine) fail() {
	if m.state.Terminal() {
		return
	}
	_ = m.transition(StateFailed)
}
