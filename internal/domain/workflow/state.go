package workflow

// State represents a stage of the inference workflow for one candidate
type State string

const (
	StateAnalyze           State = "ANALYZE"
	StateExtractParameters State = "EXTRACT_PARAMETERS"
	StateValidateTask      State = "VALIDATE_TASK"
	StateGenerateTask      State = "GENERATE_TASK"
	StateRejected          State = "REJECTED"
	StateFailed            State = "FAILED"
	StateCancelled         State = "CANCELLED"
)

var validStates = map[State]bool{
	StateAnalyze:           true,
	StateExtractParameters: true,
	StateValidateTask:      true,
	StateGenerateTask:      true,
	StateRejected:          true,
	StateFailed:            true,
	StateCancelled:         true,
}

var terminalStates = map[State]bool{
	StateGenerateTask: true,
	StateRejected:     true,
	StateFailed:       true,
	StateCancelled:    true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsSuccess returns true only for the terminal state that produces a task
func (s State) IsSuccess() bool {
	return s == StateGenerateTask
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
