package workflow

import (
	"time"

	"github.com/garyjia/lotus/internal/domain/entity"
	domainwf "github.com/garyjia/lotus/internal/domain/workflow"
)

// Entities are the task parameters pulled out of a candidate
type Entities struct {
	Assignee  string `json:"assignee,omitempty"`
	Action    string `json:"action,omitempty"`
	Object    string `json:"object,omitempty"`
	DuePhrase string `json:"due_phrase,omitempty"`
}

// WorkflowState is the mutable record of one workflow execution. It is owned
// by that execution and never shared between goroutines.
type WorkflowState struct {
	Candidate entity.CandidateUnit

	// Analyze output
	Reason    string
	Evidence  []string
	Certainty *float64

	// Extract output
	Entities       Entities
	PrioritySignal string
	DueDate        *time.Time
	Title          string
	Description    string
	Quote          string

	// Resolved citation
	Context  string
	Citation CitationFidelity

	ExtractAttempts  int
	ExtractParseFail bool
	ValidationErrors []string

	// Err holds the stage error that moved the workflow to FAILED or CANCELLED
	Err error
}

// TaskDraft is what GENERATE_TASK hands to scoring
type TaskDraft struct {
	Title       string
	Description string
	Context     string
	Assignee    string
	DueDate     *time.Time
	Priority    int
	Certainty   *float64
	Citation    CitationFidelity
}

// Result is the outcome of running one candidate through the workflow
type Result struct {
	Candidate entity.CandidateUnit
	State     domainwf.State
	Draft     *TaskDraft
	Err       error

	ValidationErrors []string
	History          []domainwf.Transition
}

// Succeeded reports whether the workflow produced a draft
func (r *Result) Succeeded() bool {
	return r.State.IsSuccess() && r.Draft != nil
}
