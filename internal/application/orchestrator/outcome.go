package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/garyjia/lotus/internal/domain/entity"
)

// OutcomeKind is the single fate of one candidate
type OutcomeKind string

const (
	OutcomeEmitted       OutcomeKind = "emitted"
	OutcomeDuplicate     OutcomeKind = "duplicate"
	OutcomeNotActionable OutcomeKind = "not_actionable"
	OutcomeRejected      OutcomeKind = "rejected"
	OutcomeFailed        OutcomeKind = "failed"
	OutcomeDeferred      OutcomeKind = "deferred"
	OutcomeCancelled     OutcomeKind = "cancelled"
)

// AllOutcomeKinds lists every outcome kind
var AllOutcomeKinds = []OutcomeKind{
	OutcomeEmitted,
	OutcomeDuplicate,
	OutcomeNotActionable,
	OutcomeRejected,
	OutcomeFailed,
	OutcomeDeferred,
	OutcomeCancelled,
}

// Outcome reports what happened to one candidate
type Outcome struct {
	Index       int                           `json:"index"`
	CandidateID string                        `json:"candidate_id"`
	Kind        OutcomeKind                   `json:"outcome"`
	Task        *entity.InferredTask          `json:"task,omitempty"`
	Verdict     *entity.ClassificationVerdict `json:"verdict,omitempty"`
	FinalState  string                        `json:"final_state,omitempty"`
	ErrorKind   string                        `json:"error_kind,omitempty"`
	Reason      string                        `json:"reason,omitempty"`
	RetryAfter  time.Duration                 `json:"-"`

	// Candidate is kept for replays of deferred candidates
	Candidate entity.CandidateUnit `json:"-"`
}

// MarshalJSON encodes RetryAfter as whole seconds, rounded up
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
	}{
		plain:             plain(o),
		RetryAfterSeconds: int64((o.RetryAfter + time.Second - 1) / time.Second),
	})
}

// InferenceBatchResult is the ordered result of one Infer call
type InferenceBatchResult struct {
	BatchID  string                `json:"batch_id"`
	Outcomes []Outcome             `json:"outcomes"`
	Tasks    []entity.InferredTask `json:"tasks"`
	Counts   map[OutcomeKind]int   `json:"counts"`
}

func newBatchResult(batchID string, n int) *InferenceBatchResult {
	counts := make(map[OutcomeKind]int, len(AllOutcomeKinds))
	for _, kind := range AllOutcomeKinds {
		counts[kind] = 0
	}
	return &InferenceBatchResult{
		BatchID:  batchID,
		Outcomes: make([]Outcome, 0, n),
		Tasks:    []entity.InferredTask{},
		Counts:   counts,
	}
}

func (r *InferenceBatchResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Counts[o.Kind]++
	if o.Kind == OutcomeEmitted && o.Task != nil {
		r.Tasks = append(r.Tasks, *o.Task)
	}
}

// Deferred returns the outcomes that should be replayed later
func (r *InferenceBatchResult) Deferred() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeDeferred {
			out = append(out, o)
		}
	}
	return out
}
