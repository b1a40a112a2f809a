package scoring

import (
	"fmt"
	"time"

	"github.com/garyjia/lotus/internal/application/workflow"
	"github.com/garyjia/lotus/internal/domain/entity"
)

// ConfidenceWeights defines how a validated workflow result becomes a 0-100 confidence
type ConfidenceWeights struct {
	CertaintyFactor  float64 `mapstructure:"certainty_factor"`
	DefaultCertainty float64 `mapstructure:"default_certainty"`
	AssigneeBonus    float64 `mapstructure:"assignee_bonus"`
	DueDateBonus     float64 `mapstructure:"due_date_bonus"`
	ExactCitation    float64 `mapstructure:"exact_citation_bonus"`
	FuzzyCitation    float64 `mapstructure:"fuzzy_citation_bonus"`
	ReviewThreshold  float64 `mapstructure:"review_threshold"`
}

// DefaultConfidenceWeights returns the default weight configuration
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		CertaintyFactor:  0.5,
		DefaultCertainty: 50,
		AssigneeBonus:    10,
		DueDateBonus:     10,
		ExactCitation:    30,
		FuzzyCitation:    10,
		ReviewThreshold:  70,
	}
}

// Validate ensures weights are within valid ranges
func (w *ConfidenceWeights) Validate() error {
	if w.CertaintyFactor < 0 || w.CertaintyFactor > 1 {
		return fmt.Errorf("certainty_factor must be between 0.0 and 1.0, got %.2f", w.CertaintyFactor)
	}
	if w.DefaultCertainty < 0 || w.DefaultCertainty > 100 {
		return fmt.Errorf("default_certainty must be between 0 and 100, got %.2f", w.DefaultCertainty)
	}
	for name, v := range map[string]float64{
		"assignee_bonus":       w.AssigneeBonus,
		"due_date_bonus":       w.DueDateBonus,
		"exact_citation_bonus": w.ExactCitation,
		"fuzzy_citation_bonus": w.FuzzyCitation,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %.2f", name, v)
		}
	}
	if w.FuzzyCitation > w.ExactCitation {
		return fmt.Errorf("fuzzy_citation_bonus must not exceed exact_citation_bonus (fuzzy: %.2f, exact: %.2f)", w.FuzzyCitation, w.ExactCitation)
	}
	if w.ReviewThreshold < 0 || w.ReviewThreshold > 100 {
		return fmt.Errorf("review_threshold must be between 0 and 100, got %.2f", w.ReviewThreshold)
	}
	return nil
}

// Scorer turns a successful workflow result into an InferredTask
type Scorer struct {
	weights ConfidenceWeights
	now     func() time.Time
}

// NewScorer creates a new scorer with the given weights
func NewScorer(weights ConfidenceWeights) *Scorer {
	return &Scorer{
		weights: weights,
		now:     time.Now,
	}
}

// Weights returns the scorer's weight configuration
func (s *Scorer) Weights() ConfidenceWeights {
	return s.weights
}

// Confidence computes the clamped 0-100 score of a draft
func (s *Scorer) Confidence(draft *workflow.TaskDraft) float64 {
	certainty := s.weights.DefaultCertainty
	if draft.Certainty != nil {
		certainty = *draft.Certainty
	}

	score := certainty * s.weights.CertaintyFactor

	if draft.Assignee != "" {
		score += s.weights.AssigneeBonus
	}
	if draft.DueDate != nil {
		score += s.weights.DueDateBonus
	}

	switch draft.Citation {
	case workflow.CitationExact:
		score += s.weights.ExactCitation
	case workflow.CitationFuzzy:
		score += s.weights.FuzzyCitation
	}

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// Score builds the task for a workflow result that reached GENERATE_TASK
func (s *Scorer) Score(res *workflow.Result) (entity.InferredTask, error) {
	if res == nil || !res.Succeeded() {
		return entity.InferredTask{}, fmt.Errorf("cannot score a workflow that did not generate a task")
	}

	draft := res.Draft
	confidence := s.Confidence(draft)

	priority := draft.Priority
	if priority < entity.MinPriority {
		priority = entity.MinPriority
	}
	if priority > entity.MaxPriority {
		priority = entity.MaxPriority
	}

	return entity.InferredTask{
		Title:       draft.Title,
		Description: draft.Description,
		Context:     draft.Context,
		Confidence:  confidence,
		NeedsReview: confidence < s.weights.ReviewThreshold,
		Priority:    &priority,
		SourceType:  res.Candidate.SourceType,
		SourceID:    res.Candidate.SourceID,
		CandidateID: res.Candidate.ID,
		DueDate:     draft.DueDate,
		CreatedAt:   s.now().UTC(),
	}, nil
}
