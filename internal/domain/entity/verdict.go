package entity

// ClassificationVerdict is the local model's judgment on one candidate.
// Never mutated after the classifier produces it.
type ClassificationVerdict struct {
	CandidateID string `json:"candidate_id"`
	Actionable  bool   `json:"actionable"`
	Rationale   string `json:"rationale"`
	Model       string `json:"model"`

	// ParseFailed is set when the model output did not conform and the
	// verdict was forced to actionable
	ParseFailed bool `json:"parse_failed,omitempty"`
}
