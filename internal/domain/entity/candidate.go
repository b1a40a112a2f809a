package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// candidateNamespace scopes name-based candidate IDs
var candidateNamespace = uuid.MustParse("6f1c3f8e-4a5b-4d2c-9e7a-2b8d0c4f5a61")

// CandidateUnit is one span of raw text considered for task inference.
// It is immutable once created by the orchestrator's splitter.
type CandidateUnit struct {
	ID         string     `json:"id"`
	Index      int        `json:"index"`
	Text       string     `json:"-"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id,omitempty"`
	OriginTime time.Time  `json:"origin_time"`
}

// NewCandidateUnit builds a candidate with a deterministic ID, so that the same
// text from the same source and position always maps to the same candidate.
func NewCandidateUnit(index int, text string, sourceType SourceType, sourceID string, origin time.Time) CandidateUnit {
	name := fmt.Sprintf("%s|%s|%d|%s", sourceType, sourceID, index, text)
	return CandidateUnit{
		ID:         uuid.NewSHA1(candidateNamespace, []byte(name)).String(),
		Index:      index,
		Text:       text,
		SourceType: sourceType,
		SourceID:   sourceID,
		OriginTime: origin,
	}
}
