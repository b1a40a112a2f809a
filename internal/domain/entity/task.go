package entity

import (
	"strings"
	"time"
	"unicode"
)

// InferredTask is a task produced by the inference core. The core never
// mutates it after emission; status tracking belongs to the persistence layer.
type InferredTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`

	// Context quotes the candidate text that justified the inference
	Context string `json:"context"`

	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needs_review"`
	Priority    *int    `json:"priority,omitempty"`

	SourceType  SourceType `json:"source_type"`
	SourceID    string     `json:"source_id,omitempty"`
	CandidateID string     `json:"candidate_id"`

	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// DedupKey identifies a task by normalized title and source id
type DedupKey string

// String returns the string representation of the key
func (k DedupKey) String() string {
	return string(k)
}

// Key returns the dedup key of the task
func (t *InferredTask) Key() DedupKey {
	return NewDedupKey(t.Title, t.SourceID)
}

// NewDedupKey derives a dedup key from a title and source id
func NewDedupKey(title, sourceID string) DedupKey {
	return DedupKey(NormalizeTitle(title) + "|" + strings.TrimSpace(sourceID))
}

// Signature returns the signature callers store for an existing task.
// It is the same string as the task's DedupKey.
func Signature(title, sourceID string) string {
	return NewDedupKey(title, sourceID).String()
}

// NormalizeTitle lowercases, drops punctuation and collapses whitespace
func NormalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
