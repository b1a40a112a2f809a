package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Send Q4 report", "send q4 report"},
		{"  Send   the Q4-report! ", "send the q4 report"},
		{"Review PR #123", "review pr 123"},
		{"", ""},
		{"...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeTitle(tt.input))
		})
	}
}

func TestDedupKey_MatchesSignature(t *testing.T) {
	task := InferredTask{Title: "Send Q4 Report.", SourceID: "C123"}

	assert.Equal(t, DedupKey("send q4 report|C123"), task.Key())
	assert.Equal(t, task.Key().String(), Signature("send q4 report", "C123"))
	assert.NotEqual(t, task.Key().String(), Signature("send q4 report", "C999"))
}

func TestNewCandidateUnit_DeterministicID(t *testing.T) {
	origin := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	a := NewCandidateUnit(0, "Can you send me the Q4 report?", SourceSlackDM, "D1", origin)
	b := NewCandidateUnit(0, "Can you send me the Q4 report?", SourceSlackDM, "D1", origin)
	c := NewCandidateUnit(1, "Can you send me the Q4 report?", SourceSlackDM, "D1", origin)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Len(t, a.ID, 36)
}

func TestSourceType_IsValid(t *testing.T) {
	assert.True(t, SourceManualText.IsValid())
	assert.True(t, SourceMeetTranscript.IsValid())
	assert.False(t, SourceType("email").IsValid())
}
