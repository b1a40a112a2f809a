package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCitation(t *testing.T) {
	text := "Hi team! Can you send the Q4 report to finance by Friday? Thanks."

	tests := []struct {
		name         string
		quote        string
		wantContext  string
		wantFidelity CitationFidelity
	}{
		{
			name:         "exact substring",
			quote:        "send the Q4 report to finance",
			wantContext:  "send the Q4 report to finance",
			wantFidelity: CitationExact,
		},
		{
			name:         "exact after stripping quotes",
			quote:        `"Can you send the Q4 report to finance by Friday?"`,
			wantContext:  "Can you send the Q4 report to finance by Friday?",
			wantFidelity: CitationExact,
		},
		{
			name:         "paraphrase with dropped words maps to the sentence",
			quote:        "can you send Q4 report to finance by Friday",
			wantContext:  "Can you send the Q4 report to finance by Friday?",
			wantFidelity: CitationFuzzy,
		},
		{
			name:         "unrelated quote",
			quote:        "Approve the vacation request",
			wantContext:  "",
			wantFidelity: CitationNone,
		},
		{
			name:         "empty quote",
			quote:        "  ",
			wantContext:  "",
			wantFidelity: CitationNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			context, fidelity := ResolveCitation(text, tt.quote)
			assert.Equal(t, tt.wantContext, context)
			assert.Equal(t, tt.wantFidelity, fidelity)
			if context != "" {
				assert.True(t, strings.Contains(text, context))
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	text := "Alice: ship v1.2 today. Bob: ok!\nCarol: can someone file the bug?"

	got := SplitSentences(text)
	assert.Equal(t, []string{
		"Alice: ship v1.2 today.",
		"Bob: ok!",
		"Carol: can someone file the bug?",
	}, got)

	for _, s := range got {
		assert.Contains(t, text, s)
	}
}
