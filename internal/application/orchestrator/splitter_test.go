package orchestrator

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/lotus/internal/domain/entity"
)

func TestSplitter_Split(t *testing.T) {
	s := NewSplitter(0)

	tests := []struct {
		name       string
		raw        string
		sourceType entity.SourceType
		want       []string
	}{
		{
			name:       "paragraphs",
			raw:        "First para line one.\nline two.\n\n  \nSecond para.\r\n\r\nThird.",
			sourceType: entity.SourceManualText,
			want:       []string{"First para line one.\nline two.", "Second para.", "Third."},
		},
		{
			name:       "transcript lines",
			raw:        "Alice: can you file the bug?\n\nBob: sure, by EOD.\nCarol: thanks",
			sourceType: entity.SourceMeetTranscript,
			want:       []string{"Alice: can you file the bug?", "Bob: sure, by EOD.", "Carol: thanks"},
		},
		{
			name:       "blank input",
			raw:        " \n\n\t",
			sourceType: entity.SourceSlackDM,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Split(tt.raw, tt.sourceType))
		})
	}
}

func TestSplitter_LongSegmentsCutAtSentences(t *testing.T) {
	s := NewSplitter(40)
	raw := "Please send the deck today. Then book the room for Friday. Also ping Dana about the budget."

	chunks := s.Split(raw, entity.SourceManualText)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Please send the deck today.", chunks[0])
	assert.Equal(t, "Then book the room for Friday.", chunks[1])
	assert.Equal(t, "Also ping Dana about the budget.", chunks[2])
	for _, c := range chunks {
		assert.Contains(t, raw, c)
	}
}

func TestSplitter_HardSplitsOverlongSentence(t *testing.T) {
	s := NewSplitter(20)
	raw := strings.Repeat("word ", 20)

	chunks := s.Split(raw, entity.SourceManualText)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 20)
		assert.NotEmpty(t, c)
	}
	assert.Equal(t, strings.Fields(raw), strings.Fields(strings.Join(chunks, " ")))
}

func TestSplitter_UnitsHaveDeterministicIDs(t *testing.T) {
	s := NewSplitter(0)
	req := InferRequest{RawText: "A.\n\nB.", SourceType: entity.SourceSlackDM, SourceID: "D1", OriginTime: time.Now()}

	first := s.Units(req)
	second := s.Units(req)
	require.Len(t, first, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.Equal(t, 1, first[1].Index)
}
