package orchestrator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/garyjia/lotus/internal/application/workflow"
	"github.com/garyjia/lotus/internal/domain/entity"
)

// DefaultMaxCandidateSize is the largest candidate, in characters, sent to the models
const DefaultMaxCandidateSize = 2000

var blankLineRe = regexp.MustCompile(`\n[ \t]*\n`)

// Splitter cuts raw text into candidate spans. Transcripts split per line
// (one utterance each); everything else splits per paragraph. Spans over the
// size limit are cut at sentence boundaries.
type Splitter struct {
	maxSize int
}

// NewSplitter creates a splitter; maxSize <= 0 uses DefaultMaxCandidateSize
func NewSplitter(maxSize int) *Splitter {
	if maxSize <= 0 {
		maxSize = DefaultMaxCandidateSize
	}
	return &Splitter{maxSize: maxSize}
}

// Split returns the candidate texts of raw in input order
func (s *Splitter) Split(raw string, sourceType entity.SourceType) []string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	var segments []string
	if sourceType == entity.SourceMeetTranscript {
		segments = strings.Split(text, "\n")
	} else {
		segments = blankLineRe.Split(text, -1)
	}

	var out []string
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		for _, chunk := range s.chunk(segment) {
			if chunk != "" {
				out = append(out, chunk)
			}
		}
	}
	return out
}

// Units wraps Split, assigning deterministic candidate IDs
func (s *Splitter) Units(req InferRequest) []entity.CandidateUnit {
	texts := s.Split(req.RawText, req.SourceType)
	units := make([]entity.CandidateUnit, len(texts))
	for i, text := range texts {
		units[i] = entity.NewCandidateUnit(i, text, req.SourceType, req.SourceID, req.OriginTime)
	}
	return units
}

func (s *Splitter) chunk(segment string) []string {
	if utf8.RuneCountInString(segment) <= s.maxSize {
		return []string{segment}
	}

	var chunks []string
	start, end, cursor := 0, 0, 0

	for _, sentence := range workflow.SplitSentences(segment) {
		idx := strings.Index(segment[cursor:], sentence)
		if idx < 0 {
			continue
		}
		sStart := cursor + idx
		sEnd := sStart + len(sentence)
		cursor = sEnd

		if end > start && utf8.RuneCountInString(segment[start:sEnd]) > s.maxSize {
			chunks = append(chunks, strings.TrimSpace(segment[start:end]))
			start = sStart
		}
		end = sEnd

		if utf8.RuneCountInString(segment[start:end]) > s.maxSize {
			chunks = append(chunks, hardSplit(segment[start:end], s.maxSize)...)
			start = end
		}
	}

	if end > start {
		if rest := strings.TrimSpace(segment[start:end]); rest != "" {
			chunks = append(chunks, rest)
		}
	}
	return chunks
}

// hardSplit cuts a single over-long sentence, preferring whitespace near the limit
func hardSplit(s string, max int) []string {
	var out []string
	runes := []rune(strings.TrimSpace(s))

	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			out = append(out, part)
		}
		runes = runes[cut:]
	}

	if rest := strings.TrimSpace(string(runes)); rest != "" {
		out = append(out, rest)
	}
	return out
}
