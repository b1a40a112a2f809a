package workflow

import (
	"strings"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
)

// CitationFidelity records how the task context was matched to the candidate text
type CitationFidelity string

const (
	CitationNone  CitationFidelity = ""
	CitationExact CitationFidelity = "exact"
	CitationFuzzy CitationFidelity = "fuzzy"
)

// minFuzzyCoverage is the share of a sentence a quote must cover to count as a fuzzy match
const minFuzzyCoverage = 0.6

// sentenceSource wraps candidate sentences for fuzzy matching
type sentenceSource struct {
	sentences []string
}

func (s sentenceSource) String(i int) string {
	return strings.ToLower(s.sentences[i])
}

func (s sentenceSource) Len() int {
	return len(s.sentences)
}

// ResolveCitation maps a quote returned by the model onto text the candidate
// actually contains. An exact substring is kept as is. Otherwise the closest
// candidate sentence is substituted, so the returned context is always
// verbatim candidate text or empty.
func ResolveCitation(text, quote string) (string, CitationFidelity) {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return "", CitationNone
	}

	if strings.Contains(text, quote) {
		return quote, CitationExact
	}

	trimmed := strings.Trim(quote, `"'“”‘’`)
	if trimmed != "" && strings.Contains(text, trimmed) {
		return trimmed, CitationExact
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return "", CitationNone
	}

	matches := fuzzy.FindFrom(strings.ToLower(trimmed), sentenceSource{sentences: sentences})
	for _, match := range matches {
		sentence := sentences[match.Index]
		if coverage(trimmed, sentence) >= minFuzzyCoverage {
			return sentence, CitationFuzzy
		}
	}

	// The model may have quoted a longer span than one sentence
	lowerQuote := strings.ToLower(trimmed)
	for _, sentence := range sentences {
		if len(sentence) > 0 && strings.Contains(lowerQuote, strings.ToLower(sentence)) &&
			coverage(sentence, trimmed) >= minFuzzyCoverage/2 {
			return sentence, CitationFuzzy
		}
	}

	return "", CitationNone
}

func coverage(part, whole string) float64 {
	n := utf8.RuneCountInString(whole)
	if n == 0 {
		return 0
	}
	return float64(utf8.RuneCountInString(part)) / float64(n)
}

// SplitSentences splits text at line breaks and sentence-ending punctuation.
// Every returned sentence is a substring of text.
func SplitSentences(text string) []string {
	var sentences []string

	for _, line := range strings.Split(text, "\n") {
		start := 0
		for i := 0; i < len(line); i++ {
			switch line[i] {
			case '.', '!', '?':
				end := i + 1
				if end < len(line) && line[end] != ' ' && line[end] != '\t' {
					// "3.5", "e.g.x" and URLs stay inside the sentence
					continue
				}
				if s := strings.TrimSpace(line[start:end]); s != "" {
					sentences = append(sentences, s)
				}
				start = end
			}
		}
		if s := strings.TrimSpace(line[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}
