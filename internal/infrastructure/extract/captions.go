package extract

import (
	"regexp"
	"strings"
)

var (
	voiceTagRe = regexp.MustCompile(`<v(?:\.[^ >]+)?\s+([^>]+)>`)
	cueTagRe   = regexp.MustCompile(`</?[^>]+>`)
)

// stripCaptions reduces a WebVTT or SubRip file to its spoken text. Header,
// NOTE, STYLE and REGION blocks are dropped, as are cue numbers, cue
// identifiers and timing lines. Voice spans become "Speaker: " prefixes.
func stripCaptions(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		lines := strings.Split(strings.Trim(block, "\n"), "\n")
		if len(lines) == 0 {
			continue
		}

		first := strings.TrimSpace(lines[0])
		if strings.HasPrefix(first, "WEBVTT") || isMetadataBlock(first) {
			continue
		}

		for i, line := range lines {
			if strings.Contains(line, "-->") {
				lines = lines[i+1:]
				break
			}
		}

		for _, line := range lines {
			line = voiceTagRe.ReplaceAllString(line, "$1: ")
			line = strings.TrimSpace(cueTagRe.ReplaceAllString(line, ""))
			if line != "" {
				out = append(out, line)
			}
		}
	}
	return strings.Join(out, "\n")
}

func isMetadataBlock(first string) bool {
	for _, kw := range []string{"NOTE", "STYLE", "REGION"} {
		if first == kw || strings.HasPrefix(first, kw+" ") {
			return true
		}
	}
	return false
}
