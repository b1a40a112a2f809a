package ai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSON is returned when a model response carries no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

// DecodeJSON unmarshals a model response into v. Models often wrap the object
// in markdown fences or prose, so when the whole response is not valid JSON
// the first balanced object is extracted and decoded instead.
func DecodeJSON(content string, v interface{}) error {
	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}

	start := findJSONStart(content)
	if start < 0 {
		return ErrNoJSON
	}

	end := findJSONEnd(content, start)
	if end <= start {
		return fmt.Errorf("%w: unterminated object", ErrNoJSON)
	}

	if err := json.Unmarshal([]byte(content[start:end]), v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// findJSONStart finds the start of JSON content in a string
func findJSONStart(content string) int {
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			return i
		}
	}
	return -1
}

// findJSONEnd returns the index just past the brace that closes the object at start
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if char == '\\' {
			escapeNext = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}
