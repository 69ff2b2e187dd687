package llms

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON value out of a model response and unmarshals
// it into v. Models often wrap JSON in markdown fences or surround it
// with prose, so this strips fences first and then scans for the first
// balanced object or array.
func ExtractJSON(response string, v any) error {
	s := stripFences(strings.TrimSpace(response))

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	candidate, ok := firstBalanced(s)
	if !ok {
		return fmt.Errorf("no JSON value found in response")
	}
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// firstBalanced returns the first balanced {...} or [...] in s, aware
// of string literals and escapes.
func firstBalanced(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
