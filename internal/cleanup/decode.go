package cleanup

import (
	"encoding/json"
	"strings"
)

// DecodeBestEffort parses a model answer into a Result, tolerating the usual
// provider quirks: surrounding prose, markdown code fences, or trailing
// garbage around the JSON object. When nothing decodes, the zero Result is
// returned so the caller can fall back to the raw transcript.
func DecodeBestEffort(content string) Result {
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{}
	}

	candidates := []string{content, stripCodeFence(content)}
	if inner := extractObject(content); inner != "" {
		candidates = append(candidates, inner)
	}
	for _, c := range candidates {
		var res Result
		if err := json.Unmarshal([]byte(c), &res); err == nil {
			res.Clean = strings.TrimSpace(res.Clean)
			res.Notes = strings.TrimSpace(res.Notes)
			return res
		}
	}
	// Not JSON at all: some models answer with the rewritten text directly.
	if !strings.HasPrefix(content, "{") {
		return Result{Clean: content}
	}
	return Result{}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractObject returns the first balanced top-level {...} block, or "".
func extractObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
