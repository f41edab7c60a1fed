package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("no JSON object in response")

// ExtractJSON returns the outermost {...} span of s after stripping Markdown
// code fences.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the language tag line
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// ParseJSON decodes the JSON object embedded in a model response into v.
func ParseJSON(s string, v any) error {
	raw, err := ExtractJSON(s)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
