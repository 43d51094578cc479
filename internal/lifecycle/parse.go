package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object in response")

// decodeStrict decodes the single JSON object in resp into v. A surrounding
// markdown fence is tolerated; unknown fields and trailing data are not.
func decodeStrict(resp string, v any) error {
	body := extractObject(resp)
	if body == "" {
		return errNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode response: trailing data")
	}
	return nil
}

// extractObject strips a markdown code fence and returns the text from the
// first '{' to the last '}'.
func extractObject(resp string) string {
	s := strings.TrimSpace(resp)
	if strings.HasPrefix(s, "```") {
		var lines []string
		for _, l := range strings.Split(s, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(l), "```") {
				lines = append(lines, l)
			}
		}
		s = strings.Join(lines, "\n")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
