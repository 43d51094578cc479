package model

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// DefaultMaxContentSize bounds the bytes of an event's text fields.
const DefaultMaxContentSize = 8192

// Limits configures event validation.
type Limits struct {
	MaxContentSize int
}

// ValidationError reports a payload rejected before any write. Retrying the
// same payload unmodified fails the same way.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var markupRegex = regexp.MustCompile(`(?i)<\s*/?\s*[a-z][a-z0-9-]*(\s[^>]*)?/?>|javascript\s*:|data\s*:\s*text/html`)

// Validate checks enums, ranges, size limits and disallowed markup.
func (e Event) Validate(l Limits) error {
	if !ValidEventTypes[e.Type] {
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown type %q", e.Type)}
	}
	if strings.TrimSpace(e.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "required"}
	}
	if strings.TrimSpace(e.Predicate) == "" {
		return &ValidationError{Field: "predicate", Reason: "required"}
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", e.Confidence)}
	}
	if !ValidSources[e.Source] {
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", e.Source)}
	}
	if !ValidSensitivities[e.Sensitivity] {
		return &ValidationError{Field: "sensitivity", Reason: fmt.Sprintf("unknown sensitivity %q", e.Sensitivity)}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}

	max := l.MaxContentSize
	if max <= 0 {
		max = DefaultMaxContentSize
	}
	size := len(e.Subject) + len(e.Predicate) + len(e.Object) + len(e.Scope) + len(e.Evidence)
	if size > max {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("%d bytes exceeds limit of %d", size, max)}
	}

	for _, f := range []struct{ name, value string }{
		{"subject", e.Subject},
		{"predicate", e.Predicate},
		{"object", e.Object},
		{"scope", e.Scope},
	} {
		if markupRegex.MatchString(f.value) {
			return &ValidationError{Field: f.name, Reason: "contains disallowed markup"}
		}
	}
	return nil
}
