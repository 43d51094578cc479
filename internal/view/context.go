package view

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/agent-memgit/internal/model"
)

// ConfidentThreshold is the confidence at which a memory is marked as settled
// in prompt context.
const ConfidentThreshold = 0.8

const generalScope = "general"

// ContextParams selects memories for prompt injection.
type ContextParams struct {
	MaxItems int
	Scope    string
	Budget   int // max chars of rendered lines; 0 means unbounded
}

// ContextMemory is one memory chosen for context.
type ContextMemory struct {
	Scope      string  `json:"scope"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	ID         string  `json:"id"`
}

// ContextResult is the assembled context.
type ContextResult struct {
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

// Rank orders memories by confidence then recency, most relevant first.
func Rank(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return b.Timestamp.Compare(a.Timestamp)
	})
}

// Context picks the top memories by (confidence, timestamp) and packs them
// into the character budget.
func (v *View) Context(ctx context.Context, p ContextParams) (*ContextResult, error) {
	events, err := v.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if p.Scope != "" {
		events = Filter(events, Query{Scope: p.Scope})
	}
	Rank(events)
	if p.MaxItems > 0 && len(events) > p.MaxItems {
		events = events[:p.MaxItems]
	}

	result := &ContextResult{Memories: []ContextMemory{}}
	for _, ev := range events {
		n := len(formatLine(ev))
		if p.Budget > 0 && result.Used+n > p.Budget {
			break
		}
		result.Used += n
		scope := ev.Scope
		if scope == "" {
			scope = generalScope
		}
		result.Memories = append(result.Memories, ContextMemory{
			Scope:      scope,
			Subject:    ev.Subject,
			Predicate:  ev.Predicate,
			Object:     ev.Object,
			Confidence: ev.Confidence,
			ID:         ev.ID,
		})
	}
	return result, nil
}

// ContextString renders up to maxItems memories as a markdown block grouped
// by scope. It returns "" when nothing is remembered.
func (v *View) ContextString(ctx context.Context, maxItems int) (string, error) {
	events, err := v.GetAll(ctx)
	if err != nil {
		return "", err
	}
	return FormatContext(events, maxItems), nil
}

// FormatContext is the pure rendering behind ContextString.
func FormatContext(events []model.Event, maxItems int) string {
	if len(events) == 0 {
		return ""
	}
	events = slices.Clone(events)
	Rank(events)
	if maxItems > 0 && len(events) > maxItems {
		events = events[:maxItems]
	}

	byScope := make(map[string][]model.Event)
	for _, ev := range events {
		scope := ev.Scope
		if scope == "" {
			scope = generalScope
		}
		byScope[scope] = append(byScope[scope], ev)
	}
	scopes := make([]string, 0, len(byScope))
	for s := range byScope {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)

	var b strings.Builder
	b.WriteString("## Memory\n")
	for _, scope := range scopes {
		fmt.Fprintf(&b, "\n### %s\n", titleCase(scope))
		for _, ev := range byScope[scope] {
			b.WriteString(formatLine(ev))
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLine(ev model.Event) string {
	marker := "?"
	if ev.Confidence >= ConfidentThreshold {
		marker = "✓"
	}
	return fmt.Sprintf("- %s %s %s %s", marker, ev.Subject, ev.Predicate, ev.Object)
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
