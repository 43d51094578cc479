package model

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHashDeterministic(t *testing.T) {
	a := Hash(map[string]any{"b": "2", "a": "1", "c": nil})
	b := Hash(map[string]any{"c": nil, "a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Len(t, a, HashLen)
	assert.NotEqual(t, a, Hash(map[string]any{"a": "1", "b": "3", "c": nil}))
}

func TestHashDoesNotEscapeHTML(t *testing.T) {
	// "<" must hash as itself, not as <.
	assert.Equal(t,
		HashString("{\"k\":\"a<b\"}\n"),
		Hash(map[string]any{"k": "a<b"}))
}

func TestEventIDIgnoresNonIdentityFields(t *testing.T) {
	a := NewEvent(EventAdd, "user", "prefers", "dark mode", At(t0), WithConfidence(0.9))
	b := NewEvent(EventAdd, "user", "prefers", "dark mode", At(t0), WithConfidence(0.2),
		WithSource(SourceAgentInferred), WithEvidence("said so"))
	assert.Equal(t, a.ID, b.ID)

	c := NewEvent(EventAdd, "user", "prefers", "dark mode", At(t0.Add(time.Second)))
	assert.NotEqual(t, a.ID, c.ID, "timestamp is part of the identity")

	d := NewEvent(EventAdd, "user", "prefers", "dark mode", At(t0), WithScope("work"))
	assert.NotEqual(t, a.ID, d.ID)
}

func TestEventDefaults(t *testing.T) {
	e := NewEvent(EventAdd, "user", "name", "Ada")
	assert.Equal(t, 1.0, e.Confidence)
	assert.Equal(t, SourceUserImplicit, e.Source)
	assert.Equal(t, SensitivityPublic, e.Sensitivity)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, e.ComputeID(), e.ID)
}

func TestRescoped(t *testing.T) {
	e := NewEvent(EventAdd, "user", "city", "SF", At(t0))
	r := e.Rescoped("work")
	assert.Equal(t, "work", r.Scope)
	assert.NotEqual(t, e.ID, r.ID)
	assert.Equal(t, "user|city|work", r.Key())
	assert.Equal(t, "user|city|", e.Key())
}

func TestCommitIDOrderIndependent(t *testing.T) {
	a := NewCommit("main", []string{"b", "a"}, "one", "", t0, nil)
	b := NewCommit("main", []string{"a", "b"}, "two", "", t0, map[string]string{"x": "y"})
	assert.Equal(t, a.ID, b.ID, "message and metadata are not hashed")
	assert.Equal(t, []string{"b", "a"}, a.Events, "stored order is preserved")

	c := NewCommit("work", []string{"a", "b"}, "one", "", t0, nil)
	assert.NotEqual(t, a.ID, c.ID)
	d := NewCommit("main", []string{"a", "b"}, "one", a.ID, t0, nil)
	assert.NotEqual(t, a.ID, d.ID)
}

func TestValidate(t *testing.T) {
	limits := Limits{MaxContentSize: 64}
	ok := NewEvent(EventAdd, "user", "prefers", "tea", At(t0))
	require.NoError(t, ok.Validate(limits))

	cases := []struct {
		name  string
		mut   func(e *Event)
		field string
	}{
		{"bad type", func(e *Event) { e.Type = "erase" }, "event_type"},
		{"empty subject", func(e *Event) { e.Subject = "  " }, "subject"},
		{"empty predicate", func(e *Event) { e.Predicate = "" }, "predicate"},
		{"confidence high", func(e *Event) { e.Confidence = 1.5 }, "confidence"},
		{"confidence nan", func(e *Event) { e.Confidence = math.NaN() }, "confidence"},
		{"bad source", func(e *Event) { e.Source = "rumor" }, "source"},
		{"bad sensitivity", func(e *Event) { e.Sensitivity = "secret" }, "sensitivity"},
		{"too large", func(e *Event) { e.Evidence = strings.Repeat("x", 100) }, "content"},
		{"script tag", func(e *Event) { e.Object = "<script>alert(1)</script>" }, "object"},
		{"js url", func(e *Event) { e.Object = "JavaScript:alert(1)" }, "object"},
		{"markup in scope", func(e *Event) { e.Scope = "<b>work</b>" }, "scope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := ok
			tc.mut(&e)
			err := e.Validate(limits)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateAllowsComparisons(t *testing.T) {
	e := NewEvent(EventAdd, "budget", "limit", "x < 5 and y > 3", At(t0))
	assert.NoError(t, e.Validate(Limits{}))
}
