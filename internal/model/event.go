// Package model defines the core memory data types.
package model

import (
	"fmt"
	"time"
)

// EventType is the kind of memory operation an event records.
type EventType string

const (
	EventAdd       EventType = "add"
	EventUpdate    EventType = "update"
	EventConfirm   EventType = "confirm"
	EventDeprecate EventType = "deprecate"
	EventForget    EventType = "forget"
)

// Source records how a memory came to be.
type Source string

const (
	SourceUserExplicit  Source = "user_explicit"
	SourceUserImplicit  Source = "user_implicit"
	SourceAgentInferred Source = "agent_inferred"
	SourceToolOutput    Source = "tool_output"
	SourceSystem        Source = "system"
)

// Sensitivity is the access level of a memory.
type Sensitivity string

const (
	SensitivityPublic    Sensitivity = "public"
	SensitivityPrivate   Sensitivity = "private"
	SensitivityEphemeral Sensitivity = "ephemeral"
)

// ValidEventTypes are the allowed event types.
var ValidEventTypes = map[EventType]bool{
	EventAdd:       true,
	EventUpdate:    true,
	EventConfirm:   true,
	EventDeprecate: true,
	EventForget:    true,
}

// ValidSources are the allowed memory sources.
var ValidSources = map[Source]bool{
	SourceUserExplicit:  true,
	SourceUserImplicit:  true,
	SourceAgentInferred: true,
	SourceToolOutput:    true,
	SourceSystem:        true,
}

// ValidSensitivities are the allowed sensitivity levels.
var ValidSensitivities = map[Sensitivity]bool{
	SensitivityPublic:    true,
	SensitivityPrivate:   true,
	SensitivityEphemeral: true,
}

// Event is an immutable memory operation over a subject-predicate-object triple.
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"event_type"`
	Subject     string      `json:"subject"`
	Predicate   string      `json:"predicate"`
	Object      string      `json:"object"`
	Scope       string      `json:"scope,omitempty"`
	Confidence  float64     `json:"confidence"`
	Source      Source      `json:"source"`
	Evidence    string      `json:"evidence,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity"`
	ParentID    string      `json:"parent_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EventOption customises an event before its ID is computed.
type EventOption func(*Event)

func WithScope(scope string) EventOption {
	return func(e *Event) { e.Scope = scope }
}

func WithConfidence(c float64) EventOption {
	return func(e *Event) { e.Confidence = c }
}

func WithSource(s Source) EventOption {
	return func(e *Event) { e.Source = s }
}

func WithEvidence(evidence string) EventOption {
	return func(e *Event) { e.Evidence = evidence }
}

func WithSensitivity(s Sensitivity) EventOption {
	return func(e *Event) { e.Sensitivity = s }
}

// WithParent links the event to the event it supersedes.
func WithParent(id string) EventOption {
	return func(e *Event) { e.ParentID = id }
}

// At pins the event timestamp. Timestamps are part of the identity.
func At(ts time.Time) EventOption {
	return func(e *Event) { e.Timestamp = ts }
}

// NewEvent builds an event with defaults (confidence 1.0, user_implicit,
// public, now) and computes its ID.
func NewEvent(typ EventType, subject, predicate, object string, opts ...EventOption) Event {
	e := Event{
		Type:        typ,
		Subject:     subject,
		Predicate:   predicate,
		Object:      object,
		Confidence:  1.0,
		Source:      SourceUserImplicit,
		Sensitivity: SensitivityPublic,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.Timestamp = e.Timestamp.UTC()
	e.ID = e.ComputeID()
	return e
}

// ComputeID hashes the identity fields. Confidence, source, evidence,
// sensitivity and parent are not part of the identity.
func (e Event) ComputeID() string {
	return Hash(map[string]any{
		"event_type": string(e.Type),
		"subject":    e.Subject,
		"predicate":  e.Predicate,
		"object":     e.Object,
		"scope":      nullable(e.Scope),
		"timestamp":  FormatTime(e.Timestamp),
	})
}

// Rescoped returns a copy of the event moved to another scope, with a fresh ID.
func (e Event) Rescoped(scope string) Event {
	e.Scope = scope
	e.ID = e.ComputeID()
	return e
}

// Key is the view slot this event writes to.
func (e Event) Key() string {
	return SlotKey(e.Subject, e.Predicate, e.Scope)
}

// Active reports whether the event asserts a fact rather than retracting one.
func (e Event) Active() bool {
	return e.Type != EventDeprecate && e.Type != EventForget
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s %s %s", e.Type, e.Subject, e.Predicate, e.Object)
}

// SlotKey builds the subject|predicate|scope key used by the materialized view.
func SlotKey(subject, predicate, scope string) string {
	return subject + "|" + predicate + "|" + scope
}

// FormatTime is the canonical timestamp encoding used for hashing and storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
