package store

import (
	"context"
	"fmt"

	"github.com/rcliao/agent-memgit/internal/model"
)

// AddParams holds parameters for storing a fact.
type AddParams struct {
	Subject     string
	Predicate   string
	Object      string
	Scope       string
	Confidence  *float64 // nil means 0.9
	Source      model.Source
	Evidence    string
	Sensitivity model.Sensitivity
}

// ForgetParams identifies the fact to forget.
type ForgetParams struct {
	Subject   string
	Predicate string
	Scope     string
	Reason    string
}

// UpdateParams replaces the value of an existing fact.
type UpdateParams struct {
	Subject   string
	Predicate string
	Scope     string
	Value     string
	Reason    string
}

// Result describes the single commit a tool operation produced.
type Result struct {
	Event    model.Event  `json:"event"`
	Previous *model.Event `json:"previous,omitempty"`
	Commit   model.Commit `json:"commit"`
}

// Remember commits one add event.
func (s *Store) Remember(ctx context.Context, p AddParams) (*Result, error) {
	confidence := 0.9
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	source := p.Source
	if source == "" {
		source = model.SourceAgentInferred
	}
	sensitivity := p.Sensitivity
	if sensitivity == "" {
		sensitivity = model.SensitivityPublic
	}

	ev := model.NewEvent(model.EventAdd, p.Subject, p.Predicate, p.Object,
		model.WithScope(p.Scope),
		model.WithConfidence(confidence),
		model.WithSource(source),
		model.WithEvidence(p.Evidence),
		model.WithSensitivity(sensitivity),
		model.At(s.Now()))

	c, err := s.Commit(ctx, []model.Event{ev}, fmt.Sprintf("Add: %s %s %s", p.Subject, p.Predicate, p.Object), nil)
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Commit: c}, nil
}

// Forget commits a forget event for the current value of a key. The event
// keeps the current value's scope and references it as parent. History is
// untouched; only the view drops the key.
func (s *Store) Forget(ctx context.Context, p ForgetParams) (*Result, error) {
	existing, ok, err := s.view.Get(ctx, p.Subject, p.Predicate, p.Scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, model.SlotKey(p.Subject, p.Predicate, p.Scope))
	}
	reason := p.Reason
	if reason == "" {
		reason = "User requested"
	}

	ev := model.NewEvent(model.EventForget, p.Subject, p.Predicate, reason,
		model.WithScope(existing.Scope),
		model.WithConfidence(1.0),
		model.WithSource(model.SourceUserExplicit),
		model.WithParent(existing.ID),
		model.At(s.Now()))

	c, err := s.Commit(ctx, []model.Event{ev}, fmt.Sprintf("Forget: %s %s", p.Subject, p.Predicate), nil)
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Previous: &existing, Commit: c}, nil
}

// Update commits an update event superseding the current value of a key.
// It fails with ErrNotFound when there is nothing to update.
func (s *Store) Update(ctx context.Context, p UpdateParams) (*Result, error) {
	existing, ok, err := s.view.Get(ctx, p.Subject, p.Predicate, p.Scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, model.SlotKey(p.Subject, p.Predicate, p.Scope))
	}
	reason := p.Reason
	if reason == "" {
		reason = "Updated information"
	}

	ev := model.NewEvent(model.EventUpdate, p.Subject, p.Predicate, p.Value,
		model.WithScope(existing.Scope),
		model.WithConfidence(0.95),
		model.WithSource(model.SourceUserExplicit),
		model.WithEvidence(fmt.Sprintf("Updated from '%s'. Reason: %s", existing.Object, reason)),
		model.WithSensitivity(existing.Sensitivity),
		model.WithParent(existing.ID),
		model.At(s.Now()))

	c, err := s.Commit(ctx, []model.Event{ev}, fmt.Sprintf("Update: %s %s", p.Subject, p.Predicate), nil)
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Previous: &existing, Commit: c}, nil
}
