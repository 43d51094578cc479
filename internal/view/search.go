package view

import (
	"context"
	"strings"

	"github.com/rcliao/agent-memgit/internal/model"
)

// Query filters active memories. Subject, Predicate and Text are
// case-insensitive substring matches (Text against the object); Scope is exact.
type Query struct {
	Subject   string
	Predicate string
	Scope     string
	Text      string
	Limit     int
}

// Search returns active memories matching every non-empty filter.
func (v *View) Search(ctx context.Context, q Query) ([]model.Event, error) {
	all, err := v.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(all, q), nil
}

// Filter applies q to events.
func Filter(events []model.Event, q Query) []model.Event {
	subject := strings.ToLower(q.Subject)
	predicate := strings.ToLower(q.Predicate)
	text := strings.ToLower(q.Text)

	results := []model.Event{}
	for _, ev := range events {
		if subject != "" && !strings.Contains(strings.ToLower(ev.Subject), subject) {
			continue
		}
		if predicate != "" && !strings.Contains(strings.ToLower(ev.Predicate), predicate) {
			continue
		}
		if q.Scope != "" && ev.Scope != q.Scope {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(ev.Object), text) {
			continue
		}
		results = append(results, ev)
		if q.Limit > 0 && len(results) == q.Limit {
			break
		}
	}
	return results
}

// BySubject returns active memories whose subject equals subject exactly.
func (v *View) BySubject(ctx context.Context, subject string) ([]model.Event, error) {
	all, err := v.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var results []model.Event
	for _, ev := range all {
		if ev.Subject == subject {
			results = append(results, ev)
		}
	}
	return results, nil
}

// ByScope returns active memories in scope.
func (v *View) ByScope(ctx context.Context, scope string) ([]model.Event, error) {
	return v.Search(ctx, Query{Scope: scope})
}
