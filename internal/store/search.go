package store

import (
	"context"

	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/view"
)

// SearchParams holds exact-match filters over the current branch's events.
type SearchParams struct {
	Subject   string
	Predicate string
	Scope     string
	Limit     int
}

// Search post-filters AllMemories, skipping deprecate and forget records.
// Superseded values are included; use FindFacts for current truth only.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]model.Event, error) {
	all, err := s.AllMemories(ctx)
	if err != nil {
		return nil, err
	}

	results := []model.Event{}
	for _, ev := range all {
		if !ev.Active() {
			continue
		}
		if p.Subject != "" && ev.Subject != p.Subject {
			continue
		}
		if p.Predicate != "" && ev.Predicate != p.Predicate {
			continue
		}
		if p.Scope != "" && ev.Scope != p.Scope {
			continue
		}
		results = append(results, ev)
		if p.Limit > 0 && len(results) == p.Limit {
			break
		}
	}
	return results, nil
}

// FindParams is the agent-facing search: free text over subject, predicate
// and object plus exact filters.
type FindParams struct {
	Query     string
	Subject   string
	Predicate string
	Scope     string
	Limit     int
}

// FindFacts searches the current truth of the current branch, ranked by
// confidence then recency.
func (s *Store) FindFacts(ctx context.Context, p FindParams) ([]model.Event, error) {
	all, err := s.view.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	results := []model.Event{}
	for _, ev := range all {
		if p.Query != "" && !containsFold(ev.Subject+" "+ev.Predicate+" "+ev.Object, p.Query) {
			continue
		}
		if p.Subject != "" && ev.Subject != p.Subject {
			continue
		}
		if p.Predicate != "" && ev.Predicate != p.Predicate {
			continue
		}
		if p.Scope != "" && ev.Scope != p.Scope {
			continue
		}
		results = append(results, ev)
	}
	view.Rank(results)
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
