package store

import (
	"context"
	"errors"

	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/model"
)

// Lineage follows parent_id links from an event back to the first value it
// superseded, newest first. A link to a missing event ends the chain.
func (s *Store) Lineage(ctx context.Context, eventID string) ([]model.Event, error) {
	var chain []model.Event
	seen := make(map[string]bool)
	for id := eventID; id != "" && !seen[id]; {
		seen[id] = true
		ev, err := s.ledger.Event(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			if len(chain) == 0 {
				return nil, err
			}
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, ev)
		id = ev.ParentID
	}
	return chain, nil
}

// KeyHistory returns every event that touched a key on the current branch,
// oldest first, including retractions.
func (s *Store) KeyHistory(ctx context.Context, subject, predicate, scope string) ([]model.Event, error) {
	all, err := s.AllMemories(ctx)
	if err != nil {
		return nil, err
	}
	key := model.SlotKey(subject, predicate, scope)
	var events []model.Event
	for _, ev := range all {
		if ev.Key() == key {
			events = append(events, ev)
		}
	}
	return events, nil
}
