package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/agent-memgit/internal/branch"
	"github.com/rcliao/agent-memgit/internal/model"
)

// Commit appends events to the ledger and records them as one commit on the
// current branch. All events are validated before anything is written. The
// branch head advances by compare-and-set in the same transaction as the
// inserts; when another writer moved it first the commit is rebuilt on the
// fresh head, up to the configured retry budget, then ErrWriteConflict.
// A missing current branch is created implicitly.
func (s *Store) Commit(ctx context.Context, events []model.Event, message string, metadata map[string]string) (model.Commit, error) {
	prepared := make([]model.Event, len(events))
	for i, ev := range events {
		ev.Timestamp = ev.Timestamp.UTC()
		ev.ID = ev.ComputeID()
		if err := ev.Validate(s.limits); err != nil {
			return model.Commit{}, err
		}
		prepared[i] = ev
	}
	if err := ctx.Err(); err != nil {
		return model.Commit{}, err
	}

	retries := s.cfg.Memory.CommitRetries
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		c, err := s.commitOnce(ctx, prepared, message, metadata)
		if err == nil {
			s.log.Info().Str("branch", c.Branch).Str("commit", c.ID).
				Int("events", len(c.Events)).Msg("committed")
			return c, nil
		}
		if !errors.Is(err, branch.ErrHeadMoved) {
			return model.Commit{}, err
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("branch head moved, retrying commit")
	}
	return model.Commit{}, fmt.Errorf("%w: %w", ErrWriteConflict, lastErr)
}

func (s *Store) commitOnce(ctx context.Context, events []model.Event, message string, metadata map[string]string) (model.Commit, error) {
	var c model.Commit
	err := s.branches.WriteTx(ctx, func(tx *branch.TxTable) error {
		name, err := tx.Current(ctx, s.branches.DefaultBranch())
		if err != nil {
			return err
		}
		b, err := tx.Get(ctx, name)
		if errors.Is(err, branch.ErrNotFound) {
			b = model.Branch{Name: name, CreatedAt: s.Now()}
			if err := tx.Insert(ctx, b); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		ids := make([]string, 0, len(events))
		for _, ev := range events {
			id, err := tx.Ledger.AppendEvent(ctx, ev)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		c = model.NewCommit(name, ids, message, b.Head, s.Now(), metadata)
		if _, err := tx.Ledger.AppendCommit(ctx, c); err != nil {
			return err
		}
		return tx.AdvanceHead(ctx, name, b.Head, c.ID)
	})
	return c, err
}

// AddEvent appends a validated event to the ledger without committing it.
// It stays invisible to every view until a commit references it.
func (s *Store) AddEvent(ctx context.Context, ev model.Event) (string, error) {
	ev.Timestamp = ev.Timestamp.UTC()
	ev.ID = ev.ComputeID()
	if err := ev.Validate(s.limits); err != nil {
		return "", err
	}
	return s.ledger.AppendEvent(ctx, ev)
}

// CurrentCommit returns the head commit of the current branch, or nil when
// the branch has no commits yet.
func (s *Store) CurrentCommit(ctx context.Context) (*model.Commit, error) {
	head, err := s.currentHead(ctx)
	if err != nil || head == "" {
		return nil, err
	}
	c, err := s.ledger.Commit(ctx, head)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// History returns up to max commits of the current branch, newest first.
// max <= 0 uses the configured history limit.
func (s *Store) History(ctx context.Context, max int) ([]model.Commit, error) {
	if max <= 0 {
		max = s.cfg.Memory.HistoryLimit
	}
	head, err := s.currentHead(ctx)
	if err != nil || head == "" {
		return []model.Commit{}, err
	}
	history, err := s.ledger.CommitHistory(ctx, head)
	if err != nil {
		return nil, err
	}
	if len(history) > max {
		history = history[:max]
	}
	return history, nil
}

// AllMemories returns every event reachable from the current head in replay
// order, including superseded and retracting events.
func (s *Store) AllMemories(ctx context.Context) ([]model.Event, error) {
	head, err := s.currentHead(ctx)
	if err != nil || head == "" {
		return []model.Event{}, err
	}
	return s.ledger.EventsUpTo(ctx, head)
}
