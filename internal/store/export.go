package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/agent-memgit/internal/branch"
	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/model"
)

// BundleVersion is the export format version.
const BundleVersion = 1

// Bundle is a portable copy of a memory database. Records are content
// addressed, so importing a bundle twice changes nothing.
type Bundle struct {
	Version    int            `json:"version"`
	ExportedAt string         `json:"exported_at"`
	Current    string         `json:"current_branch"`
	Branches   []model.Branch `json:"branches"`
	Commits    []model.Commit `json:"commits"`
	Events     []model.Event  `json:"events"`
}

// ImportResult counts the records an import added.
type ImportResult struct {
	Events   int `json:"events"`
	Commits  int `json:"commits"`
	Branches int `json:"branches"`
	Skipped  int `json:"skipped_branches"`
}

// Export returns every event, commit and branch in insertion order.
func (s *Store) Export(ctx context.Context) (*Bundle, error) {
	b := &Bundle{
		Version:    BundleVersion,
		ExportedAt: model.FormatTime(s.Now()),
		Events:     []model.Event{},
		Commits:    []model.Commit{},
	}
	for ev, err := range s.ledger.Events(ctx) {
		if err != nil {
			return nil, fmt.Errorf("export events: %w", err)
		}
		b.Events = append(b.Events, ev)
	}
	for c, err := range s.ledger.Commits(ctx) {
		if err != nil {
			return nil, fmt.Errorf("export commits: %w", err)
		}
		b.Commits = append(b.Commits, c)
	}

	var err error
	if b.Branches, err = s.branches.List(ctx); err != nil {
		return nil, err
	}
	if b.Current, err = s.branches.Current(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Import adds a bundle's records in one transaction. Every event id and
// commit id is recomputed and must match. Commits are applied parents first.
// Branches that already exist are left alone so an import never moves a
// local head; HEAD is not changed.
func (s *Store) Import(ctx context.Context, b *Bundle) (*ImportResult, error) {
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", b.Version)
	}
	for _, ev := range b.Events {
		if id := ev.ComputeID(); id != ev.ID {
			return nil, fmt.Errorf("event %s: content hash is %s", ev.ID, id)
		}
		if err := ev.Validate(s.limits); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	for _, c := range b.Commits {
		if id := c.ComputeID(); id != c.ID {
			return nil, fmt.Errorf("commit %s: content hash is %s", c.ID, id)
		}
	}

	res := &ImportResult{}
	err := s.branches.WriteTx(ctx, func(tx *branch.TxTable) error {
		*res = ImportResult{}
		for _, ev := range b.Events {
			ok, err := tx.Ledger.EventExists(ctx, ev.ID)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if _, err := tx.Ledger.AppendEvent(ctx, ev); err != nil {
				return err
			}
			res.Events++
		}

		n, err := importCommits(ctx, tx.Ledger, b.Commits)
		if err != nil {
			return err
		}
		res.Commits = n

		for _, br := range b.Branches {
			_, err := tx.Get(ctx, br.Name)
			if err == nil {
				res.Skipped++
				continue
			}
			if !errors.Is(err, branch.ErrNotFound) {
				return err
			}
			if br.Head != "" {
				ok, err := tx.Ledger.CommitExists(ctx, br.Head)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("branch %s: %w: %s", br.Name, ledger.ErrNotFound, br.Head)
				}
			}
			if err := tx.Insert(ctx, br); err != nil {
				return err
			}
			res.Branches++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("events", res.Events).Int("commits", res.Commits).
		Int("branches", res.Branches).Msg("imported bundle")
	return res, nil
}

// importCommits appends commits whose parent is already stored, pass after
// pass, until none are left. A pass without progress means a parent is
// missing from both the bundle and the ledger.
func importCommits(ctx context.Context, l *ledger.TxLedger, commits []model.Commit) (int, error) {
	added := 0
	left := commits
	for len(left) > 0 {
		var next []model.Commit
		for _, c := range left {
			ok, err := l.CommitExists(ctx, c.ID)
			if err != nil {
				return added, err
			}
			if ok {
				continue
			}
			if c.ParentID != "" {
				ok, err := l.CommitExists(ctx, c.ParentID)
				if err != nil {
					return added, err
				}
				if !ok {
					next = append(next, c)
					continue
				}
			}
			if _, err := l.AppendCommit(ctx, c); err != nil {
				return added, fmt.Errorf("commit %s: %w", c.ID, err)
			}
			added++
		}
		if len(next) == len(left) {
			return added, fmt.Errorf("commit %s: %w: %s", next[0].ID, ledger.ErrMissingParent, next[0].ParentID)
		}
		left = next
	}
	return added, nil
}
