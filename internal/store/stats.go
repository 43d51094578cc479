package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string        `json:"db_path"`
	DBSizeBytes   int64         `json:"db_size_bytes"`
	Events        int           `json:"events"`
	Commits       int           `json:"commits"`
	CurrentBranch string        `json:"current_branch"`
	Pending       int           `json:"pending"`
	Branches      []BranchStats `json:"branches"`
}

// BranchStats holds per-branch counts.
type BranchStats struct {
	Name    string `json:"name"`
	Head    string `json:"head,omitempty"`
	Persona string `json:"persona,omitempty"`
	Commits int    `json:"commits"`
	Facts   int    `json:"facts"`
}

// Stats returns database statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.cfg.DBPath, Branches: []BranchStats{}}

	if info, err := os.Stat(s.cfg.DBPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	var err error
	if st.Events, err = s.ledger.CountEvents(ctx); err != nil {
		return nil, err
	}
	if st.Commits, err = s.ledger.CountCommits(ctx); err != nil {
		return nil, err
	}
	if st.CurrentBranch, err = s.branches.Current(ctx); err != nil {
		return nil, err
	}
	items, err := s.pending.List(ctx, "")
	if err != nil {
		return nil, err
	}
	st.Pending = len(items)

	branches, err := s.branches.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		bs := BranchStats{Name: b.Name, Head: b.Head, Persona: b.Persona}
		if b.Head != "" {
			history, err := s.ledger.CommitHistory(ctx, b.Head)
			if err != nil {
				return nil, err
			}
			bs.Commits = len(history)

			v, err := s.BranchView(b.Name)
			if err != nil {
				return nil, err
			}
			facts, err := v.GetAll(ctx)
			if err != nil {
				return nil, err
			}
			bs.Facts = len(facts)
		}
		st.Branches = append(st.Branches, bs)
	}
	return st, nil
}
