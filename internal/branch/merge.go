package branch

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/model"
)

// Merge commits onto target every event reachable from source that target
// does not already have. It returns nil when either branch is missing, the
// source is empty, or there is nothing new, so merging twice is a no-op.
// target defaults to the current branch.
func (t *Table) Merge(ctx context.Context, source, target, message string) (*model.Commit, error) {
	return t.retry(ctx, "merge", func() (*model.Commit, error) {
		return t.mergeOnce(ctx, source, target, message)
	})
}

func (t *Table) mergeOnce(ctx context.Context, source, target, message string) (*model.Commit, error) {
	dst, ok, err := t.resolveTarget(ctx, target)
	if err != nil || !ok {
		return nil, err
	}
	src, err := t.Get(ctx, source)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if src.Head == "" {
		return nil, nil
	}

	srcEvents, err := t.hist.EventsUpTo(ctx, src.Head)
	if err != nil {
		return nil, fmt.Errorf("source events: %w", err)
	}
	dstEvents, err := t.hist.EventsUpTo(ctx, dst.Head)
	if err != nil {
		return nil, fmt.Errorf("target events: %w", err)
	}
	have := make(map[string]bool, len(dstEvents))
	for _, ev := range dstEvents {
		have[ev.ID] = true
	}

	var missing []model.Event
	for _, ev := range srcEvents {
		if !have[ev.ID] {
			missing = append(missing, ev)
		}
	}
	if len(missing) == 0 {
		t.log.Debug().Str("source", src.Name).Str("target", dst.Name).Msg("nothing to merge")
		return nil, nil
	}
	// Stable: events sharing a timestamp keep the source's replay order, so a
	// retraction stays ahead of the value replacing it.
	slices.SortStableFunc(missing, func(a, b model.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	ids := make([]string, len(missing))
	for i, ev := range missing {
		ids[i] = ev.ID
	}

	if message == "" {
		message = fmt.Sprintf("Merge branch '%s' into '%s'", src.Name, dst.Name)
	}
	c := model.NewCommit(dst.Name, ids, message, dst.Head, t.Now(), map[string]string{
		model.MetaMergeSource:     src.Name,
		model.MetaMergeSourceHead: src.Head,
	})
	if err := t.apply(ctx, dst, c); err != nil {
		return nil, err
	}
	t.log.Info().Str("source", src.Name).Str("target", dst.Name).
		Str("commit", c.ID).Int("events", len(ids)).Msg("merged")
	return &c, nil
}

// CherryPick copies a commit's event list verbatim into a new commit on
// target. It returns nil when the commit or the target branch is missing.
func (t *Table) CherryPick(ctx context.Context, commitID, target, message string) (*model.Commit, error) {
	return t.retry(ctx, "cherry-pick", func() (*model.Commit, error) {
		return t.cherryPickOnce(ctx, commitID, target, message)
	})
}

func (t *Table) cherryPickOnce(ctx context.Context, commitID, target, message string) (*model.Commit, error) {
	dst, ok, err := t.resolveTarget(ctx, target)
	if err != nil || !ok {
		return nil, err
	}
	src, err := t.hist.Commit(ctx, commitID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if message == "" {
		message = "Cherry-pick: " + src.Message
	}
	c := model.NewCommit(dst.Name, src.Events, message, dst.Head, t.Now(), map[string]string{
		model.MetaCherryPickFrom: src.ID,
	})
	if err := t.apply(ctx, dst, c); err != nil {
		return nil, err
	}
	t.log.Info().Str("from", src.ID).Str("target", dst.Name).Str("commit", c.ID).Msg("cherry-picked")
	return &c, nil
}

// Diff returns the event ids reachable only from a and only from b, sorted.
// A missing branch contributes no events.
func (t *Table) Diff(ctx context.Context, a, b string) (onlyA, onlyB []string, err error) {
	setA, err := t.eventIDs(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	setB, err := t.eventIDs(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	for id := range setA {
		if !setB[id] {
			onlyA = append(onlyA, id)
		}
	}
	for id := range setB {
		if !setA[id] {
			onlyB = append(onlyB, id)
		}
	}
	slices.Sort(onlyA)
	slices.Sort(onlyB)
	return onlyA, onlyB, nil
}

func (t *Table) eventIDs(ctx context.Context, name string) (map[string]bool, error) {
	b, err := t.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	events, err := t.hist.EventsUpTo(ctx, b.Head)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(events))
	for _, ev := range events {
		ids[ev.ID] = true
	}
	return ids, nil
}

func (t *Table) resolveTarget(ctx context.Context, target string) (model.Branch, bool, error) {
	if target == "" {
		var err error
		if target, err = t.Current(ctx); err != nil {
			return model.Branch{}, false, err
		}
	}
	b, err := t.Get(ctx, target)
	if errors.Is(err, ErrNotFound) {
		return b, false, nil
	}
	return b, err == nil, err
}

// apply appends c and moves dst's head to it in one transaction.
func (t *Table) apply(ctx context.Context, dst model.Branch, c model.Commit) error {
	return t.WriteTx(ctx, func(tx *TxTable) error {
		if _, err := tx.Ledger.AppendCommit(ctx, c); err != nil {
			return err
		}
		return tx.AdvanceHead(ctx, dst.Name, dst.Head, c.ID)
	})
}

func (t *Table) retry(ctx context.Context, op string, fn func() (*model.Commit, error)) (*model.Commit, error) {
	for attempt := 1; ; attempt++ {
		c, err := fn()
		if !errors.Is(err, ErrHeadMoved) {
			return c, err
		}
		if attempt >= t.retries {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrWriteConflict, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.log.Warn().Str("op", op).Int("attempt", attempt).Msg("head moved, retrying")
	}
}
