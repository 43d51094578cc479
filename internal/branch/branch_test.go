package branch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/sqlitedb"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestTable(t *testing.T) (*Table, *ledger.Ledger) {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := ledger.New(db)
	require.NoError(t, err)
	clock := &testClock{now: t0}
	tbl, err := New(db, l, WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, tbl.EnsureDefault(context.Background()))
	return tbl, l
}

// commitTo appends events and a commit on branch, advancing its head.
func commitTo(t *testing.T, tbl *Table, branch string, events ...model.Event) model.Commit {
	t.Helper()
	ctx := context.Background()
	var c model.Commit
	err := tbl.WriteTx(ctx, func(tx *TxTable) error {
		b, err := tx.Get(ctx, branch)
		if err != nil {
			return err
		}
		var ids []string
		for _, ev := range events {
			id, err := tx.Ledger.AppendEvent(ctx, ev)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		c = model.NewCommit(branch, ids, "test commit", b.Head, tbl.Now(), nil)
		if _, err := tx.Ledger.AppendCommit(ctx, c); err != nil {
			return err
		}
		return tx.AdvanceHead(ctx, branch, b.Head, c.ID)
	})
	require.NoError(t, err)
	return c
}

func TestEnsureDefault(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	require.NoError(t, tbl.EnsureDefault(ctx), "idempotent")
	cur, err := tbl.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", cur)

	main, err := tbl.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "default", main.Persona)
	assert.Empty(t, main.Head)
}

func TestCreateForksFromCurrentHead(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	c1 := commitTo(t, tbl, "main", model.NewEvent(model.EventAdd, "user", "name", "Ada", model.At(t0)))

	work, err := tbl.Create(ctx, "work", "professional", "")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, work.Head)
	assert.Equal(t, "professional", work.Persona)

	_, err = tbl.Create(ctx, "work", "", "")
	assert.True(t, errors.Is(err, ErrExists))

	orphan, err := tbl.Create(ctx, "orphan", "", "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, orphan.Head)

	_, err = tbl.Create(ctx, " ", "", "")
	assert.Error(t, err)
}

func TestDeleteProtection(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	_, err := tbl.Create(ctx, "work", "", "")
	require.NoError(t, err)

	ok, err := tbl.Delete(ctx, "main")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrProtected))

	switched, err := tbl.Switch(ctx, "work")
	require.NoError(t, err)
	require.True(t, switched)
	ok, err = tbl.Delete(ctx, "work")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrProtected))

	_, err = tbl.Switch(ctx, "main")
	require.NoError(t, err)
	ok, err = tbl.Delete(ctx, "work")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tbl.Delete(ctx, "work")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwitchMissing(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	ok, err := tbl.Switch(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	cur, _ := tbl.Current(ctx)
	assert.Equal(t, "main", cur)
}

func TestMergeIdempotent(t *testing.T) {
	ctx := context.Background()
	tbl, l := newTestTable(t)
	commitTo(t, tbl, "main", model.NewEvent(model.EventAdd, "user", "name", "Ada", model.At(t0)))
	_, err := tbl.Create(ctx, "work", "", "main")
	require.NoError(t, err)

	late := model.NewEvent(model.EventAdd, "project", "language", "Rust", model.At(t0.Add(time.Hour)))
	early := model.NewEvent(model.EventAdd, "project", "editor", "helix", model.At(t0.Add(time.Minute)))
	commitTo(t, tbl, "work", late, early)

	mainBefore, _ := tbl.Get(ctx, "main")
	work, _ := tbl.Get(ctx, "work")

	c, err := tbl.Merge(ctx, "work", "main", "")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{early.ID, late.ID}, c.Events, "ordered by event timestamp")
	assert.Equal(t, mainBefore.Head, c.ParentID)
	assert.Equal(t, "Merge branch 'work' into 'main'", c.Message)
	assert.Equal(t, "work", c.Metadata[model.MetaMergeSource])
	assert.Equal(t, work.Head, c.Metadata[model.MetaMergeSourceHead])

	mainAfter, _ := tbl.Get(ctx, "main")
	assert.Equal(t, c.ID, mainAfter.Head)
	stored, err := l.Commit(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Events, stored.Events)

	again, err := tbl.Merge(ctx, "work", "main", "")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMergeKeepsRetractionBeforeReplacement(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	_, err := tbl.Create(ctx, "work", "", "main")
	require.NoError(t, err)

	var olds, swaps []model.Event
	var want []string
	for i := range 8 {
		pred := fmt.Sprintf("city%d", i)
		old := model.NewEvent(model.EventAdd, "user", pred, "LA", model.At(t0.Add(time.Duration(i)*time.Minute)))
		olds = append(olds, old)
		want = append(want, old.ID)
	}
	// Every retraction shares its timestamp with the value replacing it.
	swapAt := t0.Add(time.Hour)
	for _, old := range olds {
		dep := model.NewEvent(model.EventDeprecate, old.Subject, old.Predicate, old.Object,
			model.WithParent(old.ID), model.At(swapAt))
		next := model.NewEvent(model.EventAdd, old.Subject, old.Predicate, "SF", model.At(swapAt))
		swaps = append(swaps, dep, next)
		want = append(want, dep.ID, next.ID)
	}
	commitTo(t, tbl, "work", olds...)
	commitTo(t, tbl, "work", swaps...)

	c, err := tbl.Merge(ctx, "work", "main", "")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, want, c.Events, "equal timestamps keep the source's replay order")
}

func TestRetryExhaustionIsWriteConflict(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	calls := 0
	c, err := tbl.retry(ctx, "merge", func() (*model.Commit, error) {
		calls++
		return nil, fmt.Errorf("advance main: %w", ErrHeadMoved)
	})
	assert.Nil(t, c)
	require.ErrorIs(t, err, ErrWriteConflict)
	assert.ErrorIs(t, err, ErrHeadMoved)
	assert.Equal(t, tbl.Retries(), calls)
}

func TestMergeNoops(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	_, err := tbl.Create(ctx, "empty", "", "")
	require.NoError(t, err)

	c, err := tbl.Merge(ctx, "empty", "main", "")
	require.NoError(t, err)
	assert.Nil(t, c, "source without head")

	c, err = tbl.Merge(ctx, "missing", "main", "")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = tbl.Merge(ctx, "empty", "missing", "")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCherryPick(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	_, err := tbl.Create(ctx, "a", "", "")
	require.NoError(t, err)
	_, err = tbl.Create(ctx, "b", "", "")
	require.NoError(t, err)

	src := commitTo(t, tbl, "a",
		model.NewEvent(model.EventAdd, "x", "y", "1", model.At(t0)),
		model.NewEvent(model.EventAdd, "x", "z", "2", model.At(t0)))

	c, err := tbl.CherryPick(ctx, src.ID, "b", "")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, src.Events, c.Events)
	assert.NotEqual(t, src.ID, c.ID)
	assert.Equal(t, src.ID, c.Metadata[model.MetaCherryPickFrom])
	assert.Equal(t, "Cherry-pick: test commit", c.Message)

	b, _ := tbl.Get(ctx, "b")
	assert.Equal(t, c.ID, b.Head)

	c, err = tbl.CherryPick(ctx, "0000000000000000", "b", "")
	require.NoError(t, err)
	assert.Nil(t, c)
	c, err = tbl.CherryPick(ctx, src.ID, "missing", "")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	shared := model.NewEvent(model.EventAdd, "s", "p", "o", model.At(t0))
	commitTo(t, tbl, "main", shared)
	_, err := tbl.Create(ctx, "work", "", "")
	require.NoError(t, err)

	onMain := model.NewEvent(model.EventAdd, "m", "p", "o", model.At(t0))
	onWork := model.NewEvent(model.EventAdd, "w", "p", "o", model.At(t0))
	commitTo(t, tbl, "main", onMain)
	commitTo(t, tbl, "work", onWork)

	onlyMain, onlyWork, err := tbl.Diff(ctx, "main", "work")
	require.NoError(t, err)
	assert.Equal(t, []string{onMain.ID}, onlyMain)
	assert.Equal(t, []string{onWork.ID}, onlyWork)
}

func TestAdvanceHeadCompareAndSet(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	c1 := commitTo(t, tbl, "main", model.NewEvent(model.EventAdd, "a", "b", "c", model.At(t0)))

	err := tbl.WriteTx(ctx, func(tx *TxTable) error {
		// Stale expectation: main moved from empty to c1.
		return tx.AdvanceHead(ctx, "main", "", c1.ID)
	})
	assert.True(t, errors.Is(err, ErrHeadMoved))

	err = tbl.WriteTx(ctx, func(tx *TxTable) error {
		return tx.AdvanceHead(ctx, "ghost", "", c1.ID)
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	for _, name := range []string{"work-acme", "work-globex", "personal"} {
		_, err := tbl.Create(ctx, name, "", "")
		require.NoError(t, err)
	}

	got, err := tbl.Match(ctx, "work-*")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "work-acme", got[0].Name)

	_, err = tbl.Match(ctx, "[")
	assert.Error(t, err)
}

func TestSaveAndList(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	require.NoError(t, tbl.Save(ctx, model.Branch{Name: "notes", Persona: "journal",
		Metadata: map[string]string{"owner": "ada"}}))

	b, err := tbl.Get(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "ada", b.Metadata["owner"])

	all, err := tbl.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "main", all[0].Name)
}
