package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-memgit/internal/branch"
	"github.com/rcliao/agent-memgit/internal/config"
	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/pending"
	"github.com/rcliao/agent-memgit/internal/view"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStore(t, testConfig(t))
}

func openTestStore(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	clock := &testClock{now: t0}
	s, err := Open(context.Background(), cfg, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func confidence(v float64) *float64 { return &v }

func addEvent(s *Store, subject, predicate, object string, opts ...model.EventOption) model.Event {
	opts = append([]model.EventOption{model.At(s.Now())}, opts...)
	return model.NewEvent(model.EventAdd, subject, predicate, object, opts...)
}

func TestOpenCreatesMain(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	name, err := s.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", name)

	c, err := s.CurrentCommit(ctx)
	require.NoError(t, err)
	assert.Nil(t, c)

	all, err := s.AllMemories(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCommitAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := addEvent(s, "user", "prefers", "dark mode", model.WithConfidence(0.7))
	c, err := s.Commit(ctx, []model.Event{ev}, "prefs", nil)
	require.NoError(t, err)
	assert.Equal(t, "main", c.Branch)
	assert.Empty(t, c.ParentID)
	assert.Equal(t, []string{ev.ComputeID()}, c.Events)

	got, ok, err := s.View().Get(ctx, "user", "prefers", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark mode", got.Object)
	assert.Equal(t, 0.7, got.Confidence)

	head, err := s.CurrentCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, head.ID)

	c2, err := s.Commit(ctx, []model.Event{addEvent(s, "user", "name", "Ada")}, "name", nil)
	require.NoError(t, err)
	assert.Equal(t, c.ID, c2.ParentID)

	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, c2.ID, history[0].ID)

	history, err = s.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSameFactLaterTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := addEvent(s, "user", "city", "SF")
	_, err := s.Commit(ctx, []model.Event{first}, "city", nil)
	require.NoError(t, err)
	second := addEvent(s, "user", "city", "SF")
	_, err = s.Commit(ctx, []model.Event{second}, "city again", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ComputeID(), second.ComputeID())
	n, err := s.Ledger().CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok, err := s.View().Get(ctx, "user", "city", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ComputeID(), got.ID)
}

func TestValidationBeforeWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	good := addEvent(s, "user", "name", "Ada")
	bad := addEvent(s, "user", "bio", "<script>alert(1)</script>")
	_, err := s.Commit(ctx, []model.Event{good, bad}, "mixed", nil)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "object", verr.Field)

	n, err := s.Ledger().CountEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.Ledger().CountCommits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestContentSizeLimit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Memory.MaxContentSize = 64
	s := openTestStore(t, cfg)

	_, err := s.Commit(ctx, []model.Event{addEvent(s, "user", "bio", strings.Repeat("x", 100))}, "big", nil)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCommitCanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Commit(ctx, []model.Event{addEvent(s, "a", "b", "c")}, "x", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAddEventInvisibleUntilCommitted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := addEvent(s, "user", "pet", "cat")
	id, err := s.AddEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ev.ComputeID(), id)

	_, ok, err := s.View().Get(ctx, "user", "pet", "")
	require.NoError(t, err)
	assert.False(t, ok)

	// committing the same event again is idempotent at the ledger level
	_, err = s.Commit(ctx, []model.Event{ev}, "pet", nil)
	require.NoError(t, err)
	_, ok, err = s.View().Get(ctx, "user", "pet", "")
	require.NoError(t, err)
	assert.True(t, ok)
	n, _ := s.Ledger().CountEvents(ctx)
	assert.Equal(t, 1, n)
}

func TestBranchIsolationAndMerge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Commit(ctx, []model.Event{addEvent(s, "user", "name", "Ada")}, "c1", nil)
	require.NoError(t, err)

	_, err = s.Branches().Create(ctx, "work", "work", "main")
	require.NoError(t, err)
	ok, err := s.Branches().Switch(ctx, "work")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Commit(ctx, []model.Event{addEvent(s, "project", "language", "Rust")}, "lang", nil)
	require.NoError(t, err)

	mainView, err := s.BranchView("main")
	require.NoError(t, err)
	found, err := mainView.Search(ctx, view.Query{Subject: "project"})
	require.NoError(t, err)
	assert.Empty(t, found)

	// HEAD follows the switch
	found, err = s.View().Search(ctx, view.Query{Subject: "project"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	mc, err := s.Branches().Merge(ctx, "work", "main", "")
	require.NoError(t, err)
	require.NotNil(t, mc)
	assert.Equal(t, "Merge branch 'work' into 'main'", mc.Message)

	found, err = mainView.Search(ctx, view.Query{Subject: "project"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	again, err := s.Branches().Merge(ctx, "work", "main", "")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCommitCreatesMissingBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Branches().SetCurrent(ctx, "scratch"))
	c, err := s.Commit(ctx, []model.Event{addEvent(s, "note", "text", "hi")}, "note", nil)
	require.NoError(t, err)
	assert.Equal(t, "scratch", c.Branch)

	b, err := s.Branches().Get(ctx, "scratch")
	require.NoError(t, err)
	assert.Equal(t, c.ID, b.Head)
}

func TestConcurrentHandles(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := openTestStore(t, cfg)
	b := openTestStore(t, cfg)

	var wg sync.WaitGroup
	for _, s := range []*Store{a, b} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := s.Commit(ctx, []model.Event{addEvent(s, "counter", "value", strings.Repeat("i", i+1))}, "tick", nil)
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	history, err := a.History(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, history, 20)
}

func TestRememberUpdateForget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Remember(ctx, AddParams{Subject: "user", Predicate: "editor", Object: "vim"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, res.Event.Confidence)
	assert.Equal(t, model.SourceAgentInferred, res.Event.Source)
	assert.Equal(t, "Add: user editor vim", res.Commit.Message)

	upd, err := s.Update(ctx, UpdateParams{Subject: "user", Predicate: "editor", Value: "helix", Reason: "switched"})
	require.NoError(t, err)
	assert.Equal(t, model.EventUpdate, upd.Event.Type)
	assert.Equal(t, res.Event.ComputeID(), upd.Event.ParentID)
	assert.Equal(t, "Updated from 'vim'. Reason: switched", upd.Event.Evidence)
	require.NotNil(t, upd.Previous)
	assert.Equal(t, "vim", upd.Previous.Object)

	got, ok, err := s.View().Get(ctx, "user", "editor", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "helix", got.Object)

	lineage, err := s.Lineage(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, "vim", lineage[1].Object)

	fg, err := s.Forget(ctx, ForgetParams{Subject: "user", Predicate: "editor"})
	require.NoError(t, err)
	assert.Equal(t, "User requested", fg.Event.Object)
	assert.Equal(t, got.ID, fg.Event.ParentID)

	_, ok, err = s.View().Get(ctx, "user", "editor", "")
	require.NoError(t, err)
	assert.False(t, ok)

	// history keeps everything
	history, err := s.KeyHistory(ctx, "user", "editor", "")
	require.NoError(t, err)
	assert.Len(t, history, 3)

	found, err := s.Search(ctx, SearchParams{Subject: "user"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestRememberZeroConfidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Remember(ctx, AddParams{Subject: "user", Predicate: "pet", Object: "cat", Confidence: confidence(0)})
	require.NoError(t, err)
	assert.Zero(t, res.Event.Confidence)

	got, ok, err := s.View().Get(ctx, "user", "pet", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, got.Confidence)

	_, err = s.Remember(ctx, AddParams{Subject: "user", Predicate: "pet", Object: "dog", Confidence: confidence(1.5)})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "confidence", verr.Field)
}

func TestUpdateAndForgetMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Update(ctx, UpdateParams{Subject: "user", Predicate: "editor", Value: "emacs"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Forget(ctx, ForgetParams{Subject: "user", Predicate: "editor"})
	require.ErrorIs(t, err, ErrNotFound)

	n, _ := s.Ledger().CountCommits(ctx)
	assert.Zero(t, n)
}

func TestForgetKeepsScope(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Remember(ctx, AddParams{Subject: "user", Predicate: "lang", Object: "go", Scope: "work"})
	require.NoError(t, err)
	fg, err := s.Forget(ctx, ForgetParams{Subject: "user", Predicate: "lang", Scope: "work", Reason: "outdated"})
	require.NoError(t, err)
	assert.Equal(t, "work", fg.Event.Scope)
	assert.Equal(t, "outdated", fg.Event.Object)
}

func TestFindFacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Commit(ctx, []model.Event{
		addEvent(s, "user", "prefers", "dark mode", model.WithConfidence(0.6)),
		addEvent(s, "user", "editor", "Dark Vim theme", model.WithConfidence(0.9)),
		addEvent(s, "project", "language", "Go"),
	}, "facts", nil)
	require.NoError(t, err)

	found, err := s.FindFacts(ctx, FindParams{Query: "dark"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "editor", found[0].Predicate)

	found, err = s.FindFacts(ctx, FindParams{Subject: "project"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = s.FindFacts(ctx, FindParams{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestContextString(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	out, err := s.ContextString(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = s.Remember(ctx, AddParams{Subject: "user", Predicate: "name", Object: "Ada", Confidence: confidence(1)})
	require.NoError(t, err)
	out, err = s.ContextString(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "## Memory\n\n### General\n- ✓ user name Ada", out)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	_, err := src.Remember(ctx, AddParams{Subject: "user", Predicate: "name", Object: "Ada"})
	require.NoError(t, err)
	_, err = src.Branches().Create(ctx, "work", "work", "main")
	require.NoError(t, err)
	_, err = src.Branches().Switch(ctx, "work")
	require.NoError(t, err)
	_, err = src.Remember(ctx, AddParams{Subject: "project", Predicate: "language", Object: "Go"})
	require.NoError(t, err)

	bundle, err := src.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, bundle.Events, 2)
	assert.Len(t, bundle.Commits, 2)
	assert.Len(t, bundle.Branches, 2)
	assert.Equal(t, "work", bundle.Current)

	dst := newTestStore(t)
	res, err := dst.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 2, res.Commits)
	assert.Equal(t, 1, res.Branches)
	assert.Equal(t, 1, res.Skipped)

	workView, err := dst.BranchView("work")
	require.NoError(t, err)
	facts, err := workView.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	res, err = dst.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Zero(t, res.Events)
	assert.Zero(t, res.Commits)
	assert.Zero(t, res.Branches)
}

func TestImportRejectsTamperedEvent(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	_, err := src.Remember(ctx, AddParams{Subject: "user", Predicate: "name", Object: "Ada"})
	require.NoError(t, err)

	bundle, err := src.Export(ctx)
	require.NoError(t, err)
	bundle.Events[0].Object = "Eve"

	dst := newTestStore(t)
	_, err = dst.Import(ctx, bundle)
	require.Error(t, err)
	n, _ := dst.Ledger().CountEvents(ctx)
	assert.Zero(t, n)
}

func TestImportMissingParent(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	_, err := src.Remember(ctx, AddParams{Subject: "a", Predicate: "b", Object: "c"})
	require.NoError(t, err)
	_, err = src.Remember(ctx, AddParams{Subject: "a", Predicate: "d", Object: "e"})
	require.NoError(t, err)

	bundle, err := src.Export(ctx)
	require.NoError(t, err)
	bundle.Commits = bundle.Commits[1:]
	bundle.Branches = nil

	dst := newTestStore(t)
	_, err = dst.Import(ctx, bundle)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrMissingParent))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Remember(ctx, AddParams{Subject: "user", Predicate: "name", Object: "Ada"})
	require.NoError(t, err)
	_, err = s.Remember(ctx, AddParams{Subject: "user", Predicate: "city", Object: "Paris"})
	require.NoError(t, err)
	_, err = s.Branches().Create(ctx, "fork", "", "")
	require.NoError(t, err)
	_, err = s.Pending().Add(ctx, pending.Item{
		Branch: "main", Subject: "user", Predicate: "city", Object: "Rome", Confidence: 0.5,
	})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Events)
	assert.Equal(t, 2, st.Commits)
	assert.Equal(t, "main", st.CurrentBranch)
	assert.Equal(t, 1, st.Pending)
	assert.Positive(t, st.DBSizeBytes)
	require.Len(t, st.Branches, 2)

	byName := map[string]BranchStats{}
	for _, b := range st.Branches {
		byName[b.Name] = b
	}
	assert.Equal(t, 2, byName["main"].Commits)
	assert.Equal(t, 2, byName["main"].Facts)
	assert.Equal(t, byName["main"].Head, byName["fork"].Head)
	assert.Equal(t, 2, byName["fork"].Facts)
}

func TestDeleteProtectedBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.Branches().Delete(ctx, "main")
	require.ErrorIs(t, err, branch.ErrProtected)
	assert.False(t, ok)
}
