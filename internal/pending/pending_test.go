package pending

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-memgit/internal/sqlitedb"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	q, err := New(db, zerolog.Nop())
	require.NoError(t, err)
	return q
}

func TestAddListResolve(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	a, err := q.Add(ctx, Item{Branch: "main", ExistingID: "abc", Subject: "user", Predicate: "city", Object: "NYC", Confidence: 0.8, Reason: "unsure"})
	require.NoError(t, err)
	assert.Len(t, a.ID, 26)
	_, err = q.Add(ctx, Item{Branch: "work", Subject: "project", Predicate: "lang", Object: "Go"})
	require.NoError(t, err)

	all, err := q.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mainItems, err := q.List(ctx, "main")
	require.NoError(t, err)
	require.Len(t, mainItems, 1)
	assert.Equal(t, "NYC", mainItems[0].Object)
	assert.Equal(t, "abc", mainItems[0].ExistingID)

	require.NoError(t, q.Resolve(ctx, a.ID))
	mainItems, err = q.List(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, mainItems)

	err = q.Resolve(ctx, a.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
