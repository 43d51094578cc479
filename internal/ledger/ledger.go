// Package ledger is the append-only, content-addressed store of events and
// commits. Records are only ever inserted; there is no update or delete.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/agent-memgit/internal/model"
)

var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrMissingEvent  = errors.New("ledger: commit references missing event")
	ErrMissingParent = errors.New("ledger: commit references missing parent")
)

// DefaultCacheSize is the number of events (and, separately, commits) kept
// in the read cache.
const DefaultCacheSize = 1024

// Querier is the subset of *sql.DB and *sql.Tx the ledger needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger stores events and commits in SQLite.
type Ledger struct {
	db      *sql.DB
	events  *lru.Cache[string, model.Event]
	commits *lru.Cache[string, model.Commit]
	log     zerolog.Logger
}

type settings struct {
	cacheSize int
	logger    zerolog.Logger
}

// Option configures a Ledger.
type Option func(*settings)

// WithCacheSize sets the LRU size for immutable records.
func WithCacheSize(n int) Option {
	return func(s *settings) { s.cacheSize = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New migrates the ledger tables on db and returns a Ledger.
func New(db *sql.DB, opts ...Option) (*Ledger, error) {
	s := settings{cacheSize: DefaultCacheSize, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.cacheSize <= 0 {
		s.cacheSize = DefaultCacheSize
	}

	events, err := lru.New[string, model.Event](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("event cache: %w", err)
	}
	commits, err := lru.New[string, model.Commit](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("commit cache: %w", err)
	}

	l := &Ledger{
		db:      db,
		events:  events,
		commits: commits,
		log:     s.logger.With().Str("component", "ledger").Logger(),
	}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		subject     TEXT NOT NULL,
		predicate   TEXT NOT NULL,
		object      TEXT NOT NULL,
		scope       TEXT,
		confidence  REAL NOT NULL,
		source      TEXT NOT NULL,
		evidence    TEXT,
		sensitivity TEXT NOT NULL,
		parent_id   TEXT,
		timestamp   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject, predicate);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

	CREATE TABLE IF NOT EXISTS commits (
		id         TEXT PRIMARY KEY,
		branch     TEXT NOT NULL,
		events     TEXT NOT NULL,
		message    TEXT NOT NULL,
		parent_id  TEXT,
		timestamp  TEXT NOT NULL,
		metadata   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_commits_parent ON commits(parent_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// AppendEvent stores ev. Appending an id that already exists is a no-op
// returning the same id.
func (l *Ledger) AppendEvent(ctx context.Context, ev model.Event) (string, error) {
	return appendEvent(ctx, l.db, ev)
}

// AppendCommit stores c after checking that every event it references and
// its parent are present.
func (l *Ledger) AppendCommit(ctx context.Context, c model.Commit) (string, error) {
	return appendCommit(ctx, l.db, c)
}

// Event returns the event with the given id, or ErrNotFound.
func (l *Ledger) Event(ctx context.Context, id string) (model.Event, error) {
	if ev, ok := l.events.Get(id); ok {
		return ev, nil
	}
	ev, err := getEvent(ctx, l.db, id)
	if err != nil {
		return model.Event{}, err
	}
	l.events.Add(id, ev)
	return ev, nil
}

// Commit returns the commit with the given id, or ErrNotFound.
func (l *Ledger) Commit(ctx context.Context, id string) (model.Commit, error) {
	if c, ok := l.commits.Get(id); ok {
		return c, nil
	}
	c, err := getCommit(ctx, l.db, id)
	if err != nil {
		return model.Commit{}, err
	}
	l.commits.Add(id, c)
	return c, nil
}

func (l *Ledger) EventExists(ctx context.Context, id string) (bool, error) {
	if l.events.Contains(id) {
		return true, nil
	}
	return exists(ctx, l.db, "events", id)
}

func (l *Ledger) CommitExists(ctx context.Context, id string) (bool, error) {
	if l.commits.Contains(id) {
		return true, nil
	}
	return exists(ctx, l.db, "commits", id)
}

// EventIDs returns the set of all stored event ids.
func (l *Ledger) EventIDs(ctx context.Context) (map[string]struct{}, error) {
	return listIDs(ctx, l.db, "events")
}

// CommitIDs returns the set of all stored commit ids.
func (l *Ledger) CommitIDs(ctx context.Context) (map[string]struct{}, error) {
	return listIDs(ctx, l.db, "commits")
}

func (l *Ledger) CountEvents(ctx context.Context) (int, error) {
	return count(ctx, l.db, "events")
}

func (l *Ledger) CountCommits(ctx context.Context) (int, error) {
	return count(ctx, l.db, "commits")
}

// Events iterates every stored event in insertion order. Each call re-reads
// from storage. The loop body must not query the ledger: the single pooled
// connection is held until iteration ends.
func (l *Ledger) Events(ctx context.Context) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		rows, err := l.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY rowid`)
		if err != nil {
			yield(model.Event{}, fmt.Errorf("query events: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			ev, err := scanEvent(rows)
			if !yield(ev, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Event{}, err)
		}
	}
}

// Commits iterates every stored commit in insertion order. Each call re-reads
// from storage.
func (l *Ledger) Commits(ctx context.Context) iter.Seq2[model.Commit, error] {
	return func(yield func(model.Commit, error) bool) {
		rows, err := l.db.QueryContext(ctx, `SELECT `+commitColumns+` FROM commits ORDER BY rowid`)
		if err != nil {
			yield(model.Commit{}, fmt.Errorf("query commits: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCommit(rows)
			if !yield(c, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Commit{}, err)
		}
	}
}

// CommitHistory walks parent links from commitID back to the root, newest
// first. A missing commit ends the walk: a pruned ledger yields a truncated
// history, not an error.
func (l *Ledger) CommitHistory(ctx context.Context, commitID string) ([]model.Commit, error) {
	var history []model.Commit
	seen := make(map[string]bool)
	for id := commitID; id != "" && !seen[id]; {
		seen[id] = true
		c, err := l.Commit(ctx, id)
		if errors.Is(err, ErrNotFound) {
			l.log.Debug().Str("commit", id).Msg("history truncated at missing commit")
			break
		}
		if err != nil {
			return nil, err
		}
		history = append(history, c)
		id = c.ParentID
	}
	return history, nil
}

// EventsUpTo returns every event reachable from commitID, oldest commit
// first, deduplicated by id. Events missing from the ledger are skipped.
func (l *Ledger) EventsUpTo(ctx context.Context, commitID string) ([]model.Event, error) {
	if commitID == "" {
		return nil, nil
	}
	history, err := l.CommitHistory(ctx, commitID)
	if err != nil {
		return nil, err
	}

	var events []model.Event
	seen := make(map[string]bool)
	for i := len(history) - 1; i >= 0; i-- {
		for _, id := range history[i].Events {
			if seen[id] {
				continue
			}
			seen[id] = true
			ev, err := l.Event(ctx, id)
			if errors.Is(err, ErrNotFound) {
				l.log.Debug().Str("event", id).Str("commit", history[i].ID).Msg("skipping missing event")
				continue
			}
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// EventIDsUpTo is the id set of EventsUpTo.
func (l *Ledger) EventIDsUpTo(ctx context.Context, commitID string) (map[string]struct{}, error) {
	events, err := l.EventsUpTo(ctx, commitID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(events))
	for _, ev := range events {
		ids[ev.ID] = struct{}{}
	}
	return ids, nil
}

// EventsForCommit returns the events of a single commit in commit order.
func (l *Ledger) EventsForCommit(ctx context.Context, commitID string) ([]model.Event, error) {
	c, err := l.Commit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	events := make([]model.Event, 0, len(c.Events))
	for _, id := range c.Events {
		ev, err := l.Event(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// WithTx returns a ledger view that writes inside tx. Its reads bypass the
// cache so rolled-back records are never cached.
func (l *Ledger) WithTx(tx *sql.Tx) *TxLedger {
	return &TxLedger{q: tx}
}

// TxLedger appends records inside a caller-owned transaction.
type TxLedger struct {
	q Querier
}

func (t *TxLedger) AppendEvent(ctx context.Context, ev model.Event) (string, error) {
	return appendEvent(ctx, t.q, ev)
}

func (t *TxLedger) AppendCommit(ctx context.Context, c model.Commit) (string, error) {
	return appendCommit(ctx, t.q, c)
}

func (t *TxLedger) EventExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, t.q, "events", id)
}

func (t *TxLedger) CommitExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, t.q, "commits", id)
}
