// Package store is the entry point that creates new memory history. It
// combines the ledger, the branch table and the materialized views.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/agent-memgit/internal/branch"
	"github.com/rcliao/agent-memgit/internal/config"
	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/logging"
	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/pending"
	"github.com/rcliao/agent-memgit/internal/sqlitedb"
	"github.com/rcliao/agent-memgit/internal/view"
)

// ErrWriteConflict is returned when a branch head kept moving under the
// commit protocol until the retry budget ran out. It is the same sentinel
// merge and cherry-pick return.
var ErrWriteConflict = branch.ErrWriteConflict

// ErrNotFound is returned by tool operations that need an existing memory.
var ErrNotFound = errors.New("store: memory not found")

// Store is one handle on a memory database. It carries its own HEAD
// reference; nothing is process-global.
type Store struct {
	cfg      *config.Config
	db       *sql.DB
	ledger   *ledger.Ledger
	branches *branch.Table
	pending  *pending.Queue
	view     *view.View
	limits   model.Limits
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.Mutex
	views map[string]*view.View
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock replaces the time source for event and commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the database at cfg.DBPath and makes sure the
// default branch and HEAD exist.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		limits: model.Limits{MaxContentSize: cfg.Memory.MaxContentSize},
		now:    time.Now,
		log:    logging.Nop(),
		views:  make(map[string]*view.View),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log = logging.Component(s.log, "store")
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	var err error
	s.ledger, err = ledger.New(s.db,
		ledger.WithCacheSize(s.cfg.Memory.EventCacheSize),
		ledger.WithLogger(s.log))
	if err != nil {
		return err
	}
	s.branches, err = branch.New(s.db, s.ledger,
		branch.WithDefaultBranch(s.cfg.Memory.DefaultBranch),
		branch.WithDefaultPersona(s.cfg.Memory.DefaultPersona),
		branch.WithRetries(s.cfg.Memory.CommitRetries),
		branch.WithClock(s.now),
		branch.WithLogger(s.log))
	if err != nil {
		return err
	}
	if err := s.branches.EnsureDefault(ctx); err != nil {
		return fmt.Errorf("init default branch: %w", err)
	}
	s.pending, err = pending.New(s.db, s.log)
	if err != nil {
		return err
	}
	s.view, err = s.newView(s.currentHead)
	return err
}

func (s *Store) newView(head view.HeadFunc) (*view.View, error) {
	opts := []view.Option{view.WithLogger(s.log)}
	if s.cfg.Memory.PersistViewCache {
		opts = append(opts, view.WithCacheDB(s.db))
	}
	return view.New(s.ledger, head, opts...)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Config() *config.Config { return s.cfg }
func (s *Store) Ledger() *ledger.Ledger { return s.ledger }
func (s *Store) Branches() *branch.Table { return s.branches }
func (s *Store) Pending() *pending.Queue { return s.pending }
func (s *Store) Logger() zerolog.Logger { return s.log }
func (s *Store) Now() time.Time { return s.now().UTC() }
func (s *Store) Limits() model.Limits { return s.limits }

// View follows HEAD: after a switch it reflects the new current branch.
func (s *Store) View() *view.View { return s.view }

// BranchView returns a view pinned to the named branch.
func (s *Store) BranchView(name string) (*view.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[name]; ok {
		return v, nil
	}
	v, err := s.newView(func(ctx context.Context) (string, error) {
		return s.branchHead(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	s.views[name] = v
	return v, nil
}

// CurrentBranch returns the name HEAD points at.
func (s *Store) CurrentBranch(ctx context.Context) (string, error) {
	return s.branches.Current(ctx)
}

func (s *Store) currentHead(ctx context.Context) (string, error) {
	name, err := s.branches.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.branchHead(ctx, name)
}

func (s *Store) branchHead(ctx context.Context, name string) (string, error) {
	b, err := s.branches.Get(ctx, name)
	if errors.Is(err, branch.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return b.Head, nil
}
