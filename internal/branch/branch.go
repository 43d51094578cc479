// Package branch manages named pointers into the commit chain and the HEAD
// reference naming the current branch.
package branch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/rcliao/agent-memgit/internal/ledger"
	"github.com/rcliao/agent-memgit/internal/model"
)

var (
	ErrNotFound      = errors.New("branch: not found")
	ErrExists        = errors.New("branch: already exists")
	ErrProtected     = errors.New("branch: protected")
	ErrHeadMoved     = errors.New("branch: head moved")

	// ErrWriteConflict is returned once a head-moving write has lost the
	// compare-and-set race more times than its retry budget allows.
	ErrWriteConflict = errors.New("write conflict")
)

const headRef = "HEAD"

// History is the part of the ledger the branch table reads and writes.
type History interface {
	Commit(ctx context.Context, id string) (model.Commit, error)
	EventsUpTo(ctx context.Context, commitID string) ([]model.Event, error)
	WithTx(tx *sql.Tx) *ledger.TxLedger
}

// Table stores branches and HEAD in SQLite.
type Table struct {
	db             *sql.DB
	hist           History
	defaultBranch  string
	defaultPersona string
	retries        int
	now            func() time.Time
	log            zerolog.Logger

	// mu serialises writers sharing this handle.
	mu sync.Mutex
}

// Option configures a Table.
type Option func(*Table)

func WithDefaultBranch(name string) Option {
	return func(t *Table) { t.defaultBranch = name }
}

func WithDefaultPersona(persona string) Option {
	return func(t *Table) { t.defaultPersona = persona }
}

// WithRetries sets how many times a head compare-and-set is retried.
func WithRetries(n int) Option {
	return func(t *Table) { t.retries = n }
}

func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Table) { t.log = l }
}

// New migrates the branch tables and returns a Table.
func New(db *sql.DB, hist History, opts ...Option) (*Table, error) {
	t := &Table{
		db:             db,
		hist:           hist,
		defaultBranch:  model.MainBranch,
		defaultPersona: "default",
		retries:        3,
		now:            time.Now,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.retries < 1 {
		t.retries = 1
	}
	t.log = t.log.With().Str("component", "branch").Logger()

	if err := t.migrate(); err != nil {
		return nil, fmt.Errorf("migrate branches: %w", err)
	}
	return t, nil
}

func (t *Table) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS branches (
		name       TEXT PRIMARY KEY,
		head       TEXT,
		persona    TEXT,
		created_at TEXT NOT NULL,
		metadata   TEXT
	);

	CREATE TABLE IF NOT EXISTS refs (
		name  TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := t.db.Exec(schema)
	return err
}

// DefaultBranch is the protected branch name.
func (t *Table) DefaultBranch() string { return t.defaultBranch }

// Retries is the compare-and-set attempt budget.
func (t *Table) Retries() int { return t.retries }

// Now returns the table clock's current time in UTC.
func (t *Table) Now() time.Time { return t.now().UTC() }

// EnsureDefault creates the default branch and HEAD if they are absent.
func (t *Table) EnsureDefault(ctx context.Context) error {
	return t.WriteTx(ctx, func(tx *TxTable) error {
		if _, err := tx.Get(ctx, t.defaultBranch); errors.Is(err, ErrNotFound) {
			b := model.Branch{Name: t.defaultBranch, Persona: t.defaultPersona, CreatedAt: t.Now()}
			if err := tx.Insert(ctx, b); err != nil && !errors.Is(err, ErrExists) {
				return err
			}
		} else if err != nil {
			return err
		}
		_, err := tx.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO refs (name, value) VALUES (?, ?)`, headRef, t.defaultBranch)
		return err
	})
}

// Current returns the name HEAD points at, or the default branch when unset.
func (t *Table) Current(ctx context.Context) (string, error) {
	return currentBranch(ctx, t.db, t.defaultBranch)
}

// SetCurrent points HEAD at name without checking that it exists.
func (t *Table) SetCurrent(ctx context.Context, name string) error {
	_, err := t.db.ExecContext(ctx, `INSERT INTO refs (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, headRef, name)
	if err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	return nil
}

// Get returns the named branch or ErrNotFound.
func (t *Table) Get(ctx context.Context, name string) (model.Branch, error) {
	return getBranch(ctx, t.db, name)
}

// Save inserts or replaces a branch record.
func (t *Table) Save(ctx context.Context, b model.Branch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.Now()
	}
	meta, err := encodeMeta(b.Metadata)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx, `INSERT INTO branches (name, head, persona, created_at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET head = excluded.head, persona = excluded.persona,
			metadata = excluded.metadata`,
		b.Name, nullString(b.Head), nullString(b.Persona), model.FormatTime(b.CreatedAt), meta)
	if err != nil {
		return fmt.Errorf("save branch: %w", err)
	}
	return nil
}

// List returns every branch ordered by name.
func (t *Table) List(ctx context.Context) ([]model.Branch, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT name, head, persona, created_at, metadata FROM branches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// Match lists branches whose name matches a glob pattern such as "work-*".
func (t *Table) Match(ctx context.Context, pattern string) ([]model.Branch, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	all, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	var matched []model.Branch
	for _, b := range all {
		if g.Match(b.Name) {
			matched = append(matched, b)
		}
	}
	return matched, nil
}

// Create forks a new branch whose head is the source branch's current head.
// from defaults to the current branch; a missing source yields an empty head.
// No commit is produced.
func (t *Table) Create(ctx context.Context, name, persona, from string) (model.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == headRef {
		return model.Branch{}, fmt.Errorf("invalid branch name %q", name)
	}

	var created model.Branch
	err := t.WriteTx(ctx, func(tx *TxTable) error {
		source := from
		if source == "" {
			var err error
			if source, err = currentBranch(ctx, tx.q, t.defaultBranch); err != nil {
				return err
			}
		}
		var head string
		if src, err := tx.Get(ctx, source); err == nil {
			head = src.Head
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		created = model.Branch{Name: name, Head: head, Persona: persona, CreatedAt: t.Now()}
		return tx.Insert(ctx, created)
	})
	if err != nil {
		return model.Branch{}, err
	}
	t.log.Info().Str("branch", name).Str("from", from).Str("head", created.Head).Msg("branch created")
	return created, nil
}

// Delete removes a branch. The default branch and the current branch are
// refused with ErrProtected; a missing branch reports false.
func (t *Table) Delete(ctx context.Context, name string) (bool, error) {
	if name == t.defaultBranch {
		return false, fmt.Errorf("%w: %s is the default branch", ErrProtected, name)
	}

	var deleted bool
	err := t.WriteTx(ctx, func(tx *TxTable) error {
		current, err := currentBranch(ctx, tx.q, t.defaultBranch)
		if err != nil {
			return err
		}
		if name == current {
			return fmt.Errorf("%w: %s is the current branch", ErrProtected, name)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("delete branch: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// Switch points HEAD at an existing branch. It reports false when the branch
// does not exist.
func (t *Table) Switch(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := t.WriteTx(ctx, func(tx *TxTable) error {
		if _, err := tx.Get(ctx, name); errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		_, err := tx.q.ExecContext(ctx, `INSERT INTO refs (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`, headRef, name)
		ok = err == nil
		return err
	})
	return ok, err
}

// WriteTx runs fn inside a transaction while holding the writer lock. The
// transaction commits when fn returns nil.
func (t *Table) WriteTx(ctx context.Context, fn func(tx *TxTable) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &TxTable{q: sqlTx, Tx: sqlTx, Ledger: t.hist.WithTx(sqlTx)}
	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TxTable exposes branch reads and writes inside a write transaction, along
// with the ledger bound to the same transaction.
type TxTable struct {
	q      ledger.Querier
	Tx     *sql.Tx
	Ledger *ledger.TxLedger
}

func (tx *TxTable) Get(ctx context.Context, name string) (model.Branch, error) {
	return getBranch(ctx, tx.q, name)
}

// Current reads HEAD inside the transaction.
func (tx *TxTable) Current(ctx context.Context, fallback string) (string, error) {
	return currentBranch(ctx, tx.q, fallback)
}

// Insert creates a branch record, failing with ErrExists if the name is taken.
func (tx *TxTable) Insert(ctx context.Context, b model.Branch) error {
	meta, err := encodeMeta(b.Metadata)
	if err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx, `INSERT INTO branches (name, head, persona, created_at, metadata)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		b.Name, nullString(b.Head), nullString(b.Persona), model.FormatTime(b.CreatedAt), meta)
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, b.Name)
	}
	return nil
}

// AdvanceHead moves a branch head from expected to next. It fails with
// ErrHeadMoved when another writer moved the head first.
func (tx *TxTable) AdvanceHead(ctx context.Context, name, expected, next string) error {
	res, err := tx.q.ExecContext(ctx,
		`UPDATE branches SET head = ? WHERE name = ? AND head IS ?`,
		next, name, nullString(expected))
	if err != nil {
		return fmt.Errorf("advance head: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := tx.Get(ctx, name); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is no longer at %s", ErrHeadMoved, name, model.ShortID(expected))
}

func currentBranch(ctx context.Context, q ledger.Querier, fallback string) (string, error) {
	var name string
	err := q.QueryRowContext(ctx, `SELECT value FROM refs WHERE name = ?`, headRef).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && name == "") {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	return name, nil
}

func getBranch(ctx context.Context, q ledger.Querier, name string) (model.Branch, error) {
	row := q.QueryRowContext(ctx,
		`SELECT name, head, persona, created_at, metadata FROM branches WHERE name = ?`, name)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return b, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBranch(row scanner) (model.Branch, error) {
	var b model.Branch
	var head, persona, meta sql.NullString
	var createdAt string
	if err := row.Scan(&b.Name, &head, &persona, &createdAt, &meta); err != nil {
		return b, err
	}
	b.Head = head.String
	b.Persona = persona.String
	b.CreatedAt, _ = model.ParseTime(createdAt)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &b.Metadata); err != nil {
			return b, fmt.Errorf("branch %s metadata: %w", b.Name, err)
		}
	}
	return b, nil
}

func encodeMeta(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode branch metadata: %w", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
