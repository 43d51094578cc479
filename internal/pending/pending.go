// Package pending keeps conflicts deferred to the user. Deferring writes no
// memory event; the queue only remembers what to ask about.
package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/agent-memgit/internal/model"
)

var ErrNotFound = errors.New("pending: not found")

// Item is one deferred conflict between a stored memory and a candidate.
type Item struct {
	ID         string     `json:"id"`
	Branch     string     `json:"branch"`
	ExistingID string     `json:"existing_id"`
	Subject    string     `json:"subject"`
	Predicate  string     `json:"predicate"`
	Object     string     `json:"object"`
	Scope      string     `json:"scope,omitempty"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Queue stores items in SQLite.
type Queue struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// New migrates the pending table and returns a Queue.
func New(db *sql.DB, log zerolog.Logger) (*Queue, error) {
	q := &Queue{db: db, log: log.With().Str("component", "pending").Logger(), now: time.Now}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS pending (
		id          TEXT PRIMARY KEY,
		branch      TEXT NOT NULL,
		existing_id TEXT,
		subject     TEXT NOT NULL,
		predicate   TEXT NOT NULL,
		object      TEXT NOT NULL,
		scope       TEXT,
		confidence  REAL NOT NULL,
		reason      TEXT,
		created_at  TEXT NOT NULL,
		resolved_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pending_branch ON pending(branch, resolved_at);`)
	if err != nil {
		return nil, fmt.Errorf("migrate pending: %w", err)
	}
	return q, nil
}

// Add records an item and returns it with its id and timestamp set.
func (q *Queue) Add(ctx context.Context, it Item) (Item, error) {
	it.ID = ulid.Make().String()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = q.now().UTC()
	}
	it.ResolvedAt = nil
	_, err := q.db.ExecContext(ctx, `INSERT INTO pending
		(id, branch, existing_id, subject, predicate, object, scope, confidence, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Branch, it.ExistingID, it.Subject, it.Predicate, it.Object, it.Scope,
		it.Confidence, it.Reason, model.FormatTime(it.CreatedAt))
	if err != nil {
		return Item{}, fmt.Errorf("insert pending: %w", err)
	}
	q.log.Info().Str("id", it.ID).Str("branch", it.Branch).
		Str("key", model.SlotKey(it.Subject, it.Predicate, it.Scope)).Msg("conflict deferred")
	return it, nil
}

// List returns unresolved items, oldest first. An empty branch lists all branches.
func (q *Queue) List(ctx context.Context, branch string) ([]Item, error) {
	query := `SELECT id, branch, existing_id, subject, predicate, object, scope, confidence,
		reason, created_at, resolved_at FROM pending WHERE resolved_at IS NULL`
	var args []any
	if branch != "" {
		query += ` AND branch = ?`
		args = append(args, branch)
	}
	query += ` ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Resolve marks an item as handled.
func (q *Queue) Resolve(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE pending SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		model.FormatTime(q.now()), id)
	if err != nil {
		return fmt.Errorf("resolve pending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func scanItem(rows *sql.Rows) (Item, error) {
	var it Item
	var existing, scope, reason, resolved sql.NullString
	var created string
	err := rows.Scan(&it.ID, &it.Branch, &existing, &it.Subject, &it.Predicate, &it.Object,
		&scope, &it.Confidence, &reason, &created, &resolved)
	if err != nil {
		return it, err
	}
	it.ExistingID = existing.String
	it.Scope = scope.String
	it.Reason = reason.String
	it.CreatedAt, _ = model.ParseTime(created)
	if resolved.Valid {
		ts, _ := model.ParseTime(resolved.String)
		it.ResolvedAt = &ts
	}
	return it, nil
}
