package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/agent-memgit/internal/model"
)

const eventColumns = `id, event_type, subject, predicate, object, scope, confidence,
	source, evidence, sensitivity, parent_id, timestamp`

const commitColumns = `id, branch, events, message, parent_id, timestamp, metadata`

type scanner interface {
	Scan(dest ...any) error
}

func appendEvent(ctx context.Context, q Querier, ev model.Event) (string, error) {
	if ev.ID == "" {
		ev.ID = ev.ComputeID()
	}
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Subject, ev.Predicate, ev.Object, nullString(ev.Scope),
		ev.Confidence, string(ev.Source), nullString(ev.Evidence), string(ev.Sensitivity),
		nullString(ev.ParentID), model.FormatTime(ev.Timestamp),
	)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return ev.ID, nil
}

func appendCommit(ctx context.Context, q Querier, c model.Commit) (string, error) {
	if c.ID == "" {
		c.ID = c.ComputeID()
	}
	for _, id := range c.Events {
		ok, err := exists(ctx, q, "events", id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingEvent, id)
		}
	}
	if c.ParentID != "" {
		ok, err := exists(ctx, q, "commits", c.ParentID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingParent, c.ParentID)
		}
	}

	events := c.Events
	if events == nil {
		events = []string{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("encode commit events: %w", err)
	}
	var metaJSON any
	if len(c.Metadata) > 0 {
		b, err := json.Marshal(c.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode commit metadata: %w", err)
		}
		metaJSON = string(b)
	}

	_, err = q.ExecContext(ctx, `INSERT OR IGNORE INTO commits (`+commitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Branch, string(eventsJSON), c.Message, nullString(c.ParentID),
		model.FormatTime(c.Timestamp), metaJSON,
	)
	if err != nil {
		return "", fmt.Errorf("insert commit: %w", err)
	}
	return c.ID, nil
}

func getEvent(ctx context.Context, q Querier, id string) (model.Event, error) {
	row := q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

func getCommit(ctx context.Context, q Querier, id string) (model.Commit, error) {
	row := q.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = ?`, id)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("commit %s: %w", id, ErrNotFound)
	}
	return c, err
}

// table is always one of the two ledger tables, never caller input.
func exists(ctx context.Context, q Querier, table, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return true, nil
}

func listIDs(ctx context.Context, q Querier, table string) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func count(ctx context.Context, q Querier, table string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func scanEvent(row scanner) (model.Event, error) {
	var ev model.Event
	var typ, source, sensitivity, ts string
	var scope, evidence, parent sql.NullString

	err := row.Scan(
		&ev.ID, &typ, &ev.Subject, &ev.Predicate, &ev.Object, &scope, &ev.Confidence,
		&source, &evidence, &sensitivity, &parent, &ts,
	)
	if err != nil {
		return ev, err
	}

	ev.Type = model.EventType(typ)
	ev.Source = model.Source(source)
	ev.Sensitivity = model.Sensitivity(sensitivity)
	ev.Scope = scope.String
	ev.Evidence = evidence.String
	ev.ParentID = parent.String
	if ev.Timestamp, err = model.ParseTime(ts); err != nil {
		return ev, fmt.Errorf("event %s timestamp: %w", ev.ID, err)
	}
	return ev, nil
}

func scanCommit(row scanner) (model.Commit, error) {
	var c model.Commit
	var eventsJSON, ts string
	var parent, meta sql.NullString

	if err := row.Scan(&c.ID, &c.Branch, &eventsJSON, &c.Message, &parent, &ts, &meta); err != nil {
		return c, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &c.Events); err != nil {
		return c, fmt.Errorf("commit %s events: %w", c.ID, err)
	}
	c.ParentID = parent.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return c, fmt.Errorf("commit %s metadata: %w", c.ID, err)
		}
	}
	var err error
	if c.Timestamp, err = model.ParseTime(ts); err != nil {
		return c, fmt.Errorf("commit %s timestamp: %w", c.ID, err)
	}
	return c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
