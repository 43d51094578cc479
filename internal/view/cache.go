package view

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rcliao/agent-memgit/internal/model"
)

// cacheRows bounds how many heads keep a persisted slot map.
const cacheRows = 16

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS view_cache (
		head       TEXT PRIMARY KEY,
		slots      TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`)
	return err
}

type cacheEntry struct {
	Head  string `json:"head"`
	Slots Slots  `json:"slots"`
}

// SaveCache persists slots for head. It is a no-op without a cache database.
func (v *View) SaveCache(ctx context.Context, head string, slots Slots) error {
	if v.db == nil {
		return nil
	}
	data, err := json.Marshal(cacheEntry{Head: head, Slots: slots})
	if err != nil {
		return err
	}
	_, err = v.db.ExecContext(ctx, `INSERT INTO view_cache (head, slots, created_at) VALUES (?, ?, ?)
		ON CONFLICT(head) DO UPDATE SET slots = excluded.slots, created_at = excluded.created_at`,
		head, string(data), model.FormatTime(time.Now()))
	if err != nil {
		return err
	}
	_, err = v.db.ExecContext(ctx, `DELETE FROM view_cache WHERE head NOT IN
		(SELECT head FROM view_cache ORDER BY created_at DESC LIMIT ?)`, cacheRows)
	return err
}

// LoadCache returns the persisted slots for head. Anything stored under a
// different head is stale and never returned; unreadable entries count as misses.
func (v *View) LoadCache(ctx context.Context, head string) (Slots, bool) {
	if v.db == nil {
		return nil, false
	}
	var data string
	err := v.db.QueryRowContext(ctx, `SELECT slots FROM view_cache WHERE head = ?`, head).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		v.log.Debug().Err(err).Msg("read view cache")
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil || entry.Head != head {
		return nil, false
	}
	if entry.Slots == nil {
		entry.Slots = Slots{}
	}
	v.log.Debug().Str("head", head).Int("slots", len(entry.Slots)).Msg("view cache loaded")
	return entry.Slots, true
}
