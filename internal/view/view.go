// Package view materializes the current memory state of a branch by
// replaying the events reachable from its head.
package view

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/agent-memgit/internal/model"
)

// Source supplies the replay input.
type Source interface {
	EventsUpTo(ctx context.Context, commitID string) ([]model.Event, error)
}

// HeadFunc resolves the head commit id the view should reflect.
type HeadFunc func(ctx context.Context) (string, error)

// Slots maps subject|predicate|scope keys to slots.
type Slots map[string]model.Slot

// View is a cached projection of a branch. The cache is keyed by head commit
// id, so two branches at the same head share a computation.
type View struct {
	src  Source
	head HeadFunc
	db   *sql.DB
	log  zerolog.Logger

	mu         sync.Mutex
	cached     bool
	cachedHead string
	slots      Slots

	group singleflight.Group
}

// Option configures a View.
type Option func(*View)

// WithCacheDB persists computed slot maps in db so a new process can skip
// the replay.
func WithCacheDB(db *sql.DB) Option {
	return func(v *View) { v.db = db }
}

func WithLogger(l zerolog.Logger) Option {
	return func(v *View) { v.log = l }
}

// New returns a view over src that follows head.
func New(src Source, head HeadFunc, opts ...Option) (*View, error) {
	v := &View{src: src, head: head, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With().Str("component", "view").Logger()
	if v.db != nil {
		if err := migrate(v.db); err != nil {
			return nil, fmt.Errorf("migrate view cache: %w", err)
		}
	}
	return v, nil
}

// Compute returns the slot map for the current head. Unless force is set, a
// cached map for the same head is returned without replaying. The returned
// map is a copy; its slots must be treated as read-only.
func (v *View) Compute(ctx context.Context, force bool) (Slots, error) {
	head, err := v.head(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	if !force {
		v.mu.Lock()
		if v.cached && v.cachedHead == head {
			slots := maps.Clone(v.slots)
			v.mu.Unlock()
			v.log.Debug().Str("head", head).Msg("view cache hit")
			return slots, nil
		}
		v.mu.Unlock()

		if slots, ok := v.LoadCache(ctx, head); ok {
			v.remember(head, slots)
			return maps.Clone(slots), nil
		}
	}

	key := head
	if force {
		key = "force:" + head
	}
	res, err, _ := v.group.Do(key, func() (any, error) {
		events, err := v.src.EventsUpTo(ctx, head)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", head, err)
		}
		v.log.Debug().Str("head", head).Int("events", len(events)).Msg("view recomputed")
		return Replay(events), nil
	})
	if err != nil {
		return nil, err
	}
	slots := res.(Slots)
	v.remember(head, slots)
	if err := v.SaveCache(ctx, head, slots); err != nil {
		v.log.Warn().Err(err).Str("head", head).Msg("persist view cache")
	}
	return maps.Clone(slots), nil
}

// Invalidate drops the in-memory cache.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.cached = false
	v.slots = nil
	v.mu.Unlock()
}

func (v *View) remember(head string, slots Slots) {
	v.mu.Lock()
	v.cached = true
	v.cachedHead = head
	v.slots = slots
	v.mu.Unlock()
}

// Replay folds events, oldest first, into a slot map. add, update and confirm
// upsert the slot; deprecate keeps the slot with the deprecating event as its
// current value; forget removes the slot. Later events win.
func Replay(events []model.Event) Slots {
	slots := make(Slots)
	for _, ev := range events {
		key := ev.Key()
		switch ev.Type {
		case model.EventAdd, model.EventUpdate, model.EventConfirm:
			slot, ok := slots[key]
			if !ok {
				slot = model.Slot{Key: key}
			}
			slot.Current = ev
			slot.History = append(slot.History, ev.ID)
			slots[key] = slot
		case model.EventDeprecate:
			if slot, ok := slots[key]; ok {
				slot.Current = ev
				slot.History = append(slot.History, ev.ID)
				slots[key] = slot
			}
		case model.EventForget:
			delete(slots, key)
		}
	}
	return slots
}

// Get returns the active event for a key. Deprecated and forgotten keys
// report false.
func (v *View) Get(ctx context.Context, subject, predicate, scope string) (model.Event, bool, error) {
	slots, err := v.Compute(ctx, false)
	if err != nil {
		return model.Event{}, false, err
	}
	slot, ok := slots[model.SlotKey(subject, predicate, scope)]
	if !ok || !slot.Current.Active() {
		return model.Event{}, false, nil
	}
	return slot.Current, true, nil
}

// Slot returns the raw slot for a key, including deprecated ones.
func (v *View) Slot(ctx context.Context, subject, predicate, scope string) (model.Slot, bool, error) {
	slots, err := v.Compute(ctx, false)
	if err != nil {
		return model.Slot{}, false, err
	}
	slot, ok := slots[model.SlotKey(subject, predicate, scope)]
	return slot, ok, nil
}

// GetAll returns every active event, oldest first.
func (v *View) GetAll(ctx context.Context) ([]model.Event, error) {
	slots, err := v.Compute(ctx, false)
	if err != nil {
		return nil, err
	}
	return active(slots), nil
}

func active(slots Slots) []model.Event {
	events := make([]model.Event, 0, len(slots))
	for _, slot := range slots {
		if slot.Current.Active() {
			events = append(events, slot.Current)
		}
	}
	slices.SortFunc(events, func(a, b model.Event) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
	return events
}
