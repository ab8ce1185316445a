package eventlog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/honganh1206/mcprun/registry"
)

// Ring is a fixed-capacity, most-recent-N buffer of events kept
// in-memory via buntdb (opened with ":memory:"), used by
// cmd/mcprunctl watch --replay, which creates one per run, pushes every
// event it receives into it, and paints its contents when the view opens.
// The ring is not persisted, so a new run starts with it empty.
type Ring struct {
	db       *buntdb.DB
	capacity int

	mu    sync.Mutex
	order []string // event ids in insertion order, oldest first
}

// NewRing opens an in-memory ring buffer holding at most capacity
// events.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		capacity = 1
	}
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory event ring: %w", err)
	}
	if err := db.CreateIndex("occurred_at", "*", buntdb.IndexJSON("Timestamp")); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event ring index: %w", err)
	}
	return &Ring{db: db, capacity: capacity}, nil
}

// Push records evt, evicting the oldest entry once capacity is
// exceeded.
func (r *Ring) Push(evt registry.ConnectionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal ring event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(evt.EventID, string(payload), nil)
		return err
	}); err != nil {
		return fmt.Errorf("store ring event: %w", err)
	}
	r.order = append(r.order, evt.EventID)

	if len(r.order) > r.capacity {
		evict := r.order[0]
		r.order = r.order[1:]
		_ = r.db.Update(func(tx *buntdb.Tx) error {
			_, err := tx.Delete(evict)
			return err
		})
	}
	return nil
}

// Recent returns every currently-held event, oldest first.
func (r *Ring) Recent() ([]registry.ConnectionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]registry.ConnectionEvent, 0, len(r.order))
	err := r.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("occurred_at", func(key, value string) bool {
			var evt registry.ConnectionEvent
			if err := json.Unmarshal([]byte(value), &evt); err == nil {
				out = append(out, evt)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan event ring: %w", err)
	}
	return out, nil
}

// Close releases the underlying in-memory database.
func (r *Ring) Close() error {
	return r.db.Close()
}
