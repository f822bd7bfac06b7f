// Package cache holds the daemon's warm mirror of upstream market data.
//
// The cache has exactly three fixed slots, one per logical feed. Writers
// replace a slot's payload atomically; readers always observe a complete
// prior snapshot together with its update time. There is no eviction and
// no capacity bound.
package cache

import (
	"sync"
	"time"
)

// Slot names one logical feed.
type Slot string

const (
	SlotMids      Slot = "mids"
	SlotAssetCtxs Slot = "assetCtxs"
	SlotPerpMetas Slot = "perpMetas"
)

type entry struct {
	value     any
	updatedAt time.Time
}

// Cache is safe for concurrent use. The subscription manager is the only
// writer; IPC handlers are the readers.
type Cache struct {
	mu    sync.RWMutex
	slots map[Slot]entry
}

func New() *Cache {
	return &Cache{slots: make(map[Slot]entry, 3)}
}

// Put replaces the slot's payload and stamps it with the current time.
func (c *Cache) Put(slot Slot, value any) {
	c.mu.Lock()
	c.slots[slot] = entry{value: value, updatedAt: time.Now()}
	c.mu.Unlock()
}

// Get returns the slot's payload and update time, or ok=false if the slot
// has never been populated.
func (c *Cache) Get(slot Slot) (any, time.Time, bool) {
	c.mu.RLock()
	e, ok := c.slots[slot]
	c.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false
	}
	return e.value, e.updatedAt, true
}

// SlotStatus describes one slot for status reporting. AgeMS is nil when the
// slot has never been populated.
type SlotStatus struct {
	Present bool   `json:"present"`
	AgeMS   *int64 `json:"age_ms,omitempty"`
}

// Status reports presence and age for every slot.
func (c *Cache) Status() map[Slot]SlotStatus {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[Slot]SlotStatus, 3)
	for _, slot := range []Slot{SlotMids, SlotAssetCtxs, SlotPerpMetas} {
		if e, ok := c.slots[slot]; ok {
			age := now.Sub(e.updatedAt).Milliseconds()
			out[slot] = SlotStatus{Present: true, AgeMS: &age}
		} else {
			out[slot] = SlotStatus{Present: false}
		}
	}
	return out
}
