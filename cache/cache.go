// Package cache implements the process-wide Shared Cache: a bounded,
// thread-safe map from Object ID to Entry, indexed secondarily by
// Binding Name and by a caller-supplied value key, with approximate-LRU
// (clock / second-chance) eviction generalized from fixed-size disk
// pages to arbitrary cached objects.
package cache

import (
	"fmt"
	"sync"

	"github.com/johniel/relly-txcache/internal/logging"
	"github.com/johniel/relly-txcache/internal/metrics"
	"github.com/johniel/relly-txcache/objid"
	"github.com/rs/zerolog"
)

// ValueKeyFunc derives a stable equality key for a deserialized value,
// used to answer get_id_by_value / lookup_object. The Shared Cache
// treats values as logically immutable once cached: callers must not
// mutate a value after it has been handed to Put.
type ValueKeyFunc func(value any) (key string, ok bool)

// DefaultValueKeyFunc falls back to the formatted representation of the
// value. Callers with structured payload types should supply their own
// ValueKeyFunc for a cheaper and more precise equality key.
func DefaultValueKeyFunc(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	if s, ok := value.(interface{ String() string }); ok {
		return s.String(), true
	}
	return fmt.Sprintf("%#v", value), true
}

// slot is one fixed position in the cache's frame table: an occupancy
// flag, a second-chance usage counter, and a pin count that prevents
// eviction of an entry currently referenced by an in-flight transaction.
type slot struct {
	mu       sync.Mutex
	occupied bool
	id       objid.ID
	usage    int
	pins     int
	entry    Entry
}

// Cache is the process-wide Shared Cache. Every operation is atomic
// with respect to the id/name/value indices:
// a Put is observed either fully or not at all by any concurrent reader.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	slots      []*slot
	byID       map[objid.ID]int // Object ID -> slot index
	byName     map[string]objid.ID
	byValueKey map[string]objid.ID
	clockHand  int
	keyFunc    ValueKeyFunc
	log        zerolog.Logger
}

// New constructs a Shared Cache with the given capacity. Capacity zero
// disables the cache (Put never retains anything, Get* always misses)
// while preserving the functional contract: callers transparently fall
// through to the next tier.
func New(capacity int, keyFunc ValueKeyFunc) *Cache {
	if keyFunc == nil {
		keyFunc = DefaultValueKeyFunc
	}
	if capacity < 0 {
		capacity = 0
	}
	slots := make([]*slot, capacity)
	for i := range slots {
		slots[i] = &slot{}
	}
	return &Cache{
		capacity:   capacity,
		slots:      slots,
		byID:       make(map[objid.ID]int, capacity),
		byName:     make(map[string]objid.ID),
		byValueKey: make(map[string]objid.ID),
		keyFunc:    keyFunc,
		log:        logging.WithComponent("cache"),
	}
}

// GetByID returns a snapshot of the entry for id, if resident.
func (c *Cache) GetByID(id objid.ID) (Entry, bool) {
	c.mu.Lock()
	idx, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		metrics.CacheMissesTotal.WithLabelValues("id").Inc()
		return Entry{}, false
	}
	s := c.slots[idx]
	c.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied || s.id != id {
		metrics.CacheMissesTotal.WithLabelValues("id").Inc()
		return Entry{}, false
	}
	s.usage++
	metrics.CacheHitsTotal.WithLabelValues("id").Inc()
	return s.entry.clone(), true
}

// GetIDByName returns the Object ID bound to name, or objid.Absent.
func (c *Cache) GetIDByName(name string) objid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byName[name]
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues("name").Inc()
		return objid.Absent
	}
	metrics.CacheHitsTotal.WithLabelValues("name").Inc()
	return id
}

// GetIDByValue returns the Object ID whose cached value equals value
// under the cache's ValueKeyFunc, or objid.Absent.
func (c *Cache) GetIDByValue(value any) objid.ID {
	key, ok := c.keyFunc(value)
	if !ok {
		return objid.Absent
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byValueKey[key]
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues("value").Inc()
		return objid.Absent
	}
	metrics.CacheHitsTotal.WithLabelValues("value").Inc()
	return id
}

// Put inserts or updates the entry for id. Mode is always coerced to
// UpdateNone: pending intents never live in the Shared Cache. Put
// returns the resulting Entry snapshot.
func (c *Cache) Put(id objid.ID, name string, hasName bool, value any, payload []byte) Entry {
	entry := Entry{
		ID:      id,
		Name:    name,
		HasName: hasName,
		Value:   value,
		Payload: payload,
		Mode:    UpdateNone,
	}
	if c.capacity == 0 {
		return entry.clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.byID[id]; ok {
		c.writeSlotLocked(idx, entry)
		return entry.clone()
	}

	idx, ok := c.freeSlotLocked()
	if !ok {
		idx = c.evictLocked()
	}
	c.writeSlotLocked(idx, entry)
	metrics.CacheResidentEntries.Set(float64(len(c.byID)))
	return entry.clone()
}

// writeSlotLocked installs entry into slot idx and refreshes every
// index. Caller must hold c.mu.
func (c *Cache) writeSlotLocked(idx int, entry Entry) {
	s := c.slots[idx]
	s.mu.Lock()
	if s.occupied {
		c.unindexNameValueLocked(s.entry)
	}
	s.occupied = true
	s.id = entry.ID
	s.entry = entry
	s.usage = 1
	s.mu.Unlock()

	c.byID[entry.ID] = idx
	if entry.HasName {
		c.byName[entry.Name] = entry.ID
	}
	if key, ok := c.keyFunc(entry.Value); ok {
		c.byValueKey[key] = entry.ID
	}
}

// unindexNameValueLocked removes the name/value index entries pointing
// at old, but leaves the id index alone (the id may be about to be
// rewritten in place). Caller must hold c.mu.
func (c *Cache) unindexNameValueLocked(old Entry) {
	if old.HasName {
		if id, ok := c.byName[old.Name]; ok && id == old.ID {
			delete(c.byName, old.Name)
		}
	}
	if key, ok := c.keyFunc(old.Value); ok {
		if id, ok := c.byValueKey[key]; ok && id == old.ID {
			delete(c.byValueKey, key)
		}
	}
}

// evictEntryLocked fully removes an entry leaving the cache (distinct
// from unindexNameValueLocked, used when the slot is being repurposed
// for a different id rather than vacated). Caller must hold c.mu.
func (c *Cache) evictEntryLocked(old Entry) {
	c.unindexNameValueLocked(old)
	delete(c.byID, old.ID)
}

// freeSlotLocked returns an unoccupied slot index, if any. Caller must hold c.mu.
func (c *Cache) freeSlotLocked() (int, bool) {
	for i, s := range c.slots {
		s.mu.Lock()
		occ := s.occupied
		s.mu.Unlock()
		if !occ {
			return i, true
		}
	}
	return 0, false
}

// evictLocked selects an approximate-LRU victim slot using a clock
// (second-chance) sweep: pinned entries are never chosen, and an entry
// with nonzero usage is given a second chance (its usage is decremented)
// before being considered again on the next sweep. Caller must hold c.mu.
//
// If every slot is pinned, one extra slot is appended rather than the
// Put refused: the Shared Cache's contract is "never fails observably".
// The slot table is not shrunk back afterwards.
func (c *Cache) evictLocked() int {
	n := len(c.slots)
	consecutivePinned := 0

	for {
		idx := c.clockHand
		c.clockHand = (c.clockHand + 1) % n
		s := c.slots[idx]

		s.mu.Lock()
		if s.pins > 0 {
			s.mu.Unlock()
			consecutivePinned++
			if consecutivePinned >= n {
				return c.growLocked()
			}
			continue
		}
		if s.usage > 0 {
			s.usage--
			s.mu.Unlock()
			consecutivePinned = 0
			continue
		}

		old := s.entry
		s.occupied = false
		s.mu.Unlock()

		c.evictEntryLocked(old)
		metrics.CacheEvictionsTotal.Inc()
		c.log.Debug().Int64("evicted_id", int64(old.ID)).Msg("shared cache eviction")
		return idx
	}
}

// growLocked appends one extra slot when every resident entry is
// pinned, so Put never blocks or fails. Caller must hold c.mu.
func (c *Cache) growLocked() int {
	c.slots = append(c.slots, &slot{})
	c.log.Warn().Int("capacity", c.capacity).Msg("shared cache over capacity: all entries pinned")
	return len(c.slots) - 1
}

// Pin marks id as referenced by an in-flight transaction, preventing
// its eviction until a matching Unpin.
func (c *Cache) Pin(id objid.ID) {
	c.mu.Lock()
	idx, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	s := c.slots[idx]
	s.mu.Lock()
	if s.occupied && s.id == id {
		s.pins++
	}
	s.mu.Unlock()
}

// Unpin releases a reference taken by Pin.
func (c *Cache) Unpin(id objid.ID) {
	c.mu.Lock()
	idx, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	s := c.slots[idx]
	s.mu.Lock()
	if s.occupied && s.id == id && s.pins > 0 {
		s.pins--
	}
	s.mu.Unlock()
}

// Evict removes id from the Shared Cache, if resident.
func (c *Cache) Evict(id objid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byID[id]
	if !ok {
		return
	}
	s := c.slots[idx]
	s.mu.Lock()
	old := s.entry
	s.occupied = false
	s.usage = 0
	s.mu.Unlock()

	c.evictEntryLocked(old)
	metrics.CacheResidentEntries.Set(float64(len(c.byID)))
}

// Len returns the number of entries currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
