// Package objid defines the Object ID identity used across the cache,
// lock, and transaction layers, and a monotonic allocator for minting
// fresh IDs.
package objid

import "sync/atomic"

// ID is an opaque 64-bit key identifying one persisted object.
// Absent (-1) means "no such object"; all valid IDs are >= 0.
type ID int64

// Absent is the sentinel value meaning "no object".
const Absent ID = -1

// Valid reports whether id refers to a real object.
func (id ID) Valid() bool {
	return id >= 0
}

// Allocator mints process-unique, monotonically increasing Object IDs.
// IDs are never reused within a process lifetime.
type Allocator struct {
	next atomic.Int64
}

// NewAllocator returns an Allocator whose first minted ID is start.
func NewAllocator(start ID) *Allocator {
	a := &Allocator{}
	a.next.Store(int64(start))
	return a
}

// Next mints and returns the next unused Object ID.
func (a *Allocator) Next() ID {
	return ID(a.next.Add(1) - 1)
}
