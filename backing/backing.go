// Package backing defines the Backing Store Adapter capability set and
// a transaction-scoped in-memory reference implementation. A Store is
// the lower-level object store a Transaction Context delegates
// persistence to; this package formats no bytes on disk itself.
package backing

import "github.com/johniel/relly-txcache/objid"

// Store is the capability set a Transaction Context depends on. One
// Store handle is scoped to exactly one transaction: ReserveID mints
// IDs immediately, Create/Destroy stage mutations that only become
// visible to other handles after a successful Commit.
type Store interface {
	// ReserveID mints a fresh, process-unique Object ID immediately.
	// The ID is not visible to any reader until Create stages it and
	// Commit applies that stage.
	ReserveID() objid.ID

	// Create stages the creation of id with value/payload bound to
	// name. Visible to other transactions only after Commit.
	Create(id objid.ID, value any, payload []byte, name string) error

	// Destroy stages the removal of id. Visible to other transactions
	// only after Commit.
	Destroy(id objid.ID) error

	// Peek returns the committed value for id, overlaid with this
	// handle's own staged (not yet committed) mutations.
	Peek(id objid.ID) (value any, payload []byte, ok bool, err error)

	// Lock returns the same view as Peek. The backing store itself
	// performs no locking: by the time a caller reaches this layer,
	// the Lock Manager has already granted the exclusive lock.
	Lock(id objid.ID) (value any, payload []byte, ok bool, err error)

	// Lookup resolves a Binding Name to an Object ID, or objid.Absent.
	Lookup(name string) (objid.ID, error)

	// LookupObject resolves a value to an Object ID by equality, or objid.Absent.
	LookupObject(value any) (objid.ID, error)

	// Commit atomically applies every staged Create/Destroy, or none of
	// them: partial commits must be impossible.
	Commit() error

	// Abort discards every staged mutation for this handle.
	Abort() error

	// CurrentAppID returns the well-known root Object ID anchoring this
	// store, analogous to a root/superblock object in other embedded
	// object stores.
	CurrentAppID() objid.ID
}
