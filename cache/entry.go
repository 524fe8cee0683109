package cache

import "github.com/johniel/relly-txcache/objid"

// UpdateMode describes the pending intent a transaction has recorded
// against an entry. Entries resident in the Shared Cache always carry
// UpdateNone: pending intents live only in a transaction's private tier.
type UpdateMode int

const (
	UpdateNone UpdateMode = iota
	UpdateLock
	UpdateCreate
	UpdateDestroy
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateLock:
		return "LOCK"
	case UpdateCreate:
		return "CREATE"
	case UpdateDestroy:
		return "DESTROY"
	default:
		return "NONE"
	}
}

// Entry is an in-memory record for one object: its ID, the binding name
// it was fetched or created through (if any), its payload, and the
// pending intent of the transaction that owns it, if any. Entry values
// handed back by the Shared Cache are snapshots: mutating the returned
// value does not mutate cache state.
type Entry struct {
	ID      objid.ID
	Name    string // empty if unset
	HasName bool
	Payload []byte
	Value   any
	Mode    UpdateMode
}

func (e Entry) clone() Entry {
	out := e
	if e.Payload != nil {
		out.Payload = append([]byte(nil), e.Payload...)
	}
	return out
}
