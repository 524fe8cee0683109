package backing

import (
	"fmt"
	"sync"

	"github.com/johniel/relly-txcache/internal/logging"
	"github.com/johniel/relly-txcache/objid"
	"github.com/rs/zerolog"
)

// record is one committed object in the Global store.
type record struct {
	value   any
	payload []byte
	name    string
	hasName bool
}

// Global is the process-wide backing object store. It is the
// lowest-level collaborator in this system: durability beyond process
// lifetime is intentionally not attempted here, only the functional
// contract is implemented.
type Global struct {
	mu      sync.RWMutex
	alloc   *objid.Allocator
	objects map[objid.ID]record
	names   map[string]objid.ID
	rootID  objid.ID
	log     zerolog.Logger
}

// NewGlobal constructs an empty backing store and its well-known root object.
func NewGlobal() *Global {
	g := &Global{
		alloc:   objid.NewAllocator(0),
		objects: make(map[objid.ID]record),
		names:   make(map[string]objid.ID),
		log:     logging.WithComponent("backing"),
	}
	g.rootID = g.alloc.Next()
	g.objects[g.rootID] = record{value: "root", hasName: false}
	return g
}

type mutation struct {
	destroy bool
	id      objid.ID
	rec     record
}

// Handle is a transaction-scoped view over a Global store.
type Handle struct {
	global *Global
	txnID  uint64

	mu      sync.Mutex
	staged  map[objid.ID]*mutation
	aborted bool
}

// NewHandle returns a Store handle scoped to one transaction.
func (g *Global) NewHandle(txnID uint64) *Handle {
	return &Handle{
		global: g,
		txnID:  txnID,
		staged: make(map[objid.ID]*mutation),
	}
}

func (h *Handle) ReserveID() objid.ID {
	return h.global.alloc.Next()
}

func (h *Handle) Create(id objid.ID, value any, payload []byte, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged[id] = &mutation{
		id:  id,
		rec: record{value: value, payload: payload, name: name, hasName: name != ""},
	}
	return nil
}

func (h *Handle) Destroy(id objid.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged[id] = &mutation{destroy: true, id: id}
	return nil
}

func (h *Handle) Peek(id objid.ID) (any, []byte, bool, error) {
	h.mu.Lock()
	if m, ok := h.staged[id]; ok {
		h.mu.Unlock()
		if m.destroy {
			return nil, nil, false, nil
		}
		return m.rec.value, m.rec.payload, true, nil
	}
	h.mu.Unlock()

	h.global.mu.RLock()
	defer h.global.mu.RUnlock()
	rec, ok := h.global.objects[id]
	if !ok {
		return nil, nil, false, nil
	}
	return rec.value, rec.payload, true, nil
}

func (h *Handle) Lock(id objid.ID) (any, []byte, bool, error) {
	return h.Peek(id)
}

func (h *Handle) Lookup(name string) (objid.ID, error) {
	h.mu.Lock()
	for _, m := range h.staged {
		if !m.destroy && m.rec.hasName && m.rec.name == name {
			h.mu.Unlock()
			return m.id, nil
		}
	}
	h.mu.Unlock()

	h.global.mu.RLock()
	defer h.global.mu.RUnlock()
	id, ok := h.global.names[name]
	if !ok {
		return objid.Absent, nil
	}
	return id, nil
}

func (h *Handle) LookupObject(value any) (objid.ID, error) {
	key := fmt.Sprintf("%#v", value)

	h.mu.Lock()
	for _, m := range h.staged {
		if !m.destroy && fmt.Sprintf("%#v", m.rec.value) == key {
			h.mu.Unlock()
			return m.id, nil
		}
	}
	h.mu.Unlock()

	h.global.mu.RLock()
	defer h.global.mu.RUnlock()
	for id, rec := range h.global.objects {
		if fmt.Sprintf("%#v", rec.value) == key {
			return id, nil
		}
	}
	return objid.Absent, nil
}

// Commit applies every staged mutation atomically: either all of them
// become visible, or (on a name conflict) none do.
func (h *Handle) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aborted {
		return fmt.Errorf("%w: handle already aborted", ErrBackingFailure)
	}

	h.global.mu.Lock()
	defer h.global.mu.Unlock()

	for _, m := range h.staged {
		if m.destroy || !m.rec.hasName {
			continue
		}
		if existing, ok := h.global.names[m.rec.name]; ok && existing != m.id {
			h.global.log.Warn().Str("name", m.rec.name).Msg("commit rejected: name already bound")
			return fmt.Errorf("%w: %q", ErrNameExists, m.rec.name)
		}
	}

	for _, m := range h.staged {
		if m.destroy {
			if rec, ok := h.global.objects[m.id]; ok {
				if rec.hasName {
					delete(h.global.names, rec.name)
				}
				delete(h.global.objects, m.id)
			}
			continue
		}
		h.global.objects[m.id] = m.rec
		if m.rec.hasName {
			h.global.names[m.rec.name] = m.id
		}
	}

	h.staged = make(map[objid.ID]*mutation)
	return nil
}

// Abort discards every staged mutation.
func (h *Handle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged = make(map[objid.ID]*mutation)
	h.aborted = true
	return nil
}

func (h *Handle) CurrentAppID() objid.ID {
	return h.global.rootID
}
