// Package txn implements the Transaction Context: the per-transaction
// view mediating every read and write an application issues. Durability
// is delegated entirely to the backing store; this package holds only
// the private cache, the pending-update set, and the Shared Cache
// promotion logic that runs at commit.
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/johniel/relly-txcache/backing"
	"github.com/johniel/relly-txcache/cache"
	"github.com/johniel/relly-txcache/internal/logging"
	"github.com/johniel/relly-txcache/internal/metrics"
	"github.com/johniel/relly-txcache/lock"
	"github.com/johniel/relly-txcache/objid"
	"github.com/rs/zerolog"
)

// Context is one in-flight transaction. It is thread-confined: the
// same Context must not be used from more than one goroutine
// concurrently. This is enforced by documentation, not a runtime check.
type Context struct {
	id      lock.TxnID
	traceID uuid.UUID
	status  Status

	shared  *cache.Cache
	locks   *lock.Manager
	backend backing.Store

	private      map[objid.ID]*cache.Entry
	pendingOrder []objid.ID
	pendingSet   map[objid.ID]*cache.Entry
	pinned       map[objid.ID]bool
	heldLocks    map[objid.ID]bool

	lockTimeout time.Duration
	log         zerolog.Logger
}

// New constructs a Transaction Context bound to the given Shared
// Cache, Lock Manager and transaction-scoped backing-store handle.
// Application code derives a Context through store.Store.Begin rather
// than calling New directly.
func New(id lock.TxnID, shared *cache.Cache, locks *lock.Manager, backend backing.Store, lockTimeout time.Duration) *Context {
	base := logging.WithComponent("txn")
	return &Context{
		id:           id,
		traceID:      uuid.New(),
		status:       StatusActive,
		shared:       shared,
		locks:        locks,
		backend:      backend,
		private:      make(map[objid.ID]*cache.Entry),
		pendingOrder: make([]objid.ID, 0, 4),
		pendingSet:   make(map[objid.ID]*cache.Entry),
		pinned:       make(map[objid.ID]bool),
		heldLocks:    make(map[objid.ID]bool),
		lockTimeout:  lockTimeout,
		log:          logging.WithTxn(base, uint64(id)),
	}
}

// ID returns the transaction's identity.
func (c *Context) ID() lock.TxnID { return c.id }

// Status returns the transaction's current lifecycle state.
func (c *Context) Status() Status { return c.status }

func (c *Context) addPending(entry *cache.Entry) {
	if _, exists := c.pendingSet[entry.ID]; !exists {
		c.pendingOrder = append(c.pendingOrder, entry.ID)
	}
	c.pendingSet[entry.ID] = entry
}

func (c *Context) pin(id objid.ID) {
	if !c.pinned[id] {
		c.shared.Pin(id)
		c.pinned[id] = true
	}
}

func (c *Context) unpinAll() {
	for id := range c.pinned {
		c.shared.Unpin(id)
	}
	c.pinned = make(map[objid.ID]bool)
}

// Create allocates a new Object ID bound to name with the given value
// and serialized payload. No lock is taken: no other transaction can
// observe an ID before this transaction commits.
func (c *Context) Create(value any, payload []byte, name string) (objid.ID, error) {
	if c.status != StatusActive {
		return objid.Absent, ErrInvalidState
	}
	id := c.backend.ReserveID()
	entry := &cache.Entry{ID: id, Name: name, HasName: true, Value: value, Payload: payload, Mode: cache.UpdateCreate}
	c.private[id] = entry
	c.addPending(entry)
	c.log.Debug().Int64("id", int64(id)).Str("name", name).Msg("create")
	return id, nil
}

// Destroy marks id for removal at commit. Permitted even if id was
// never read in this transaction; no lock is required.
func (c *Context) Destroy(id objid.ID) error {
	if c.status != StatusActive {
		return ErrInvalidState
	}
	entry := &cache.Entry{ID: id, Mode: cache.UpdateDestroy}
	c.private[id] = entry
	c.addPending(entry)
	c.log.Debug().Int64("id", int64(id)).Msg("destroy")
	return nil
}

// Peek returns the value for id without taking a lock: private cache,
// then Shared Cache, then the backing store, in that order.
func (c *Context) Peek(id objid.ID) (any, []byte, bool, error) {
	if c.status != StatusActive {
		return nil, nil, false, ErrInvalidState
	}
	return c.readCascade(id, cache.UpdateNone)
}

// readCascade implements the read algorithm shared by Peek and Lock:
// private cache -> Shared Cache -> backing store, populating the
// private cache with mode on a miss or promotion.
func (c *Context) readCascade(id objid.ID, mode cache.UpdateMode) (any, []byte, bool, error) {
	if e, ok := c.private[id]; ok {
		if e.Mode == cache.UpdateDestroy {
			return nil, nil, false, nil
		}
		return e.Value, e.Payload, true, nil
	}

	if e, ok := c.shared.GetByID(id); ok {
		c.pin(id)
		local := e
		local.Mode = mode
		c.private[id] = &local
		return e.Value, e.Payload, true, nil
	}

	value, payload, ok, err := c.backend.Peek(id)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: %v", ErrBackingFailure, err)
	}
	if !ok {
		return nil, nil, false, nil
	}
	c.private[id] = &cache.Entry{ID: id, Value: value, Payload: payload, Mode: mode}
	return value, payload, true, nil
}

// Lock acquires the exclusive lock on id via the Lock Manager, then
// reads it by the same cascade as Peek. Calling Lock twice on the same
// ID within one transaction is idempotent: the second call returns
// immediately with the already-cached value.
func (c *Context) Lock(ctx context.Context, id objid.ID) (any, []byte, error) {
	if c.status != StatusActive {
		return nil, nil, ErrInvalidState
	}
	if e, ok := c.private[id]; ok && (e.Mode == cache.UpdateLock || e.Mode == cache.UpdateCreate) {
		return e.Value, e.Payload, nil
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if c.lockTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}

	if err := c.locks.Acquire(acquireCtx, c.id, id); err != nil {
		c.log.Warn().Int64("id", int64(id)).Err(err).Msg("lock failed")
		return nil, nil, ErrDeadlock
	}
	c.heldLocks[id] = true

	value, payload, ok, err := c.readCascade(id, cache.UpdateLock)
	if err != nil {
		return nil, nil, err
	}
	entry := &cache.Entry{ID: id, Value: value, Payload: payload, Mode: cache.UpdateLock}
	if existing, existed := c.private[id]; existed && existing.HasName {
		entry.Name, entry.HasName = existing.Name, true
	}
	if ok {
		entry.Payload = payload
	}
	c.private[id] = entry
	c.addPending(entry)
	return value, payload, nil
}

// Lookup resolves a Binding Name to an Object ID, or objid.Absent.
func (c *Context) Lookup(name string) (objid.ID, error) {
	if c.status != StatusActive {
		return objid.Absent, ErrInvalidState
	}
	for _, e := range c.private {
		if e.HasName && e.Name == name && e.Mode != cache.UpdateDestroy {
			return e.ID, nil
		}
	}
	if id := c.shared.GetIDByName(name); id.Valid() {
		if e, ok := c.shared.GetByID(id); ok {
			c.pin(id)
			local := e
			local.Mode = cache.UpdateNone
			c.private[id] = &local
		}
		return id, nil
	}
	id, err := c.backend.Lookup(name)
	if err != nil {
		return objid.Absent, fmt.Errorf("%w: %v", ErrBackingFailure, err)
	}
	return id, nil
}

// LookupObject resolves a value to an Object ID by equality, or objid.Absent.
func (c *Context) LookupObject(value any) (objid.ID, error) {
	if c.status != StatusActive {
		return objid.Absent, ErrInvalidState
	}
	key, hasKey := cache.DefaultValueKeyFunc(value)
	if hasKey {
		for _, e := range c.private {
			if e.Mode == cache.UpdateDestroy {
				continue
			}
			if k, ok := cache.DefaultValueKeyFunc(e.Value); ok && k == key {
				return e.ID, nil
			}
		}
	}
	if id := c.shared.GetIDByValue(value); id.Valid() {
		return id, nil
	}
	id, err := c.backend.LookupObject(value)
	if err != nil {
		return objid.Absent, fmt.Errorf("%w: %v", ErrBackingFailure, err)
	}
	return id, nil
}

// Commit replays the pending-update set against the backing store in
// insertion order, promotes committed entries into the Shared Cache,
// and releases every lock held by this transaction.
func (c *Context) Commit() error {
	if c.status != StatusActive {
		return ErrInvalidState
	}
	c.status = StatusCommitting

	for _, id := range c.pendingOrder {
		e := c.pendingSet[id]
		var err error
		switch e.Mode {
		case cache.UpdateCreate:
			err = c.backend.Create(e.ID, e.Value, e.Payload, e.Name)
		case cache.UpdateDestroy:
			err = c.backend.Destroy(e.ID)
		case cache.UpdateLock:
			// No backing call: the mutation is implicit via the
			// shared-memory update promoted below.
		}
		if err != nil {
			return c.failCommit(err)
		}
	}

	if err := c.backend.Commit(); err != nil {
		return c.failCommit(err)
	}

	for _, id := range c.pendingOrder {
		e := c.pendingSet[id]
		switch e.Mode {
		case cache.UpdateDestroy:
			c.shared.Evict(id)
		case cache.UpdateCreate, cache.UpdateLock:
			c.shared.Put(id, e.Name, e.HasName, e.Value, e.Payload)
		}
	}

	c.locks.ReleaseAll(c.id)
	c.unpinAll()
	c.status = StatusCommitted
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	c.log.Debug().Int("pending", len(c.pendingOrder)).Msg("commit")
	return nil
}

func (c *Context) failCommit(cause error) error {
	c.status = StatusAborted
	c.locks.ReleaseAll(c.id)
	c.unpinAll()
	metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
	c.log.Error().Err(cause).Msg("commit failed, transaction aborted")
	return fmt.Errorf("%w: %v", ErrBackingFailure, cause)
}

// Abort releases every lock held by this transaction and discards its
// private cache and pending-update set. Abort is idempotent and safe
// to call from any non-terminal state; calling it on an already
// terminal transaction is a no-op.
func (c *Context) Abort() error {
	if c.status.terminal() {
		return nil
	}
	c.status = StatusAborting
	c.locks.ReleaseAll(c.id)
	c.unpinAll()
	c.private = make(map[objid.ID]*cache.Entry)
	c.pendingOrder = nil
	c.pendingSet = make(map[objid.ID]*cache.Entry)
	_ = c.backend.Abort()
	c.status = StatusAborted
	metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
	c.log.Debug().Msg("abort")
	return nil
}
