// Package store implements the store-wide factory: given a backing
// store and a cache capacity, it constructs the process-wide Shared
// Cache and Lock Manager once, and hands out a Transaction Context per
// logical transaction.
package store

import (
	"time"

	"github.com/johniel/relly-txcache/backing"
	"github.com/johniel/relly-txcache/cache"
	"github.com/johniel/relly-txcache/internal/config"
	"github.com/johniel/relly-txcache/internal/logging"
	"github.com/johniel/relly-txcache/lock"
	"github.com/johniel/relly-txcache/objid"
	"github.com/johniel/relly-txcache/txn"
	"github.com/rs/zerolog"
)

// BackingFactory mints one transaction-scoped backing.Store handle per
// Transaction Context.
type BackingFactory func(txnID uint64) backing.Store

// Store is the process-wide façade: the Shared Cache and Lock Manager
// are instantiated once here and shared by every derived Transaction
// Context.
type Store struct {
	shared      *cache.Cache
	locks       *lock.Manager
	newBack     BackingFactory
	nextTxn     *objid.Allocator
	lockTimeout time.Duration
	log         zerolog.Logger
}

// New constructs a Store from a fully-resolved Config and a backing
// store factory. There is deliberately no Close: the Shared Cache and
// Lock Manager hold no external resources. Each call to New builds its
// own Store; there are no implicit singletons.
func New(cfg config.Config, newBack BackingFactory) *Store {
	policy := lock.RequesterVictim
	if cfg.Lock.DeadlockPolicy == config.DeterministicVictim {
		policy = lock.DeterministicVictim
	}
	return &Store{
		shared:      cache.New(cfg.Cache.Capacity, nil),
		locks:       lock.New(policy),
		newBack:     newBack,
		nextTxn:     objid.NewAllocator(0),
		lockTimeout: cfg.Lock.AcquireTimeout,
		log:         logging.WithComponent("store"),
	}
}

// Begin derives a new Transaction Context. Each Context gets its own
// backing-store handle, its own TxnID, and shares the Store's Shared
// Cache and Lock Manager.
func (s *Store) Begin() *txn.Context {
	id := lock.TxnID(s.nextTxn.Next())
	handle := s.newBack(uint64(id))
	s.log.Debug().Uint64("txn_id", uint64(id)).Msg("begin")
	return txn.New(id, s.shared, s.locks, handle, s.lockTimeout)
}

// Cache exposes the process-wide Shared Cache, e.g. for metrics or
// administrative inspection; application code should prefer deriving a
// Transaction Context via Begin.
func (s *Store) Cache() *cache.Cache { return s.shared }
