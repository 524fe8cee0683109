package txn

import (
	"errors"

	"github.com/johniel/relly-txcache/backing"
	"github.com/johniel/relly-txcache/lock"
)

// ErrDeadlock is returned by Lock when acquiring would close a cycle in
// the wait-for graph, or the caller's deadline expires while waiting.
var ErrDeadlock = lock.ErrDeadlock

// ErrInvalidState is returned when an operation is attempted against a
// transaction that is not ACTIVE.
var ErrInvalidState = errors.New("transaction: invalid state for operation")

// ErrBackingFailure wraps any error surfaced by the Backing Store
// Adapter during commit or read.
var ErrBackingFailure = backing.ErrBackingFailure
