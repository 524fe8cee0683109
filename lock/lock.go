// Package lock implements the Lock Manager: exclusive, per-Object-ID
// locks with FIFO wait queues and wait-for-graph deadlock detection,
// plus a configurable deadlock-victim policy and context-based acquire
// timeouts.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/johniel/relly-txcache/internal/logging"
	"github.com/johniel/relly-txcache/internal/metrics"
	"github.com/johniel/relly-txcache/objid"
	"github.com/rs/zerolog"
)

// ErrDeadlock is returned when acquiring a lock would close a cycle in
// the wait-for graph, or when the caller's context is done while waiting.
var ErrDeadlock = errors.New("deadlock detected")

// TxnID identifies the transaction on whose behalf a lock is held or awaited.
type TxnID uint64

// Policy selects how a deadlock cycle is resolved.
type Policy int

const (
	// RequesterVictim fails the transaction making the request that
	// closed the cycle. It is the default: the requester has done the
	// least work among the cycle's participants.
	RequesterVictim Policy = iota
	// DeterministicVictim fails the transaction with the numerically
	// largest TxnID among the cycle's participants (the "youngest"
	// transaction), which is deterministic across repeated runs.
	DeterministicVictim
)

func (p Policy) String() string {
	if p == DeterministicVictim {
		return "deterministic_victim"
	}
	return "requester_victim"
}

// waiter is one pending or granted request for a single Object ID lock.
type waiter struct {
	txn  TxnID
	id   objid.ID
	done chan struct{}
	err  error
}

// Manager mediates exclusive access to Object IDs across concurrent
// transactions.
type Manager struct {
	mu sync.Mutex

	holder  map[objid.ID]TxnID
	queue   map[objid.ID][]*waiter
	held    map[TxnID]map[objid.ID]bool // reverse index for ReleaseAll
	waitFor map[TxnID]map[TxnID]bool    // txn -> set of txns it waits for
	pending map[TxnID]*waiter           // txn's current blocking wait, if any

	policy Policy
	log    zerolog.Logger
}

// New constructs a Lock Manager using the given deadlock-resolution policy.
func New(policy Policy) *Manager {
	return &Manager{
		holder:  make(map[objid.ID]TxnID),
		queue:   make(map[objid.ID][]*waiter),
		held:    make(map[TxnID]map[objid.ID]bool),
		waitFor: make(map[TxnID]map[TxnID]bool),
		pending: make(map[TxnID]*waiter),
		policy:  policy,
		log:     logging.WithComponent("lockmgr"),
	}
}

// Acquire blocks txn until it holds the exclusive lock on id, the
// context is done, or a deadlock victimizes txn. Re-acquiring a lock
// already held by txn returns immediately (idempotent).
func (m *Manager) Acquire(ctx context.Context, txn TxnID, id objid.ID) error {
	start := time.Now()
	m.mu.Lock()

	if h, ok := m.holder[id]; ok && h == txn {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.holder[id]; !ok {
		m.grantLocked(txn, id)
		m.mu.Unlock()
		return nil
	}

	w := &waiter{txn: txn, id: id, done: make(chan struct{})}
	m.queue[id] = append(m.queue[id], w)
	m.pending[txn] = w
	m.rebuildWaitEdgesLocked(id)

	victim, cycle := m.detectDeadlockLocked(txn)
	if cycle {
		m.failWaiterLocked(victim)
		m.log.Warn().Uint64("victim", uint64(victim)).Str("policy", m.policy.String()).Msg("deadlock detected")
		metrics.DeadlocksTotal.WithLabelValues(m.policy.String()).Inc()
		if victim == txn {
			m.mu.Unlock()
			return ErrDeadlock
		}
	}
	m.mu.Unlock()

	select {
	case <-w.done:
		metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
		return w.err
	case <-ctx.Done():
		m.mu.Lock()
		if m.holder[id] == txn {
			// Granted concurrently with the context expiring; honor the grant.
			m.mu.Unlock()
			metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
			return nil
		}
		m.removeWaiterLocked(id, w)
		delete(m.pending, txn)
		m.mu.Unlock()
		metrics.DeadlocksTotal.WithLabelValues("timeout").Inc()
		return ErrDeadlock
	}
}

// grantLocked makes txn the holder of id. Caller must hold m.mu.
func (m *Manager) grantLocked(txn TxnID, id objid.ID) {
	m.holder[id] = txn
	if m.held[txn] == nil {
		m.held[txn] = make(map[objid.ID]bool)
	}
	m.held[txn][id] = true
}

// ReleaseAll releases every lock held by txn, waking each successor in
// FIFO order and updating the wait-for graph.
func (m *Manager) ReleaseAll(txn TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.held[txn] {
		delete(m.holder, id)
		m.grantPendingLocked(id)
		m.rebuildWaitEdgesLocked(id)
	}
	delete(m.held, txn)
	delete(m.waitFor, txn)
	for _, waiting := range m.waitFor {
		delete(waiting, txn)
	}
}

// grantPendingLocked pops the next waiter for id, if any, and makes it
// the holder. Caller must hold m.mu.
func (m *Manager) grantPendingLocked(id objid.ID) {
	q := m.queue[id]
	if len(q) == 0 {
		return
	}
	next := q[0]
	m.queue[id] = q[1:]
	m.grantLocked(next.txn, id)
	delete(m.pending, next.txn)
	next.err = nil
	close(next.done)
}

// removeWaiterLocked removes w from id's queue without granting it.
// Caller must hold m.mu.
func (m *Manager) removeWaiterLocked(id objid.ID, w *waiter) {
	q := m.queue[id]
	out := q[:0]
	for _, r := range q {
		if r != w {
			out = append(out, r)
		}
	}
	m.queue[id] = out
	delete(m.waitFor, w.txn)
	for _, waiting := range m.waitFor {
		delete(waiting, w.txn)
	}
}

// failWaiterLocked removes victim's current pending wait, if any, and
// wakes it with ErrDeadlock. Caller must hold m.mu.
func (m *Manager) failWaiterLocked(victim TxnID) {
	w, ok := m.pending[victim]
	if !ok {
		return
	}
	m.removeWaiterLocked(w.id, w)
	delete(m.pending, victim)
	w.err = ErrDeadlock
	close(w.done)
}

// rebuildWaitEdgesLocked recomputes the wait-for edges for every waiter
// on id: each waiter gets an edge to the current holder (if any).
// Caller must hold m.mu.
func (m *Manager) rebuildWaitEdgesLocked(id objid.ID) {
	holder, hasHolder := m.holder[id]
	for _, w := range m.queue[id] {
		if m.waitFor[w.txn] == nil {
			m.waitFor[w.txn] = make(map[TxnID]bool)
		}
		for k := range m.waitFor[w.txn] {
			delete(m.waitFor[w.txn], k)
		}
		if hasHolder {
			m.waitFor[w.txn][holder] = true
		}
	}
}

// detectDeadlockLocked runs a DFS from txn over the wait-for graph. If
// a cycle is found, it returns the victim selected by m.policy and true.
// Caller must hold m.mu.
func (m *Manager) detectDeadlockLocked(txn TxnID) (TxnID, bool) {
	visited := make(map[TxnID]bool)
	recStack := make(map[TxnID]bool)
	path := make([]TxnID, 0, 4)

	var dfs func(TxnID) []TxnID
	dfs = func(cur TxnID) []TxnID {
		visited[cur] = true
		recStack[cur] = true
		path = append(path, cur)

		for next := range m.waitFor[cur] {
			if !visited[next] {
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			} else if recStack[next] {
				// Found the cycle: the slice from next's first
				// occurrence in path to the end.
				for i, t := range path {
					if t == next {
						return append([]TxnID(nil), path[i:]...)
					}
				}
			}
		}

		recStack[cur] = false
		path = path[:len(path)-1]
		return nil
	}

	cycle := dfs(txn)
	if cycle == nil {
		return 0, false
	}
	return m.selectVictim(cycle, txn), true
}

// selectVictim applies m.policy to a detected cycle.
func (m *Manager) selectVictim(cycle []TxnID, requester TxnID) TxnID {
	if m.policy == RequesterVictim {
		return requester
	}
	victim := cycle[0]
	for _, t := range cycle[1:] {
		if t > victim {
			victim = t
		}
	}
	return victim
}
