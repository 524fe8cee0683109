package txn

import (
	"context"
	"testing"
	"time"

	"github.com/johniel/relly-txcache/backing"
	"github.com/johniel/relly-txcache/cache"
	"github.com/johniel/relly-txcache/lock"
	"github.com/johniel/relly-txcache/objid"
	"github.com/stretchr/testify/assert"
)

type harness struct {
	global *backing.Global
	shared *cache.Cache
	locks  *lock.Manager
}

func newHarness(capacity int) *harness {
	return &harness{
		global: backing.NewGlobal(),
		shared: cache.New(capacity, nil),
		locks:  lock.New(lock.RequesterVictim),
	}
}

func (h *harness) begin(id lock.TxnID) *Context {
	return New(id, h.shared, h.locks, h.global.NewHandle(uint64(id)), 0)
}

func TestCreateThenPeekIsReadYourWrites(t *testing.T) {
	h := newHarness(4)
	c := h.begin(1)

	id, err := c.Create("hello", []byte("hello"), "greeting")
	assert.NoError(t, err)

	v, _, ok, err := c.Peek(id)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestUncommittedCreateInvisibleToOtherTransaction(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	c2 := h.begin(2)

	id, err := c1.Create("hello", nil, "greeting")
	assert.NoError(t, err)

	_, _, ok, err := c2.Peek(id)
	assert.NoError(t, err)
	assert.False(t, ok)

	gotID, err := c2.Lookup("greeting")
	assert.NoError(t, err)
	assert.Equal(t, objid.Absent, gotID)
}

func TestCommitPromotesToSharedCacheAndBackingStore(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)

	id, err := c1.Create(7, nil, "seven")
	assert.NoError(t, err)
	assert.NoError(t, c1.Commit())

	// Visible via the Shared Cache now.
	entry, ok := h.shared.GetByID(id)
	assert.True(t, ok)
	assert.Equal(t, 7, entry.Value)

	c2 := h.begin(2)
	gotID, err := c2.Lookup("seven")
	assert.NoError(t, err)
	assert.Equal(t, id, gotID)
}

func TestAbortDiscardsPrivateWrites(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)

	id, err := c1.Create(1, nil, "one")
	assert.NoError(t, err)
	assert.NoError(t, c1.Abort())

	c2 := h.begin(2)
	gotID, err := c2.Lookup("one")
	assert.NoError(t, err)
	assert.Equal(t, objid.Absent, gotID)

	_, _, ok, err := c2.Peek(id)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAbortIsIdempotent(t *testing.T) {
	h := newHarness(4)
	c := h.begin(1)
	assert.NoError(t, c.Abort())
	assert.NoError(t, c.Abort())
	assert.Equal(t, StatusAborted, c.Status())
}

func TestAbortOnFreshTransactionIsNoOp(t *testing.T) {
	h := newHarness(4)
	c := h.begin(1)
	assert.NoError(t, c.Abort())
	assert.Equal(t, StatusAborted, c.Status())
}

func TestOperationsAfterTerminalStateReturnErrInvalidState(t *testing.T) {
	h := newHarness(4)
	c := h.begin(1)
	assert.NoError(t, c.Commit())

	_, err := c.Create(1, nil, "x")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, _, err = c.Peek(objid.ID(0))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLockIsIdempotentWithinOneTransaction(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	id, err := c1.Create(5, nil, "five")
	assert.NoError(t, err)
	assert.NoError(t, c1.Commit())

	c2 := h.begin(2)
	v1, _, err := c2.Lock(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, 5, v1)

	v2, _, err := c2.Lock(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, 5, v2)
}

func TestSecondTransactionBlocksUntilFirstCommits(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	id, err := c1.Create("shared", nil, "s")
	assert.NoError(t, err)
	assert.NoError(t, c1.Commit())

	c2 := h.begin(2)
	_, _, err = c2.Lock(context.Background(), id)
	assert.NoError(t, err)

	c3 := h.begin(3)
	unblocked := make(chan struct{})
	go func() {
		_, _, err := c3.Lock(context.Background(), id)
		assert.NoError(t, err)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("transaction 3 acquired the lock before transaction 2 committed")
	case <-time.After(50 * time.Millisecond):
	}

	assert.NoError(t, c2.Commit())

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("transaction 3 never acquired the lock after transaction 2 committed")
	}
}

func TestLockTimeoutSurfacesAsDeadlock(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	id, err := c1.Create("held", nil, "")
	assert.NoError(t, err)
	assert.NoError(t, c1.Commit())

	c2 := h.begin(2)
	_, _, err = c2.Lock(context.Background(), id)
	assert.NoError(t, err)

	c3 := h.begin(3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = c3.Lock(ctx, id)
	assert.ErrorIs(t, err, ErrDeadlock)
}

func TestDestroyRemovesFromSharedCacheAndBackingStoreOnCommit(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	id, err := c1.Create("gone", nil, "n")
	assert.NoError(t, err)
	assert.NoError(t, c1.Commit())

	c2 := h.begin(2)
	assert.NoError(t, c2.Destroy(id))
	assert.NoError(t, c2.Commit())

	_, ok := h.shared.GetByID(id)
	assert.False(t, ok)

	c3 := h.begin(3)
	_, _, ok, err := c3.Peek(id)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDestroyWithoutPriorReadRequiresNoLock(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	id, err := c1.Create("x", nil, "x")
	assert.NoError(t, err)
	assert.NoError(t, c1.Commit())

	// c2 never calls Peek or Lock on id before destroying it.
	c2 := h.begin(2)
	assert.NoError(t, c2.Destroy(id))
	assert.NoError(t, c2.Commit())

	_, ok := h.shared.GetByID(id)
	assert.False(t, ok)
}

func TestLookupObjectFindsPrivateThenSharedThenBacking(t *testing.T) {
	h := newHarness(4)
	c1 := h.begin(1)
	id, err := c1.Create(99, nil, "")
	assert.NoError(t, err)

	gotID, err := c1.LookupObject(99)
	assert.NoError(t, err)
	assert.Equal(t, id, gotID)

	assert.NoError(t, c1.Commit())

	c2 := h.begin(2)
	gotID, err = c2.LookupObject(99)
	assert.NoError(t, err)
	assert.Equal(t, id, gotID)

	// Once evicted from the Shared Cache, the backing store answers.
	h.shared.Evict(id)
	c3 := h.begin(3)
	gotID, err = c3.LookupObject(99)
	assert.NoError(t, err)
	assert.Equal(t, id, gotID)
}
