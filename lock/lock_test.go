package lock

import (
	"context"
	"testing"
	"time"

	"github.com/johniel/relly-txcache/objid"
)

func TestAcquireReleaseBasic(t *testing.T) {
	m := New(RequesterVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 1, objid.ID(7)); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.ReleaseAll(1)
}

func TestAcquireIsIdempotentForSameTxn(t *testing.T) {
	m := New(RequesterVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 1, objid.ID(7)); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Acquire(ctx, 1, objid.ID(7)); err != nil {
		t.Fatalf("re-acquire should be idempotent, got: %v", err)
	}
	m.ReleaseAll(1)
}

func TestExclusiveAtMostOneHolder(t *testing.T) {
	m := New(RequesterVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 1, objid.ID(1)); err != nil {
		t.Fatalf("Acquire txn1: %v", err)
	}

	granted := make(chan bool, 1)
	go func() {
		err := m.Acquire(ctx, 2, objid.ID(1))
		granted <- err == nil
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-granted:
		t.Fatal("txn2 should not acquire while txn1 holds the lock")
	default:
	}

	m.ReleaseAll(1)

	select {
	case ok := <-granted:
		if !ok {
			t.Fatal("txn2 should acquire after txn1 releases")
		}
	case <-time.After(time.Second):
		t.Fatal("txn2 never acquired the lock")
	}
	m.ReleaseAll(2)
}

// TestDeadlockResolution exercises a classic two-transaction cycle:
// T1.lock(1) succeeds; T2.lock(2) succeeds; T2.lock(1) blocks;
// T1.lock(2) fails immediately with DEADLOCK.
func TestDeadlockResolution(t *testing.T) {
	m := New(RequesterVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 1, objid.ID(1)); err != nil {
		t.Fatalf("T1.lock(1): %v", err)
	}
	if err := m.Acquire(ctx, 2, objid.ID(2)); err != nil {
		t.Fatalf("T2.lock(2): %v", err)
	}

	t2Blocked := make(chan error, 1)
	go func() {
		t2Blocked <- m.Acquire(ctx, 2, objid.ID(1))
	}()
	time.Sleep(50 * time.Millisecond)

	if err := m.Acquire(ctx, 1, objid.ID(2)); err != ErrDeadlock {
		t.Fatalf("T1.lock(2) should fail with ErrDeadlock, got: %v", err)
	}

	m.ReleaseAll(1) // T1 aborts

	select {
	case err := <-t2Blocked:
		if err != nil {
			t.Fatalf("T2.lock(1) should now succeed, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("T2 never acquired lock 1 after T1 released")
	}
	m.ReleaseAll(2)
}

func TestDeterministicVictimPicksYoungest(t *testing.T) {
	m := New(DeterministicVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 10, objid.ID(1)); err != nil {
		t.Fatalf("txn10.lock(1): %v", err)
	}
	if err := m.Acquire(ctx, 20, objid.ID(2)); err != nil {
		t.Fatalf("txn20.lock(2): %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- m.Acquire(ctx, 20, objid.ID(1))
	}()
	time.Sleep(50 * time.Millisecond)

	// txn10 (older) requests lock 2, closing the cycle {10, 20}.
	// Deterministic policy picks the numerically largest id: txn20.
	requester := make(chan error, 1)
	go func() {
		requester <- m.Acquire(ctx, 10, objid.ID(2))
	}()

	select {
	case err := <-blocked:
		if err != ErrDeadlock {
			t.Fatalf("txn20 should be victimized, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("txn20 was never victimized")
	}

	// The victim still holds lock 2 until it aborts.
	m.ReleaseAll(20)

	select {
	case err := <-requester:
		if err != nil {
			t.Fatalf("requester txn10 should not be the victim, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("txn10 never acquired lock 2 after txn20 aborted")
	}

	m.ReleaseAll(10)
}

func TestAcquireTimeoutActsAsDeadlock(t *testing.T) {
	m := New(RequesterVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 1, objid.ID(5)); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := m.Acquire(timeoutCtx, 2, objid.ID(5))
	if err != ErrDeadlock {
		t.Fatalf("expected ErrDeadlock on timeout, got: %v", err)
	}

	m.ReleaseAll(1)
}

func TestFIFOOrdering(t *testing.T) {
	m := New(RequesterVictim)
	ctx := context.Background()

	if err := m.Acquire(ctx, 1, objid.ID(1)); err != nil {
		t.Fatalf("Acquire txn1: %v", err)
	}

	order := make(chan TxnID, 2)
	go func() {
		m.Acquire(ctx, 2, objid.ID(1))
		order <- 2
		m.ReleaseAll(2)
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		m.Acquire(ctx, 3, objid.ID(1))
		order <- 3
		m.ReleaseAll(3)
	}()
	time.Sleep(20 * time.Millisecond)

	m.ReleaseAll(1)

	first := <-order
	second := <-order
	if first != 2 || second != 3 {
		t.Fatalf("expected FIFO grant order [2,3], got [%d,%d]", first, second)
	}
}
