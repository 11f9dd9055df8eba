package concurrency

import (
	"math/rand/v2"
	"sync"
	"time"

	"heapdb/pkg/logger"
	"heapdb/pkg/tuple"

	"github.com/pkg/errors"
)

var (
	// ErrTransactionAborted signals that a lock wait timed out (suspected deadlock).
	// The transaction must be completed as aborted and retried from scratch.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrLockNotHeld is returned when releasing a lock that the transaction does not hold.
	ErrLockNotHeld = errors.New("lock not held")

	// ErrWrongLockType is returned when releasing a lock of the wrong kind.
	ErrWrongLockType = errors.New("wrong lock type")
)

var log = logger.For("lockmanager")

// WaitPolicy bounds how long an acquisition blocks before aborting.
// Each attempt lasts Wait multiplied by a random factor in [1, Jitter]. A release wakes
// the waiter to re-check before the attempt ends, but the attempt's deadline stays put.
// After Attempts expired attempts the transaction is aborted, so no request blocks
// longer than Attempts*Jitter*Wait.
type WaitPolicy struct {
	Wait     time.Duration
	Jitter   int
	Attempts int
}

// DefaultWaitPolicy is the policy used when none is configured.
var DefaultWaitPolicy = WaitPolicy{Wait: 10 * time.Millisecond, Jitter: 5, Attempts: 3}

// LockManager implements page-granularity strict two-phase locking.
// It maps every locked page to the Lock currently held on it.
type LockManager struct {
	locks  map[tuple.PageID]*Lock
	wake   chan struct{} // closed and replaced on every release
	graph  *WaitsForGraph
	policy WaitPolicy
	mtx    sync.Mutex
}

// NewLockManager returns an empty lock manager using the given wait policy.
func NewLockManager(policy WaitPolicy) *LockManager {
	if policy.Wait <= 0 {
		policy.Wait = DefaultWaitPolicy.Wait
	}
	if policy.Jitter < 1 {
		policy.Jitter = 1
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &LockManager{
		locks:  make(map[tuple.PageID]*Lock),
		wake:   make(chan struct{}),
		graph:  NewGraph(),
		policy: policy,
	}
}

// AcquireShared grants t a shared lock on pid, blocking while another transaction
// holds it exclusively. Holding the exclusive lock already satisfies the request.
func (lm *LockManager) AcquireShared(pid tuple.PageID, t *Transaction) error {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	return lm.acquire(pid, t, SharedLock, func() bool {
		lock, found := lm.locks[pid]
		switch {
		case !found:
			lock = newLock(SharedLock, pid)
			lm.locks[pid] = lock
			lock.add(t)
			return true
		case lock.lockType == SharedLock:
			lock.add(t)
			return true
		default:
			return lock.heldBy(t)
		}
	})
}

// AcquireExclusive grants t an exclusive lock on pid. If t is the sole holder of a
// shared lock on pid the lock is upgraded in place; otherwise t blocks until the page
// is free or held by t alone.
func (lm *LockManager) AcquireExclusive(pid tuple.PageID, t *Transaction) error {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	return lm.acquire(pid, t, ExclusiveLock, func() bool {
		lock, found := lm.locks[pid]
		switch {
		case !found:
			lock = newLock(ExclusiveLock, pid)
			lm.locks[pid] = lock
			lock.add(t)
			return true
		case lock.heldAloneBy(t):
			if lock.lockType == SharedLock {
				lock.upgrade(t)
			}
			return true
		default:
			return false
		}
	})
}

// acquire runs grant until it succeeds or the wait policy gives up.
// lm.mtx must be held on entry; it is released while waiting.
func (lm *LockManager) acquire(pid tuple.PageID, t *Transaction, lt LockType, grant func() bool) error {
	if t.Aborted() {
		return ErrTransactionAborted
	}
	expired := 0
	deadlock := false
	deadline := time.Now().Add(lm.attemptLength())
	for {
		if grant() {
			return nil
		}
		if expired >= lm.policy.Attempts {
			t.markAborted()
			log.WithField("page", pid).WithField("lock", lt).WithField("deadlock", deadlock).
				Debugf("transaction %v aborted after %d expired waits", t, expired)
			return errors.Wrapf(ErrTransactionAborted, "waiting for %v lock on %v", lt, pid)
		}
		blockers := lm.blockers(pid, t)
		for _, b := range blockers {
			lm.graph.AddEdge(t, b)
		}
		if lm.wait(deadline) {
			expired++
			deadline = time.Now().Add(lm.attemptLength())
		}
		if expired >= lm.policy.Attempts {
			deadlock = lm.graph.DetectCycle()
		}
		for _, b := range blockers {
			lm.graph.RemoveEdge(t, b)
		}
	}
}

// blockers returns the holders of the lock on pid other than t. lm.mtx must be held.
func (lm *LockManager) blockers(pid tuple.PageID, t *Transaction) []*Transaction {
	lock, found := lm.locks[pid]
	if !found {
		return nil
	}
	out := make([]*Transaction, 0, len(lock.holders))
	for id, h := range lock.holders {
		if id != t.id {
			out = append(out, h)
		}
	}
	return out
}

// attemptLength returns the duration of one wait attempt. The random factor keeps two
// transactions racing for the same upgrade from timing out together.
func (lm *LockManager) attemptLength() time.Duration {
	return lm.policy.Wait * time.Duration(1+rand.IntN(lm.policy.Jitter))
}

// wait blocks until a lock is released or deadline passes, and reports whether the
// deadline passed. lm.mtx must be held; it is released while blocked.
func (lm *LockManager) wait(deadline time.Time) (expired bool) {
	d := time.Until(deadline)
	if d <= 0 {
		return true
	}
	ch := lm.wake
	timer := time.NewTimer(d)
	lm.mtx.Unlock()
	select {
	case <-ch:
		timer.Stop()
	case <-timer.C:
		expired = true
	}
	lm.mtx.Lock()
	return expired
}

// broadcast wakes every waiter. lm.mtx must be held.
func (lm *LockManager) broadcast() {
	close(lm.wake)
	lm.wake = make(chan struct{})
}

// ReleaseShared removes t from the holders of the shared lock on pid.
// If the lock was upgraded to exclusive by t this is a no-op; the exclusive lock is
// released at transaction end.
func (lm *LockManager) ReleaseShared(pid tuple.PageID, t *Transaction) error {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	lock, found := lm.locks[pid]
	if !found || !lock.heldBy(t) {
		return errors.Wrapf(ErrLockNotHeld, "release shared lock on %v", pid)
	}
	if lock.lockType != SharedLock {
		return nil
	}
	lm.release(lock, t)
	return nil
}

// ReleaseExclusive releases t's exclusive lock on pid.
func (lm *LockManager) ReleaseExclusive(pid tuple.PageID, t *Transaction) error {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	lock, found := lm.locks[pid]
	if !found || !lock.heldBy(t) {
		return errors.Wrapf(ErrLockNotHeld, "release exclusive lock on %v", pid)
	}
	if lock.lockType != ExclusiveLock {
		return errors.Wrapf(ErrWrongLockType, "release exclusive lock on %v", pid)
	}
	lm.release(lock, t)
	return nil
}

// ReleaseAll releases every lock t holds.
func (lm *LockManager) ReleaseAll(t *Transaction) {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	for pid := range t.LockedPages() {
		if lock, found := lm.locks[pid]; found && lock.heldBy(t) {
			lm.release(lock, t)
		} else {
			t.dropLock(pid)
		}
	}
}

// release drops t from lock, removing the lock once it is free. Waiters are woken on
// every release since a departing shared holder can make an upgrade possible.
func (lm *LockManager) release(lock *Lock, t *Transaction) {
	if lock.remove(t) {
		delete(lm.locks, lock.pageID)
	}
	lm.broadcast()
}

// HoldsLock reports whether t holds any lock on pid. It only consults t's own lock
// set and never blocks on the registry.
func (lm *LockManager) HoldsLock(pid tuple.PageID, t *Transaction) bool {
	_, ok := t.lockType(pid)
	return ok
}

// HoldsWriteLock reports whether t holds the exclusive lock on pid.
func (lm *LockManager) HoldsWriteLock(pid tuple.PageID, t *Transaction) bool {
	lt, ok := t.lockType(pid)
	return ok && lt == ExclusiveLock
}

// IsLocked reports whether any transaction holds a lock on pid.
func (lm *LockManager) IsLocked(pid tuple.PageID) bool {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	_, found := lm.locks[pid]
	return found
}

// LockOn returns the type and holder count of the lock on pid, if any.
func (lm *LockManager) LockOn(pid tuple.PageID) (lt LockType, holders int, found bool) {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	lock, found := lm.locks[pid]
	if !found {
		return 0, 0, false
	}
	return lock.lockType, len(lock.holders), true
}

// Deadlocked reports whether the transactions currently waiting form a cycle.
func (lm *LockManager) Deadlocked() bool {
	return lm.graph.DetectCycle()
}

// NumWaiting returns the number of waits-for edges, one per (waiter, holder) pair.
func (lm *LockManager) NumWaiting() int {
	return lm.graph.NumEdges()
}

// NumLocks returns the number of locked pages.
func (lm *LockManager) NumLocks() int {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	return len(lm.locks)
}

// Reset drops every lock and clears the holders' lock sets.
func (lm *LockManager) Reset() {
	lm.mtx.Lock()
	defer lm.mtx.Unlock()
	for pid, lock := range lm.locks {
		for _, t := range lock.holders {
			t.dropLock(pid)
		}
	}
	lm.locks = make(map[tuple.PageID]*Lock)
	lm.broadcast()
}
