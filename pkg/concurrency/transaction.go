package concurrency

import (
	"sync"

	"heapdb/pkg/tuple"

	"github.com/google/uuid"
)

// Transaction identifies a unit of work and tracks the page locks it currently holds.
// The held-lock set is written only by the LockManager; everyone else reads it.
type Transaction struct {
	id          uuid.UUID
	lockedPages map[tuple.PageID]LockType // tracks currently locked pages and their LockType
	aborted     bool
	mtx         sync.RWMutex
}

// NewTransaction starts a new transaction with a fresh id.
func NewTransaction() *Transaction {
	return NewTransactionWithID(uuid.New())
}

// NewTransactionWithID starts a new transaction with the given id. Each client runs
// at most one transaction at a time, so the client id can double as the transaction id.
func NewTransactionWithID(id uuid.UUID) *Transaction {
	return &Transaction{id: id, lockedPages: make(map[tuple.PageID]LockType)}
}

// ID returns the transaction's unique identifier.
func (t *Transaction) ID() uuid.UUID {
	return t.id
}

// LockedPages returns a snapshot of the pages this transaction holds locks on.
func (t *Transaction) LockedPages() map[tuple.PageID]LockType {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	pages := make(map[tuple.PageID]LockType, len(t.lockedPages))
	for pid, lt := range t.lockedPages {
		pages[pid] = lt
	}
	return pages
}

// NumLocks returns the number of page locks this transaction holds.
func (t *Transaction) NumLocks() int {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return len(t.lockedPages)
}

// Aborted reports whether the transaction was aborted by a lock timeout.
func (t *Transaction) Aborted() bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.aborted
}

func (t *Transaction) lockType(pid tuple.PageID) (LockType, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	lt, ok := t.lockedPages[pid]
	return lt, ok
}

func (t *Transaction) setLock(pid tuple.PageID, lt LockType) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.lockedPages[pid] = lt
}

func (t *Transaction) dropLock(pid tuple.PageID) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	delete(t.lockedPages, pid)
}

func (t *Transaction) markAborted() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.aborted = true
}

func (t *Transaction) String() string {
	return t.id.String()
}
