package concurrency

import (
	"heapdb/pkg/tuple"

	"github.com/google/uuid"
)

// Indicates whether a lock is a shared (reader) or an exclusive (writer) lock.
type LockType int

const (
	SharedLock    LockType = 0
	ExclusiveLock LockType = 1
)

func (lt LockType) String() string {
	if lt == ExclusiveLock {
		return "X"
	}
	return "S"
}

// Lock is the lock currently held on one page. An exclusive lock has at most one holder.
type Lock struct {
	lockType LockType
	pageID   tuple.PageID
	holders  map[uuid.UUID]*Transaction
}

func newLock(lt LockType, pid tuple.PageID) *Lock {
	return &Lock{lockType: lt, pageID: pid, holders: make(map[uuid.UUID]*Transaction)}
}

// Type returns whether the lock is shared or exclusive.
func (l *Lock) Type() LockType {
	return l.lockType
}

// PageID returns the page this lock protects.
func (l *Lock) PageID() tuple.PageID {
	return l.pageID
}

// NumHolders returns the number of transactions holding the lock.
func (l *Lock) NumHolders() int {
	return len(l.holders)
}

func (l *Lock) heldBy(t *Transaction) bool {
	_, ok := l.holders[t.id]
	return ok
}

// heldAloneBy reports whether t is the only holder.
func (l *Lock) heldAloneBy(t *Transaction) bool {
	return len(l.holders) == 1 && l.heldBy(t)
}

func (l *Lock) add(t *Transaction) {
	l.holders[t.id] = t
	t.setLock(l.pageID, l.lockType)
}

// remove drops t from the holders and reports whether the lock is now free.
func (l *Lock) remove(t *Transaction) bool {
	delete(l.holders, t.id)
	t.dropLock(l.pageID)
	return l.lockType == ExclusiveLock || len(l.holders) == 0
}

func (l *Lock) upgrade(t *Transaction) {
	l.lockType = ExclusiveLock
	t.setLock(l.pageID, ExclusiveLock)
}
