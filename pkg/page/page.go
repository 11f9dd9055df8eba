// Package page defines the contracts shared by page kinds, the files that store them
// and the buffer pool that hands them out.
package page

import (
	"heapdb/pkg/concurrency"
	"heapdb/pkg/tuple"

	"github.com/google/uuid"
	"github.com/ncw/directio"
)

// DefaultSize is the default size of a page in bytes (4kb).
const DefaultSize = directio.BlockSize

// Permissions requested when fetching a page. ReadOnly takes a shared lock,
// ReadWrite an exclusive one.
type Permissions int

const (
	ReadOnly  Permissions = 0
	ReadWrite Permissions = 1
)

func (p Permissions) String() string {
	if p == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Page is a decoded page held by the buffer pool.
type Page interface {
	// ID returns the page's identifier.
	ID() tuple.PageID
	// Data encodes the page to exactly one page worth of bytes.
	Data() ([]byte, error)
	// IsDirty returns the transaction that last dirtied the page, if it is dirty.
	IsDirty() (uuid.UUID, bool)
	// MarkDirty sets or clears the dirty flag on behalf of a transaction.
	MarkDirty(dirty bool, tid uuid.UUID)
	// BeforeImage decodes the snapshot taken by the last SetBeforeImage.
	BeforeImage() (Page, error)
	// SetBeforeImage snapshots the current contents.
	SetBeforeImage() error
}

// DBFile is the on-disk storage of one table.
type DBFile interface {
	// ID returns the table id; it is stable across process restarts.
	ID() int
	TupleDesc() *tuple.TupleDesc
	ReadPage(pid tuple.PageID) (Page, error)
	WritePage(p Page) error
	NumPages() (int, error)
	// InsertTuple adds tup on behalf of t and returns the pages it dirtied.
	InsertTuple(t *concurrency.Transaction, tup *tuple.Tuple) ([]Page, error)
	// DeleteTuple removes tup on behalf of t and returns the pages it dirtied.
	DeleteTuple(t *concurrency.Transaction, tup *tuple.Tuple) ([]Page, error)
}

// Source hands out locked pages. It is implemented by the buffer pool.
type Source interface {
	GetPage(t *concurrency.Transaction, pid tuple.PageID, perm Permissions) (Page, error)
}

// Releaser is implemented by sources that can drop a page lock before the transaction
// ends. Callers must only release locks that guarded nothing the transaction read.
type Releaser interface {
	UnsafeReleasePage(t *concurrency.Transaction, pid tuple.PageID) error
}
