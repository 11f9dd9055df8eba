package heap

import (
	"slices"

	"heapdb/pkg/concurrency"
	"heapdb/pkg/cursor"
	"heapdb/pkg/page"
	"heapdb/pkg/tuple"
)

// Iterator walks the tuples of a heap file page by page, fetching each page read-only
// through the file's page source. Empty pages are skipped.
type Iterator struct {
	file     *File
	tx       *concurrency.Transaction
	pageNo   int
	numPages int // -1 until the first call to Next
	buf      []*tuple.Tuple
	idx      int
	cur      *tuple.Tuple
	err      error
	closed   bool
}

var _ cursor.Cursor = (*Iterator)(nil)

func newIterator(f *File, t *concurrency.Transaction) *Iterator {
	return &Iterator{file: f, tx: t, numPages: -1}
}

// Next advances to the next tuple.
func (it *Iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if it.numPages < 0 {
		n, err := it.file.NumPages()
		if err != nil {
			it.err = err
			return false
		}
		it.numPages = n
	}
	for it.idx >= len(it.buf) {
		if it.pageNo >= it.numPages {
			it.cur = nil
			return false
		}
		pid := tuple.PageID{TableID: it.file.id, PageNumber: it.pageNo}
		hp, err := it.file.getHeapPage(it.tx, pid, page.ReadOnly)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = slices.Collect(hp.Tuples())
		it.idx = 0
		it.pageNo++
	}
	it.cur = it.buf[it.idx]
	it.idx++
	return true
}

// Tuple returns the current tuple.
func (it *Iterator) Tuple() *tuple.Tuple {
	return it.cur
}

// Err returns the error that stopped iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Rewind restarts the scan from the first page. Pages appended since the previous
// pass are included.
func (it *Iterator) Rewind() {
	it.pageNo = 0
	it.numPages = -1
	it.buf = nil
	it.idx = 0
	it.cur = nil
	it.err = nil
	it.closed = false
}

// Close ends the scan. Page locks stay with the transaction.
func (it *Iterator) Close() {
	it.closed = true
	it.buf = nil
	it.cur = nil
}
