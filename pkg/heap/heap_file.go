package heap

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"heapdb/pkg/concurrency"
	"heapdb/pkg/logger"
	"heapdb/pkg/page"
	"heapdb/pkg/tuple"

	"github.com/cespare/xxhash"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

var log = logger.For("heap")

// File stores the pages of one table back to back in a single file. Page n lives at
// byte offset n*pageSize.
//
// Tuple operations fetch pages through a page.Source (the buffer pool) so that every
// access is locked; ReadPage and WritePage go straight to disk and are used by the
// source itself.
type File struct {
	file      *os.File
	path      string
	id        int
	desc      *tuple.TupleDesc
	pageSize  int
	src       page.Source
	appendMtx sync.Mutex // serializes growing the file
}

var _ page.DBFile = (*File)(nil)

// Open opens or creates the heap file at path, creating parent folders as needed.
// src may be nil and set later with SetSource.
func Open(path string, desc *tuple.TupleDesc, pageSize int, src page.Source) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(abs), 0775); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	f := &File{
		file:     file,
		path:     abs,
		id:       TableID(abs),
		desc:     desc,
		pageSize: pageSize,
		src:      src,
	}
	if size, err := f.Size(); err == nil && size%int64(pageSize) != 0 {
		log.Warnf("%s: trailing %d bytes past the last full page are ignored", abs, size%int64(pageSize))
	}
	return f, nil
}

// TableID derives the table id from a file's absolute path. The id is stable across
// restarts as long as the file is not moved.
func TableID(absPath string) int {
	return int(xxhash.Sum64String(absPath) >> 1)
}

// SetSource sets the page source used by tuple operations.
func (f *File) SetSource(src page.Source) {
	f.src = src
}

// ID returns the table id.
func (f *File) ID() int {
	return f.id
}

// TupleDesc returns the descriptor of the tuples stored in this file.
func (f *File) TupleDesc() *tuple.TupleDesc {
	return f.desc
}

// Path returns the file's absolute path.
func (f *File) Path() string {
	return f.path
}

// PageSize returns the size of each page in bytes.
func (f *File) PageSize() int {
	return f.pageSize
}

// Size returns the file's size in bytes.
func (f *File) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// NumPages returns the number of full pages in the file.
func (f *File) NumPages() (int, error) {
	size, err := f.Size()
	if err != nil {
		return 0, err
	}
	return int(size / int64(f.pageSize)), nil
}

func (f *File) checkPageID(pid tuple.PageID) error {
	if pid.TableID != f.id {
		return errors.Wrapf(ErrWrongTable, "%v in table %d", pid, f.id)
	}
	return nil
}

// ReadPage reads and decodes page pid from disk.
func (f *File) ReadPage(pid tuple.PageID) (page.Page, error) {
	if err := f.checkPageID(pid); err != nil {
		return nil, err
	}
	if pid.PageNumber < 0 {
		return nil, errors.Wrapf(ErrPageOutOfRange, "%v", pid)
	}
	buf := directio.AlignedBlock(f.pageSize)
	n, err := f.file.ReadAt(buf, int64(pid.PageNumber)*int64(f.pageSize))
	if err == io.EOF && n < f.pageSize {
		return nil, errors.Wrapf(ErrPageOutOfRange, "%v", pid)
	}
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read %v", pid)
	}
	return NewHeapPage(pid, f.desc, f.pageSize, buf)
}

// WritePage writes p at its offset, extending the file if p is the next page.
func (f *File) WritePage(p page.Page) error {
	pid := p.ID()
	if err := f.checkPageID(pid); err != nil {
		return err
	}
	data, err := p.Data()
	if err != nil {
		return err
	}
	if _, err = f.file.WriteAt(data, int64(pid.PageNumber)*int64(f.pageSize)); err != nil {
		return errors.Wrapf(err, "write %v", pid)
	}
	return nil
}

// appendEmptyPage grows the file by one empty page and returns its number.
func (f *File) appendEmptyPage() (int, error) {
	f.appendMtx.Lock()
	defer f.appendMtx.Unlock()
	n, err := f.NumPages()
	if err != nil {
		return 0, err
	}
	data := EmptyPageData(f.pageSize)
	if _, err = f.file.WriteAt(data, int64(n)*int64(f.pageSize)); err != nil {
		return 0, errors.Wrapf(err, "append page %d to %s", n, f.path)
	}
	log.Debugf("%s: appended page %d", f.path, n)
	return n, nil
}

// getHeapPage fetches pid through the page source.
func (f *File) getHeapPage(t *concurrency.Transaction, pid tuple.PageID, perm page.Permissions) (*HeapPage, error) {
	if f.src == nil {
		return nil, ErrNoSource
	}
	pg, err := f.src.GetPage(t, pid, perm)
	if err != nil {
		return nil, err
	}
	hp, ok := pg.(*HeapPage)
	if !ok {
		return nil, errors.Errorf("page %v is a %T, not a heap page", pid, pg)
	}
	return hp, nil
}

// InsertTuple adds tup to the first page with a free slot, appending a new page when
// every page is full. It returns the page it dirtied.
func (f *File) InsertTuple(t *concurrency.Transaction, tup *tuple.Tuple) ([]page.Page, error) {
	if !tup.Desc().Equals(f.desc) {
		return nil, errors.Wrapf(ErrDescMismatch, "insert into %s", f.path)
	}
	n, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	for pn := 0; ; pn++ {
		if pn >= n {
			if pn, err = f.appendEmptyPage(); err != nil {
				return nil, err
			}
			n = pn + 1
		}
		pid := tuple.PageID{TableID: f.id, PageNumber: pn}
		_, heldBefore := t.LockedPages()[pid]
		hp, err := f.getHeapPage(t, pid, page.ReadWrite)
		if err != nil {
			return nil, err
		}
		if hp.NumEmptySlots() == 0 {
			// A full page we had not touched before can be unlocked right away.
			if r, ok := f.src.(page.Releaser); ok && !heldBefore {
				if err := r.UnsafeReleasePage(t, pid); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := hp.InsertTuple(tup); err != nil {
			return nil, err
		}
		hp.MarkDirty(true, t.ID())
		return []page.Page{hp}, nil
	}
}

// DeleteTuple removes tup from the page named by its record id and returns that page.
func (f *File) DeleteTuple(t *concurrency.Transaction, tup *tuple.Tuple) ([]page.Page, error) {
	rid := tup.RecordID()
	if rid == nil {
		return nil, ErrNoRecordID
	}
	if err := f.checkPageID(rid.PageID); err != nil {
		return nil, err
	}
	n, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	if rid.PageID.PageNumber < 0 || rid.PageID.PageNumber >= n {
		return nil, errors.Wrapf(ErrTupleNotFound, "%v", rid)
	}
	hp, err := f.getHeapPage(t, rid.PageID, page.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := hp.DeleteTuple(tup); err != nil {
		return nil, err
	}
	hp.MarkDirty(true, t.ID())
	return []page.Page{hp}, nil
}

// Iterator returns an iterator over every tuple in the file, read under t.
func (f *File) Iterator(t *concurrency.Transaction) *Iterator {
	return newIterator(f, t)
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.file.Close()
}
