// Package bufferpool caches pages in memory and is the only way tuple operations reach
// them. Every page handed out is first locked for the requesting transaction.
package bufferpool

import (
	"sync"

	"heapdb/pkg/concurrency"
	"heapdb/pkg/heap"
	"heapdb/pkg/list"
	"heapdb/pkg/logger"
	"heapdb/pkg/page"
	"heapdb/pkg/tuple"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBufferPoolFull is returned when a page must be loaded but every cached page is
	// dirty or locked.
	ErrBufferPoolFull = errors.New("buffer pool full: no clean unlocked page to evict")

	// ErrUnknownTable is returned for page ids naming a table with no registered file.
	ErrUnknownTable = errors.New("no file registered for table")
)

var log = logger.For("bufferpool")

// BufferPool holds up to maxPages decoded pages.
//
// Pages are kept in the order they were loaded; eviction removes the oldest page that
// is neither dirty nor locked. Dirty pages stay until their transaction commits (and
// they are written out) or aborts (and they are dropped), so uncommitted data never
// reaches disk.
type BufferPool struct {
	maxPages  int
	pageTable map[tuple.PageID]*list.Link[page.Page]
	loadOrder *list.List[page.Page]
	files     map[int]page.DBFile
	lm        *concurrency.LockManager
	mtx       sync.Mutex // guards pageTable, loadOrder and files
}

var (
	_ page.Source   = (*BufferPool)(nil)
	_ page.Releaser = (*BufferPool)(nil)
)

// New returns an empty pool of maxPages pages that locks through lm.
func New(maxPages int, lm *concurrency.LockManager) *BufferPool {
	return &BufferPool{
		maxPages:  maxPages,
		pageTable: make(map[tuple.PageID]*list.Link[page.Page]),
		loadOrder: list.NewList[page.Page](),
		files:     make(map[int]page.DBFile),
		lm:        lm,
	}
}

// LockManager returns the lock manager the pool acquires page locks from.
func (bp *BufferPool) LockManager() *concurrency.LockManager {
	return bp.lm
}

// MaxPages returns the pool's capacity.
func (bp *BufferPool) MaxPages() int {
	return bp.maxPages
}

// RegisterFile makes f's pages available through the pool.
func (bp *BufferPool) RegisterFile(f page.DBFile) {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	bp.files[f.ID()] = f
}

// UnregisterFile removes the file for tableID and drops its cached pages, dirty or not.
func (bp *BufferPool) UnregisterFile(tableID int) {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	delete(bp.files, tableID)
	bp.loadOrder.Map(func(l *list.Link[page.Page]) {
		if pid := l.GetValue().ID(); pid.TableID == tableID {
			l.PopSelf()
			delete(bp.pageTable, pid)
		}
	})
}

// File returns the file registered for tableID.
func (bp *BufferPool) File(tableID int) (page.DBFile, bool) {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	f, ok := bp.files[tableID]
	return f, ok
}

func (bp *BufferPool) file(tableID int) (page.DBFile, error) {
	f, ok := bp.files[tableID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTable, "table %d", tableID)
	}
	return f, nil
}

// GetPage returns page pid locked for t: shared for ReadOnly, exclusive for ReadWrite.
//
// The lock is taken before the page is looked up, so once loaded the page cannot be
// evicted until t completes. If the lock wait times out the transaction is aborted here
// (its dirty pages dropped and its locks released) and ErrTransactionAborted returned.
func (bp *BufferPool) GetPage(t *concurrency.Transaction, pid tuple.PageID, perm page.Permissions) (page.Page, error) {
	var err error
	if perm == page.ReadWrite {
		err = bp.lm.AcquireExclusive(pid, t)
	} else {
		err = bp.lm.AcquireShared(pid, t)
	}
	if err != nil {
		if errors.Is(err, concurrency.ErrTransactionAborted) {
			if cerr := bp.TransactionComplete(t, false); cerr != nil {
				log.Warnf("abort of %v after lock timeout: %v", t, cerr)
			}
		}
		return nil, err
	}

	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	if link, ok := bp.pageTable[pid]; ok {
		return link.GetValue(), nil
	}
	f, err := bp.file(pid.TableID)
	if err != nil {
		return nil, err
	}
	if len(bp.pageTable) >= bp.maxPages {
		if err := bp.evictPage(); err != nil {
			return nil, err
		}
	}
	pg, err := f.ReadPage(pid)
	if err != nil {
		return nil, err
	}
	bp.pageTable[pid] = bp.loadOrder.PushTail(pg)
	return pg, nil
}

// evictPage drops the oldest cached page that is clean and unlocked.
// bp.mtx must be held.
func (bp *BufferPool) evictPage() error {
	victim := bp.loadOrder.Find(func(l *list.Link[page.Page]) bool {
		pg := l.GetValue()
		if _, dirty := pg.IsDirty(); dirty {
			return false
		}
		return !bp.lm.IsLocked(pg.ID())
	})
	if victim == nil {
		return ErrBufferPoolFull
	}
	pid := victim.GetValue().ID()
	victim.PopSelf()
	delete(bp.pageTable, pid)
	log.WithField("page", pid).Debug("evicted")
	return nil
}

// UnsafeReleasePage releases whichever lock t holds on pid before t completes. This
// breaks two-phase locking unless the page was only inspected.
func (bp *BufferPool) UnsafeReleasePage(t *concurrency.Transaction, pid tuple.PageID) error {
	if bp.lm.HoldsWriteLock(pid, t) {
		return bp.lm.ReleaseExclusive(pid, t)
	}
	return bp.lm.ReleaseShared(pid, t)
}

// HoldsLock reports whether t holds any lock on pid.
func (bp *BufferPool) HoldsLock(t *concurrency.Transaction, pid tuple.PageID) bool {
	return bp.lm.HoldsLock(pid, t)
}

// NumCached returns the number of pages in the pool.
func (bp *BufferPool) NumCached() int {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	return len(bp.pageTable)
}

// IsCached reports whether pid is in the pool.
func (bp *BufferPool) IsCached(pid tuple.PageID) bool {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	_, ok := bp.pageTable[pid]
	return ok
}

// NumDirty returns the number of dirty pages in the pool.
func (bp *BufferPool) NumDirty() int {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	n := 0
	bp.loadOrder.Map(func(l *list.Link[page.Page]) {
		if _, dirty := l.GetValue().IsDirty(); dirty {
			n++
		}
	})
	return n
}

// dirtyPagesOf returns the cached pages that t holds locks on and has dirtied.
// bp.mtx must be held.
func (bp *BufferPool) dirtyPagesOf(t *concurrency.Transaction) []page.Page {
	var pages []page.Page
	for pid := range t.LockedPages() {
		link, ok := bp.pageTable[pid]
		if !ok {
			continue
		}
		pg := link.GetValue()
		if tid, dirty := pg.IsDirty(); dirty && tid == t.ID() {
			pages = append(pages, pg)
		}
	}
	return pages
}

// TransactionComplete ends t. On commit every page t dirtied is written to its file and
// becomes the new before image; on abort those pages are dropped from the pool so the
// next reader loads the committed version from disk. Either way all of t's locks are
// then released. Completing an already completed transaction does nothing.
func (bp *BufferPool) TransactionComplete(t *concurrency.Transaction, commit bool) error {
	bp.mtx.Lock()
	dirty := bp.dirtyPagesOf(t)
	var err error
	if commit {
		if err = bp.writePages(dirty); err == nil {
			for _, pg := range dirty {
				if serr := pg.SetBeforeImage(); serr != nil && err == nil {
					err = serr
				}
			}
		}
	} else {
		for _, pg := range dirty {
			bp.discard(pg.ID())
		}
	}
	bp.mtx.Unlock()
	bp.lm.ReleaseAll(t)
	if len(dirty) > 0 {
		log.WithField("commit", commit).Debugf("transaction %v completed with %d dirty pages", t, len(dirty))
	}
	return err
}

// writePages writes pages to their files and marks them clean. Pages of different
// files are written concurrently. bp.mtx must be held.
func (bp *BufferPool) writePages(pages []page.Page) error {
	byTable := make(map[int][]page.Page)
	for _, pg := range pages {
		byTable[pg.ID().TableID] = append(byTable[pg.ID().TableID], pg)
	}
	var g errgroup.Group
	for tableID, pgs := range byTable {
		f, err := bp.file(tableID)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for _, pg := range pgs {
				if err := f.WritePage(pg); err != nil {
					log.WithField("page", pg.ID()).Warnf("flush failed: %v", err)
					return err
				}
				pg.MarkDirty(false, uuid.Nil)
			}
			return nil
		})
	}
	return g.Wait()
}

// FlushPage writes pid to disk if it is cached and dirty. The page stays cached.
func (bp *BufferPool) FlushPage(pid tuple.PageID) error {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	link, ok := bp.pageTable[pid]
	if !ok {
		return nil
	}
	pg := link.GetValue()
	if _, dirty := pg.IsDirty(); !dirty {
		return nil
	}
	return bp.writePages([]page.Page{pg})
}

// FlushPages writes every page t has dirtied.
func (bp *BufferPool) FlushPages(t *concurrency.Transaction) error {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	return bp.writePages(bp.dirtyPagesOf(t))
}

// FlushAllPages writes every dirty page in the pool, including pages of transactions
// still running. Only for shutdown and tests.
func (bp *BufferPool) FlushAllPages() error {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	var dirty []page.Page
	bp.loadOrder.Map(func(l *list.Link[page.Page]) {
		if _, d := l.GetValue().IsDirty(); d {
			dirty = append(dirty, l.GetValue())
		}
	})
	return bp.writePages(dirty)
}

// DiscardPage drops pid from the pool without writing it.
func (bp *BufferPool) DiscardPage(pid tuple.PageID) {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	bp.discard(pid)
}

// discard drops pid from the pool. bp.mtx must be held.
func (bp *BufferPool) discard(pid tuple.PageID) {
	if link, ok := bp.pageTable[pid]; ok {
		link.PopSelf()
		delete(bp.pageTable, pid)
	}
}

// cache records pages returned by a file mutation. They were fetched through GetPage
// and are normally cached already.
func (bp *BufferPool) cache(t *concurrency.Transaction, pages []page.Page) {
	bp.mtx.Lock()
	defer bp.mtx.Unlock()
	for _, pg := range pages {
		pg.MarkDirty(true, t.ID())
		if link, ok := bp.pageTable[pg.ID()]; ok {
			link.SetValue(pg)
			continue
		}
		bp.pageTable[pg.ID()] = bp.loadOrder.PushTail(pg)
	}
}

// InsertTuple adds tup to table tableID on behalf of t.
func (bp *BufferPool) InsertTuple(t *concurrency.Transaction, tableID int, tup *tuple.Tuple) error {
	f, ok := bp.File(tableID)
	if !ok {
		return errors.Wrapf(ErrUnknownTable, "table %d", tableID)
	}
	pages, err := f.InsertTuple(t, tup)
	if err != nil {
		return err
	}
	bp.cache(t, pages)
	return nil
}

// DeleteTuple removes tup, located by its record id, on behalf of t.
func (bp *BufferPool) DeleteTuple(t *concurrency.Transaction, tup *tuple.Tuple) error {
	rid := tup.RecordID()
	if rid == nil {
		return errors.Wrap(heap.ErrNoRecordID, "delete")
	}
	f, ok := bp.File(rid.PageID.TableID)
	if !ok {
		return errors.Wrapf(ErrUnknownTable, "table %d", rid.PageID.TableID)
	}
	pages, err := f.DeleteTuple(t, tup)
	if err != nil {
		return err
	}
	bp.cache(t, pages)
	return nil
}
