package bufferpool_test

import (
	"sync/atomic"
	"testing"
	"time"

	"heapdb/pkg/bufferpool"
	"heapdb/pkg/concurrency"
	"heapdb/pkg/heap"
	"heapdb/pkg/page"
	"heapdb/pkg/testutil"
	"heapdb/pkg/tuple"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBufferPool(t *testing.T) {
	t.Run("CachesPages", testCachesPages)
	t.Run("EvictsCleanUnlocked", testEvictsCleanUnlocked)
	t.Run("FullWhenDirtyOrLocked", testFullWhenDirtyOrLocked)
	t.Run("UnknownTable", testUnknownTable)
	t.Run("DeleteWithoutRecordID", testDeleteWithoutRecordID)
	t.Run("CommitFlushes", testCommitFlushes)
	t.Run("AbortDiscards", testAbortDiscards)
	t.Run("NoStealBeforeCommit", testNoStealBeforeCommit)
	t.Run("LockTimeoutAborts", testLockTimeoutAborts)
	t.Run("CompleteTwice", testCompleteTwice)
	t.Run("FlushAllPages", testFlushAllPages)
	t.Run("UnregisterFile", testUnregisterFile)
	t.Run("LockBeforeEviction", testLockBeforeEviction)
	t.Run("EvictionUnderReadLoad", testEvictionUnderReadLoad)
}

// writeEmptyPages appends n empty pages to f directly, bypassing the pool.
func writeEmptyPages(t *testing.T, f *heap.File, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		pid := tuple.PageID{TableID: f.ID(), PageNumber: i}
		hp, err := heap.NewHeapPage(pid, f.TupleDesc(), f.PageSize(), heap.EmptyPageData(f.PageSize()))
		require.NoError(t, err)
		require.NoError(t, f.WritePage(hp))
	}
}

func pageOf(f *heap.File, n int) tuple.PageID {
	return tuple.PageID{TableID: f.ID(), PageNumber: n}
}

// readAndCommit loads pid under a fresh transaction and commits it, leaving the page
// cached, clean and unlocked.
func readAndCommit(t *testing.T, bp *bufferpool.BufferPool, pid tuple.PageID) {
	t.Helper()
	tx := concurrency.NewTransaction()
	_, err := bp.GetPage(tx, pid, page.ReadOnly)
	require.NoError(t, err)
	testutil.Commit(t, bp, tx)
}

// diskTuples returns the number of tuples on page n as stored on disk.
func diskTuples(t *testing.T, f *heap.File, n int) int {
	t.Helper()
	pg, err := f.ReadPage(pageOf(f, n))
	require.NoError(t, err)
	return pg.(*heap.HeapPage).NumTuples()
}

func testCachesPages(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 4)
	writeEmptyPages(t, f, 1)
	tx := concurrency.NewTransaction()
	a, err := bp.GetPage(tx, pageOf(f, 0), page.ReadOnly)
	require.NoError(t, err)
	b, err := bp.GetPage(tx, pageOf(f, 0), page.ReadWrite)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.True(t, bp.HoldsLock(tx, pageOf(f, 0)))
	require.True(t, bp.LockManager().HoldsWriteLock(pageOf(f, 0), tx))
	require.Equal(t, 1, bp.NumCached())
	testutil.Commit(t, bp, tx)
	require.False(t, bp.HoldsLock(tx, pageOf(f, 0)))
	require.True(t, bp.IsCached(pageOf(f, 0)))
}

func testEvictsCleanUnlocked(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 2)
	writeEmptyPages(t, f, 3)
	readAndCommit(t, bp, pageOf(f, 0))
	readAndCommit(t, bp, pageOf(f, 1))
	readAndCommit(t, bp, pageOf(f, 2))
	require.Equal(t, 2, bp.NumCached())
	require.False(t, bp.IsCached(pageOf(f, 0)))
	require.True(t, bp.IsCached(pageOf(f, 1)))
	require.True(t, bp.IsCached(pageOf(f, 2)))
}

func testFullWhenDirtyOrLocked(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 2)
	writeEmptyPages(t, f, 3)
	tx := concurrency.NewTransaction()
	_, err := bp.GetPage(tx, pageOf(f, 0), page.ReadOnly)
	require.NoError(t, err)
	pg, err := bp.GetPage(tx, pageOf(f, 1), page.ReadWrite)
	require.NoError(t, err)
	pg.MarkDirty(true, tx.ID())

	// Page 0 is locked and page 1 is dirty, so nothing can make room for page 2.
	other := concurrency.NewTransaction()
	_, err = bp.GetPage(other, pageOf(f, 2), page.ReadOnly)
	require.ErrorIs(t, err, bufferpool.ErrBufferPoolFull)
	require.False(t, other.Aborted())
	require.NoError(t, bp.TransactionComplete(other, false))

	testutil.Commit(t, bp, tx)
	require.Zero(t, bp.NumDirty())
	readAndCommit(t, bp, pageOf(f, 2))
	require.True(t, bp.IsCached(pageOf(f, 2)))
	require.Equal(t, 2, bp.NumCached())
}

func testUnknownTable(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 2)
	tx := concurrency.NewTransaction()
	defer bp.TransactionComplete(tx, false)
	_, err := bp.GetPage(tx, tuple.PageID{TableID: f.ID() + 1, PageNumber: 0}, page.ReadOnly)
	require.ErrorIs(t, err, bufferpool.ErrUnknownTable)
	err = bp.InsertTuple(tx, f.ID()+1, testutil.IntTuple(t, f.TupleDesc(), 1))
	require.ErrorIs(t, err, bufferpool.ErrUnknownTable)
}

func testDeleteWithoutRecordID(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 2)
	tx := concurrency.NewTransaction()
	defer bp.TransactionComplete(tx, false)
	err := bp.DeleteTuple(tx, testutil.IntTuple(t, f.TupleDesc(), 1))
	require.ErrorIs(t, err, heap.ErrNoRecordID)
	require.Zero(t, tx.NumLocks())
}

func testCommitFlushes(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(2), 4)
	tx := concurrency.NewTransaction()
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 1, 2)))
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 3, 4)))
	require.Equal(t, 1, bp.NumDirty())
	testutil.Commit(t, bp, tx)

	require.Zero(t, bp.NumDirty())
	require.Equal(t, 2, diskTuples(t, f, 0))
	require.Zero(t, tx.NumLocks())

	// The committed contents are the page's new before image.
	tx = concurrency.NewTransaction()
	pg, err := bp.GetPage(tx, pageOf(f, 0), page.ReadOnly)
	require.NoError(t, err)
	before, err := pg.BeforeImage()
	require.NoError(t, err)
	require.Equal(t, 2, before.(*heap.HeapPage).NumTuples())
	testutil.Commit(t, bp, tx)
}

func testAbortDiscards(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 4)
	tx := concurrency.NewTransaction()
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 1)))
	testutil.Commit(t, bp, tx)

	tx = concurrency.NewTransaction()
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 2)))
	require.NoError(t, bp.TransactionComplete(tx, false))
	require.False(t, bp.IsCached(pageOf(f, 0)))
	require.Zero(t, tx.NumLocks())
	require.Equal(t, 1, diskTuples(t, f, 0))

	// The next reader sees only the committed tuple.
	tx = concurrency.NewTransaction()
	pg, err := bp.GetPage(tx, pageOf(f, 0), page.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, 1, pg.(*heap.HeapPage).NumTuples())
	testutil.Commit(t, bp, tx)
}

func testNoStealBeforeCommit(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 1)
	writeEmptyPages(t, f, 2)
	tx := concurrency.NewTransaction()
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 7)))
	require.Zero(t, diskTuples(t, f, 0))

	// The only frame holds a dirty page: another transaction cannot push it out.
	other := concurrency.NewTransaction()
	_, err := bp.GetPage(other, pageOf(f, 1), page.ReadOnly)
	require.ErrorIs(t, err, bufferpool.ErrBufferPoolFull)
	require.NoError(t, bp.TransactionComplete(other, false))
	require.Zero(t, diskTuples(t, f, 0))

	testutil.Commit(t, bp, tx)
	require.Equal(t, 1, diskTuples(t, f, 0))
}

func testLockTimeoutAborts(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 4)
	writeEmptyPages(t, f, 2)
	holder := concurrency.NewTransaction()
	_, err := bp.GetPage(holder, pageOf(f, 0), page.ReadWrite)
	require.NoError(t, err)

	tx := concurrency.NewTransaction()
	pg, err := bp.GetPage(tx, pageOf(f, 1), page.ReadWrite)
	require.NoError(t, err)
	pg.MarkDirty(true, tx.ID())

	_, err = bp.GetPage(tx, pageOf(f, 0), page.ReadOnly)
	require.ErrorIs(t, err, concurrency.ErrTransactionAborted)
	require.True(t, tx.Aborted())
	require.Zero(t, tx.NumLocks())
	require.False(t, bp.IsCached(pageOf(f, 1)))
	require.False(t, bp.LockManager().IsLocked(pageOf(f, 1)))

	// The holder is unaffected.
	require.True(t, bp.HoldsLock(holder, pageOf(f, 0)))
	testutil.Commit(t, bp, holder)
}

func testCompleteTwice(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 4)
	tx := concurrency.NewTransaction()
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 1)))
	testutil.Commit(t, bp, tx)
	testutil.Commit(t, bp, tx)
	require.NoError(t, bp.TransactionComplete(tx, false))
	require.True(t, bp.IsCached(pageOf(f, 0)))
	require.Equal(t, 1, diskTuples(t, f, 0))
}

func testFlushAllPages(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 4)
	tx := concurrency.NewTransaction()
	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 1)))
	require.NoError(t, bp.FlushPages(tx))
	require.Equal(t, 1, diskTuples(t, f, 0))
	require.Zero(t, bp.NumDirty())

	require.NoError(t, bp.InsertTuple(tx, f.ID(), testutil.IntTuple(t, f.TupleDesc(), 2)))
	require.NoError(t, bp.FlushAllPages())
	require.Equal(t, 2, diskTuples(t, f, 0))
	require.NoError(t, bp.FlushPage(pageOf(f, 0)))
	testutil.Commit(t, bp, tx)
}

func testUnregisterFile(t *testing.T) {
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), 4)
	writeEmptyPages(t, f, 2)
	readAndCommit(t, bp, pageOf(f, 0))
	readAndCommit(t, bp, pageOf(f, 1))
	_, ok := bp.File(f.ID())
	require.True(t, ok)

	bp.UnregisterFile(f.ID())
	require.Zero(t, bp.NumCached())
	_, ok = bp.File(f.ID())
	require.False(t, ok)
}

// testLockBeforeEviction has many transactions cycle through more pages than the pool
// holds. A page handed out must stay cached for as long as its transaction holds it.
func testLockBeforeEviction(t *testing.T) {
	const numPages, maxPages, workers, rounds = 12, 4, 6, 40
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), maxPages)
	writeEmptyPages(t, f, numPages)

	var full atomic.Int32
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				pid := pageOf(f, (w*rounds+r)%numPages)
				tx := concurrency.NewTransaction()
				pg, err := bp.GetPage(tx, pid, page.ReadOnly)
				if err != nil {
					if cerr := bp.TransactionComplete(tx, false); cerr != nil {
						return cerr
					}
					if errors.Is(err, bufferpool.ErrBufferPoolFull) {
						full.Add(1)
						continue
					}
					return err
				}
				if pg.ID() != pid {
					return errors.Errorf("asked for %v, got %v", pid, pg.ID())
				}
				time.Sleep(100 * time.Microsecond)
				if !bp.IsCached(pid) {
					return errors.Errorf("%v evicted while locked", pid)
				}
				if err := bp.TransactionComplete(tx, true); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.LessOrEqual(t, bp.NumCached(), maxPages)
	require.Zero(t, bp.LockManager().NumLocks())
	t.Logf("%d loads refused with a full pool", full.Load())
}

// testEvictionUnderReadLoad pins down what happens when every frame holds a clean page
// under a read lock: a load fails fast with ErrBufferPoolFull instead of waiting, and
// succeeds once a reader completes.
func testEvictionUnderReadLoad(t *testing.T) {
	const maxPages = 4
	bp, f := testutil.NewPoolAndFile(t, testutil.IntDesc(1), maxPages)
	writeEmptyPages(t, f, maxPages+1)

	readers := make([]*concurrency.Transaction, maxPages)
	for i := range readers {
		readers[i] = concurrency.NewTransaction()
		_, err := bp.GetPage(readers[i], pageOf(f, i), page.ReadOnly)
		require.NoError(t, err)
	}

	tx := concurrency.NewTransaction()
	start := time.Now()
	_, err := bp.GetPage(tx, pageOf(f, maxPages), page.ReadOnly)
	require.ErrorIs(t, err, bufferpool.ErrBufferPoolFull)
	require.Less(t, time.Since(start), time.Second)
	require.NoError(t, bp.TransactionComplete(tx, false))

	// Readers keep cycling on their own pages; a retrying loader gets in once any
	// frame is momentarily unlocked.
	stop := make(chan struct{})
	var g errgroup.Group
	for i := range readers {
		testutil.Commit(t, bp, readers[i])
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				rtx := concurrency.NewTransaction()
				if _, err := bp.GetPage(rtx, pageOf(f, i), page.ReadOnly); err != nil {
					_ = bp.TransactionComplete(rtx, false)
					continue
				}
				time.Sleep(200 * time.Microsecond)
				if err := bp.TransactionComplete(rtx, true); err != nil {
					return err
				}
				time.Sleep(50 * time.Microsecond)
			}
		})
	}

	loaded := false
	for attempt := 0; attempt < 1000 && !loaded; attempt++ {
		tx := concurrency.NewTransaction()
		_, err := bp.GetPage(tx, pageOf(f, maxPages), page.ReadOnly)
		if err == nil {
			loaded = true
		} else {
			require.ErrorIs(t, err, bufferpool.ErrBufferPoolFull)
			time.Sleep(100 * time.Microsecond)
		}
		require.NoError(t, bp.TransactionComplete(tx, true))
	}
	close(stop)
	require.NoError(t, g.Wait())
	require.True(t, loaded)
}
