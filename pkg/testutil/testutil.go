// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"heapdb/pkg/bufferpool"
	"heapdb/pkg/concurrency"
	"heapdb/pkg/config"
	"heapdb/pkg/database"
	"heapdb/pkg/heap"
	"heapdb/pkg/tuple"

	"github.com/stretchr/testify/require"
)

// FastWaitPolicy keeps lock timeouts short so abort paths run quickly in tests.
var FastWaitPolicy = concurrency.WaitPolicy{Wait: 5 * time.Millisecond, Jitter: 4, Attempts: 3}

// EnsureCleanup registers f to run when the test and its subtests finish.
func EnsureCleanup(t *testing.T, f func()) {
	t.Helper()
	t.Cleanup(f)
}

// GetTempDbFile returns the path of a not yet existing file in a fresh temporary
// directory. The directory is removed once the test is done.
func GetTempDbFile(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", config.DBName+"-test-*")
	require.NoError(t, err)
	EnsureCleanup(t, func() {
		_ = os.RemoveAll(dir)
	})
	return filepath.Join(dir, "table"+config.TableFileExt)
}

// IntDesc returns a descriptor of n int columns named f0, f1, ...
func IntDesc(n int) *tuple.TupleDesc {
	types := make([]tuple.Type, n)
	names := make([]string, n)
	for i := range types {
		types[i] = tuple.IntType
		names[i] = "f" + strconv.Itoa(i)
	}
	return tuple.NewTupleDesc(types, names)
}

// IntTuple builds a tuple of desc from int values.
func IntTuple(t *testing.T, desc *tuple.TupleDesc, values ...int32) *tuple.Tuple {
	t.Helper()
	fields := make([]tuple.Field, len(values))
	for i, v := range values {
		fields[i] = tuple.IntField{Value: v}
	}
	tup, err := tuple.FromFields(desc, fields...)
	require.NoError(t, err)
	return tup
}

// NewPoolAndFile opens a heap file of desc behind a fresh pool of maxPages pages.
func NewPoolAndFile(t *testing.T, desc *tuple.TupleDesc, maxPages int) (*bufferpool.BufferPool, *heap.File) {
	t.Helper()
	bp := bufferpool.New(maxPages, concurrency.NewLockManager(FastWaitPolicy))
	f, err := heap.Open(GetTempDbFile(t), desc, config.Default().PageSize, bp)
	require.NoError(t, err)
	EnsureCleanup(t, func() {
		_ = f.Close()
	})
	bp.RegisterFile(f)
	return bp, f
}

// OpenDatabase opens a database in a temporary folder with fast lock timeouts.
func OpenDatabase(t *testing.T) *database.Database {
	t.Helper()
	cfg := config.Default()
	cfg.LockWait = FastWaitPolicy.Wait
	cfg.LockWaitJitter = FastWaitPolicy.Jitter
	cfg.LockAttempts = FastWaitPolicy.Attempts
	db, err := database.Open(filepath.Join(filepath.Dir(GetTempDbFile(t)), "data"), cfg)
	require.NoError(t, err)
	EnsureCleanup(t, func() {
		_ = db.Close()
	})
	return db
}

// Commit completes t as committed, failing the test on error.
func Commit(t *testing.T, bp *bufferpool.BufferPool, tx *concurrency.Transaction) {
	t.Helper()
	require.NoError(t, bp.TransactionComplete(tx, true))
}
