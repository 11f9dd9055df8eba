// Package database ties the storage engine together: one lock manager, one buffer pool
// and the heap files of every table in a data folder.
package database

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"heapdb/pkg/bufferpool"
	"heapdb/pkg/concurrency"
	"heapdb/pkg/config"
	"heapdb/pkg/heap"
	"heapdb/pkg/logger"
	"heapdb/pkg/tuple"

	"github.com/otiai10/copy"
	"github.com/pkg/errors"
)

var (
	ErrTableExists   = errors.New("table already exists")
	ErrTableNotFound = errors.New("table not found")
	ErrBadTableName  = errors.New("table name must be alphanumeric")
)

var log = logger.For("database")

var tableNameRegexp = regexp.MustCompile(`^\w+$`)

const maxBackoffSteps = 8

// Database is one engine instance rooted at a data folder.
type Database struct {
	basepath string
	cfg      config.Engine
	lm       *concurrency.LockManager
	bp       *bufferpool.BufferPool
	tm       *concurrency.TransactionManager
	catalog  *catalog
	tables   map[string]*heap.File
	mtx      sync.Mutex   // guards tables and catalog
	ckptMtx  sync.RWMutex // commits share it; Checkpoint takes it exclusively
}

// Opens a database given a data folder, reopening every table in its catalog.
func Open(folder string, cfg config.Engine) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(folder, 0775); err != nil {
		return nil, err
	}
	cat, err := loadCatalog(folder)
	if err != nil {
		return nil, err
	}
	lm := concurrency.NewLockManager(concurrency.WaitPolicy{
		Wait:     cfg.LockWait,
		Jitter:   cfg.LockWaitJitter,
		Attempts: cfg.LockAttempts,
	})
	db := &Database{
		basepath: folder,
		cfg:      cfg,
		lm:       lm,
		bp:       bufferpool.New(cfg.MaxPages, lm),
		tm:       concurrency.NewTransactionManager(),
		catalog:  cat,
		tables:   make(map[string]*heap.File),
	}
	for _, name := range cat.tables() {
		desc, err := cat.desc(name)
		if err != nil {
			db.Close()
			return nil, err
		}
		if _, err := db.openTable(name, desc); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.Infof("opened %s with %d tables", folder, len(db.tables))
	return db, nil
}

// openTable opens the heap file of name and registers it with the pool.
// db.mtx must be held or db not yet shared.
func (db *Database) openTable(name string, desc *tuple.TupleDesc) (*heap.File, error) {
	f, err := heap.Open(db.tablePath(name), desc, db.cfg.PageSize, db.bp)
	if err != nil {
		return nil, err
	}
	db.bp.RegisterFile(f)
	db.tables[name] = f
	return f, nil
}

func (db *Database) tablePath(name string) string {
	return filepath.Join(db.basepath, name+config.TableFileExt)
}

// Close aborts running transactions, then closes each table in the database.
func (db *Database) Close() (err error) {
	for _, t := range db.tm.Running() {
		if _, endErr := db.tm.End(t.ID()); endErr != nil {
			continue
		}
		if abortErr := db.bp.TransactionComplete(t, false); abortErr != nil {
			log.Warnf("abort of %v on close: %v", t, abortErr)
			if err == nil {
				err = abortErr
			}
		}
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	for name, table := range db.tables {
		db.bp.UnregisterFile(table.ID())
		if curErr := table.Close(); err == nil {
			err = curErr
		}
		delete(db.tables, name)
	}
	log.Infof("closed %s", db.basepath)
	return err
}

// Create a table with the given schema.
func (db *Database) CreateTable(name string, desc *tuple.TupleDesc) (*heap.File, error) {
	if !tableNameRegexp.MatchString(name) {
		return nil, errors.Wrapf(ErrBadTableName, "%q", name)
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	if _, ok := db.tables[name]; ok {
		return nil, errors.Wrapf(ErrTableExists, "%s", name)
	}
	if _, err := os.Stat(db.tablePath(name)); err == nil {
		return nil, errors.Wrapf(ErrTableExists, "%s has a file but no catalog entry", name)
	}
	f, err := db.openTable(name, desc)
	if err != nil {
		return nil, err
	}
	if err := db.catalog.add(name, desc); err != nil {
		db.bp.UnregisterFile(f.ID())
		delete(db.tables, name)
		if closeErr := f.Close(); closeErr != nil {
			log.Warnf("close %s after failed create: %v", f.Path(), closeErr)
		}
		if rmErr := os.Remove(f.Path()); rmErr != nil {
			log.Warnf("remove %s after failed create: %v", f.Path(), rmErr)
		}
		return nil, errors.Wrapf(err, "create %s", name)
	}
	return f, nil
}

// Get a table by its name.
func (db *Database) GetTable(name string) (*heap.File, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	f, ok := db.tables[name]
	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "%s", name)
	}
	return f, nil
}

// Get a database's tables.
func (db *Database) GetTables() map[string]*heap.File {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	tables := make(map[string]*heap.File, len(db.tables))
	for name, f := range db.tables {
		tables[name] = f
	}
	return tables
}

// Returns the basepath of the database.
func (db *Database) GetBasePath() string {
	return db.basepath
}

// Config returns the settings the database was opened with.
func (db *Database) Config() config.Engine {
	return db.cfg
}

func (db *Database) BufferPool() *bufferpool.BufferPool {
	return db.bp
}

func (db *Database) LockManager() *concurrency.LockManager {
	return db.lm
}

func (db *Database) TransactionManager() *concurrency.TransactionManager {
	return db.tm
}

// Begin starts a transaction that is not bound to a REPL client.
func (db *Database) Begin() *concurrency.Transaction {
	return concurrency.NewTransaction()
}

// Run executes fn in a new transaction and commits it. When a lock wait aborts the
// transaction, fn is retried in a fresh one after a randomized backoff, up to
// maxAttempts runs in total. Any other error from fn aborts the transaction and is
// returned.
func (db *Database) Run(maxAttempts int, fn func(t *concurrency.Transaction) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		t := db.Begin()
		if err = fn(t); err == nil {
			return db.Complete(t, true)
		}
		if cerr := db.Complete(t, false); cerr != nil {
			log.Warnf("abort of %v: %v", t, cerr)
		}
		if !errors.Is(err, concurrency.ErrTransactionAborted) {
			return err
		}
		log.Debugf("transaction %v aborted, attempt %d of %d", t, attempt+1, maxAttempts)
		db.backoff(attempt)
	}
	return err
}

// backoff sleeps for a random duration that grows with the number of failed attempts,
// so transactions that aborted each other do not collide again right away.
func (db *Database) backoff(attempt int) {
	window := int64(db.cfg.LockWait) * int64(min(attempt+1, maxBackoffSteps))
	if window > 0 {
		time.Sleep(time.Duration(rand.Int64N(window)))
	}
}

// Complete commits or aborts t.
func (db *Database) Complete(t *concurrency.Transaction, commit bool) error {
	if commit {
		db.ckptMtx.RLock()
		defer db.ckptMtx.RUnlock()
	}
	return db.bp.TransactionComplete(t, commit)
}

// Insert adds tup to the named table on behalf of t.
func (db *Database) Insert(t *concurrency.Transaction, table string, tup *tuple.Tuple) error {
	f, err := db.GetTable(table)
	if err != nil {
		return err
	}
	return db.bp.InsertTuple(t, f.ID(), tup)
}

// Delete removes tup, located by its record id, on behalf of t.
func (db *Database) Delete(t *concurrency.Transaction, tup *tuple.Tuple) error {
	return db.bp.DeleteTuple(t, tup)
}

// Scan returns an iterator over the named table read under t.
func (db *Database) Scan(t *concurrency.Transaction, table string) (*heap.Iterator, error) {
	f, err := db.GetTable(table)
	if err != nil {
		return nil, err
	}
	return f.Iterator(t), nil
}

// CheckpointPath returns the folder Checkpoint copies the data folder into.
func (db *Database) CheckpointPath() string {
	return filepath.Clean(db.basepath) + config.CheckpointDirSuffix
}

// Checkpoint copies the data folder to CheckpointPath. Commits write their pages
// before returning, so the files on disk always hold exactly the committed state;
// commits are held off while the copy runs.
func (db *Database) Checkpoint() (string, error) {
	db.ckptMtx.Lock()
	defer db.ckptMtx.Unlock()
	dest := db.CheckpointPath()
	if err := os.RemoveAll(dest); err != nil {
		return "", err
	}
	if err := copy.Copy(db.basepath, dest); err != nil {
		return "", errors.Wrapf(err, "checkpoint to %s", dest)
	}
	log.Infof("checkpoint written to %s", dest)
	return dest, nil
}
