package database

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"heapdb/pkg/concurrency"
	"heapdb/pkg/cursor"
	"heapdb/pkg/heap"
	"heapdb/pkg/page"
	"heapdb/pkg/repl"
	"heapdb/pkg/stats"
	"heapdb/pkg/tuple"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Creates a DB Repl for the given database. Statements run inside the client's open
// transaction if it has one, and in a transaction of their own otherwise.
func DatabaseRepl(db *Database) *repl.REPL {
	r := repl.NewRepl()
	r.AddCommand("create", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleCreateTable(db, payload)
	}, "Create a table. usage: create table <table> <column:int|string> ...")

	r.AddCommand("tables", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleTables(db, payload)
	}, "List the tables and their columns. usage: tables")

	r.AddCommand("insert", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return "", HandleInsert(db, payload, replConfig.GetAddr())
	}, "Insert a tuple. usage: insert into <table> <value> ...")

	r.AddCommand("delete", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleDelete(db, payload, replConfig.GetAddr())
	}, "Delete matching tuples. usage: delete from <table> where <column> = <value>")

	r.AddCommand("scan", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleScan(db, payload, replConfig.GetAddr())
	}, "Print every tuple of a table. usage: scan <table>")

	r.AddCommand("pretty", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandlePretty(db, payload, replConfig.GetAddr())
	}, "Print the slots of one page. usage: pretty <pagenumber> from <table>")

	r.AddCommand("transaction", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return "", HandleTransaction(db, payload, replConfig.GetAddr())
	}, "Handle transactions. usage: transaction <begin|commit|abort>")

	r.AddCommand("stats", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleStats(db, payload, replConfig.GetAddr())
	}, "Collect statistics for a table. usage: stats <table>")

	r.AddCommand("pool", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandlePool(db, payload)
	}, "Print buffer pool and lock manager state. usage: pool")

	r.AddCommand("checkpoint", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleCheckpoint(db, payload)
	}, "Copy the committed data folder aside. usage: checkpoint")

	return r
}

// withTransaction runs fn in clientId's open transaction, or in a fresh transaction that
// is committed on success. If fn's lock wait aborted the open transaction, the client
// no longer has one.
func withTransaction(db *Database, clientId uuid.UUID, fn func(t *concurrency.Transaction) error) error {
	t, found := db.tm.GetTransaction(clientId)
	if !found {
		return db.Run(1, fn)
	}
	err := fn(t)
	if errors.Is(err, concurrency.ErrTransactionAborted) {
		db.tm.End(clientId)
	}
	return err
}

// Handle create table.
func HandleCreateTable(db *Database, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: create table <table> <column:type> ...
	if len(fields) < 4 || fields[1] != "table" {
		return "", fmt.Errorf("usage: create table <table> <column:int|string> ...")
	}
	desc, err := ParseSchema(fields[3:])
	if err != nil {
		return "", fmt.Errorf("create error: %v", err)
	}
	if _, err = db.CreateTable(fields[2], desc); err != nil {
		return "", fmt.Errorf("create error: %v", err)
	}
	return fmt.Sprintf("table %s created.\n", fields[2]), nil
}

// Handle tables.
func HandleTables(db *Database, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", fmt.Errorf("usage: tables")
	}
	tables := db.GetTables()
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	w := new(strings.Builder)
	for _, name := range names {
		fmt.Fprintf(w, "%s (%s)\n", name, strings.Join(FormatSchema(tables[name].TupleDesc()), ", "))
	}
	return w.String(), nil
}

// parseTuple builds a tuple of desc from its textual field values.
func parseTuple(desc *tuple.TupleDesc, values []string) (*tuple.Tuple, error) {
	if len(values) != desc.NumFields() {
		return nil, errors.Errorf("want %d values, got %d", desc.NumFields(), len(values))
	}
	tup := tuple.New(desc)
	for i, v := range values {
		typ, _ := desc.FieldType(i)
		f, err := tuple.ParseField(typ, v)
		if err != nil {
			return nil, err
		}
		if err = tup.SetField(i, f); err != nil {
			return nil, err
		}
	}
	return tup, nil
}

// Handle insert.
func HandleInsert(db *Database, payload string, clientId uuid.UUID) (err error) {
	fields := strings.Fields(payload)
	// Usage: insert into <table> <value> ...
	if len(fields) < 4 || fields[1] != "into" {
		return fmt.Errorf("usage: insert into <table> <value> ...")
	}
	table, err := db.GetTable(fields[2])
	if err != nil {
		return fmt.Errorf("insert error: %v", err)
	}
	tup, err := parseTuple(table.TupleDesc(), fields[3:])
	if err != nil {
		return fmt.Errorf("insert error: %v", err)
	}
	err = withTransaction(db, clientId, func(t *concurrency.Transaction) error {
		return db.bp.InsertTuple(t, table.ID(), tup)
	})
	if err != nil {
		return fmt.Errorf("insert error: %v", err)
	}
	return nil
}

// Handle delete.
func HandleDelete(db *Database, payload string, clientId uuid.UUID) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: delete from <table> where <column> = <value>
	if len(fields) != 7 || fields[1] != "from" || fields[3] != "where" || fields[5] != "=" {
		return "", fmt.Errorf("usage: delete from <table> where <column> = <value>")
	}
	table, err := db.GetTable(fields[2])
	if err != nil {
		return "", fmt.Errorf("delete error: %v", err)
	}
	desc := table.TupleDesc()
	col, err := desc.FieldIndex(fields[4])
	if err != nil {
		return "", fmt.Errorf("delete error: column %s: %v", fields[4], err)
	}
	typ, _ := desc.FieldType(col)
	want, err := tuple.ParseField(typ, fields[6])
	if err != nil {
		return "", fmt.Errorf("delete error: %v", err)
	}
	deleted := 0
	err = withTransaction(db, clientId, func(t *concurrency.Transaction) error {
		deleted = 0
		matches, err := cursor.Collect(table.Iterator(t))
		if err != nil {
			return err
		}
		for _, tup := range matches {
			if tup.Field(col) != want {
				continue
			}
			if err := db.bp.DeleteTuple(t, tup); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("delete error: %v", err)
	}
	return fmt.Sprintf("%d tuples deleted.\n", deleted), nil
}

// Handle scan.
func HandleScan(db *Database, payload string, clientId uuid.UUID) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: scan <table>
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: scan <table>")
	}
	table, err := db.GetTable(fields[1])
	if err != nil {
		return "", fmt.Errorf("scan error: %v", err)
	}
	var results []*tuple.Tuple
	err = withTransaction(db, clientId, func(t *concurrency.Transaction) error {
		results, err = cursor.Collect(table.Iterator(t))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("scan error: %v", err)
	}
	w := new(strings.Builder)
	printResults(results, w)
	return w.String(), nil
}

// Handle pretty printing.
func HandlePretty(db *Database, payload string, clientId uuid.UUID) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: pretty <pagenumber> from <table>
	if len(fields) != 4 || fields[2] != "from" {
		return "", fmt.Errorf("usage: pretty <pagenumber> from <table>")
	}
	pn, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", fmt.Errorf("pretty error: %v", err)
	}
	table, err := db.GetTable(fields[3])
	if err != nil {
		return "", fmt.Errorf("pretty error: %v", err)
	}
	w := new(strings.Builder)
	err = withTransaction(db, clientId, func(t *concurrency.Transaction) error {
		w.Reset()
		pid := tuple.PageID{TableID: table.ID(), PageNumber: pn}
		pg, err := db.bp.GetPage(t, pid, page.ReadOnly)
		if err != nil {
			return err
		}
		hp, ok := pg.(*heap.HeapPage)
		if !ok {
			return errors.Errorf("%v is not a heap page", pid)
		}
		fmt.Fprintf(w, "page %v: %d of %d slots used\n", pid, hp.NumTuples(), hp.NumSlots())
		slot := 0
		for tup := range hp.Tuples() {
			for ; slot < tup.RecordID().Slot; slot++ {
				fmt.Fprintf(w, "  [%d] -\n", slot)
			}
			fmt.Fprintf(w, "  [%d] (%v)\n", slot, tup)
			slot++
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("pretty error: %v", err)
	}
	return w.String(), nil
}

// Handle transaction.
func HandleTransaction(db *Database, payload string, clientId uuid.UUID) (err error) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		return errors.New("usage: transaction <begin|commit|abort>")
	}
	switch fields[1] {
	case "begin":
		_, err = db.tm.Begin(clientId)
		return err
	case "commit", "abort":
		t, err := db.tm.End(clientId)
		if err != nil {
			return err
		}
		return db.Complete(t, fields[1] == "commit")
	default:
		return errors.New("usage: transaction <begin|commit|abort>")
	}
}

// Handle stats.
func HandleStats(db *Database, payload string, clientId uuid.UUID) (output string, err error) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: stats <table>")
	}
	table, err := db.GetTable(fields[1])
	if err != nil {
		return "", fmt.Errorf("stats error: %v", err)
	}
	var s *stats.TableStats
	err = withTransaction(db, clientId, func(t *concurrency.Transaction) error {
		s, err = stats.Collect(t, table)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stats error: %v", err)
	}
	w := new(strings.Builder)
	s.Print(w)
	return w.String(), nil
}

// Handle pool.
func HandlePool(db *Database, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", fmt.Errorf("usage: pool")
	}
	w := new(strings.Builder)
	fmt.Fprintf(w, "pages: %d cached (%d dirty) of %d, %s each\n",
		db.bp.NumCached(), db.bp.NumDirty(), db.bp.MaxPages(), humanize.IBytes(uint64(db.cfg.PageSize)))
	fmt.Fprintf(w, "locks: %d pages locked, %d waiting", db.lm.NumLocks(), db.lm.NumWaiting())
	if db.lm.Deadlocked() {
		w.WriteString(", deadlock pending timeout")
	}
	fmt.Fprintf(w, "\ntransactions: %d open\n", len(db.tm.Running()))
	return w.String(), nil
}

// Handle checkpoint.
func HandleCheckpoint(db *Database, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", fmt.Errorf("usage: checkpoint")
	}
	dest, err := db.Checkpoint()
	if err != nil {
		return "", fmt.Errorf("checkpoint error: %v", err)
	}
	return fmt.Sprintf("checkpoint written to %s\n", dest), nil
}

// printResults prints all given tuples in a standard format.
func printResults(tuples []*tuple.Tuple, w io.Writer) {
	for _, tup := range tuples {
		tup.Print(w)
		io.WriteString(w, "\n")
	}
}
