package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"heapdb/pkg/concurrency"
	"heapdb/pkg/config"
	"heapdb/pkg/cursor"
	"heapdb/pkg/database"
	"heapdb/pkg/logger"
	"heapdb/pkg/tuple"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var STARTUP = 100 * time.Millisecond
var MAX_DELAY = 10

var log = logger.For("stress")

// Get delay jitter.
func jitter() time.Duration {
	return time.Duration(rand.IntN(MAX_DELAY)+1) * time.Millisecond
}

// Parse workload
func parseWorkload(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var workload []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		workload = append(workload, scanner.Text())
	}
	return workload, scanner.Err()
}

// Handle workload: feed every n-th line starting at idx to the REPL.
func handleWorkload(c chan string, wg *sync.WaitGroup, workload []string, idx int, n int) {
	defer wg.Done()
	for i := idx; i < len(workload); i += n {
		time.Sleep(jitter())
		c <- workload[i]
	}
}

// runWorkload replays a workload file through the database REPL from n goroutines.
func runWorkload(db *database.Database, path string, n int) error {
	workload, err := parseWorkload(path)
	if err != nil {
		return err
	}
	r := database.DatabaseRepl(db)
	c := make(chan string)
	done := make(chan struct{})
	go func() {
		r.RunChan(c, uuid.New(), "", os.Stdout)
		close(done)
	}()
	time.Sleep(STARTUP)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go handleWorkload(c, &wg, workload, i, n)
	}
	wg.Wait()
	close(c)
	<-done
	return nil
}

var counterDesc = tuple.NewTupleDesc([]tuple.Type{tuple.IntType}, []string{"value"})

// increment reads the single counter tuple, deletes it and inserts value+1, all in t.
func increment(db *database.Database, t *concurrency.Transaction) error {
	it, err := db.Scan(t, "counter")
	if err != nil {
		return err
	}
	tuples, err := cursor.Collect(it)
	if err != nil {
		return err
	}
	if len(tuples) != 1 {
		return errors.Errorf("counter table holds %d tuples", len(tuples))
	}
	old := tuples[0]
	if err := db.Delete(t, old); err != nil {
		return err
	}
	next, err := tuple.FromFields(counterDesc, tuple.IntField{Value: old.Field(0).(tuple.IntField).Value + 1})
	if err != nil {
		return err
	}
	return db.Insert(t, "counter", next)
}

// runCounter has n workers each increment a shared counter k times, retrying aborted
// transactions, then checks no increment was lost.
func runCounter(db *database.Database, n, k, attempts int) error {
	if _, err := db.CreateTable("counter", counterDesc); err != nil {
		return err
	}
	err := db.Run(1, func(t *concurrency.Transaction) error {
		zero, _ := tuple.FromFields(counterDesc, tuple.IntField{Value: 0})
		return db.Insert(t, "counter", zero)
	})
	if err != nil {
		return err
	}
	start := time.Now()
	var g errgroup.Group
	for w := 0; w < n; w++ {
		g.Go(func() error {
			for i := 0; i < k; i++ {
				err := db.Run(attempts, func(t *concurrency.Transaction) error {
					return increment(db, t)
				})
				if err != nil {
					return errors.Wrapf(err, "worker %d increment %d", w, i)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	var final int32
	err = db.Run(attempts, func(t *concurrency.Transaction) error {
		it, err := db.Scan(t, "counter")
		if err != nil {
			return err
		}
		tuples, err := cursor.Collect(it)
		if err != nil {
			return err
		}
		final = tuples[0].Field(0).(tuple.IntField).Value
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("counter = %d after %d increments by %d workers in %v\n", final, n*k, n, time.Since(start))
	if int(final) != n*k {
		return errors.Errorf("lost updates: want %d, got %d", n*k, final)
	}
	return nil
}

// Start the database.
func main() {
	var workloadFlag = flag.String("workload", "", "workload file replayed through the REPL")
	var counterFlag = flag.Bool("counter", false, "run the counter-increment workload")
	var nFlag = flag.Int("n", 1, "number of threads to run (default: 1)")
	var kFlag = flag.Int("k", 20, "increments per thread in counter mode")
	var attemptsFlag = flag.Int("attempts", 100, "runs per increment before giving up on aborts")
	var configFlag = flag.String("config", "", "INI config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logger.Init(logger.Config{Level: cfg.LogLevel})

	dir, err := os.MkdirTemp("", config.DBName+"-stress-*")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)
	db, err := database.Open(filepath.Join(dir, "data"), cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *counterFlag:
		err = runCounter(db, *nFlag, *kFlag, *attemptsFlag)
	case *workloadFlag != "":
		err = runWorkload(db, *workloadFlag, *nFlag)
	default:
		fmt.Println("must specify -counter or -workload <file>")
		return
	}
	if err != nil {
		log.Error(err)
		fmt.Println(err)
		os.Exit(1)
	}
}
