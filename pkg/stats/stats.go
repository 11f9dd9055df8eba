// Package stats collects table statistics by scanning a heap file through the buffer
// pool, under the same locks as any other reader.
package stats

import (
	"fmt"
	"io"
	"math"

	"heapdb/pkg/concurrency"
	"heapdb/pkg/heap"
	"heapdb/pkg/tuple"

	"github.com/dustin/go-humanize"
)

// IOCostPerPage is the default cost of reading one page.
const IOCostPerPage = 1000

// FieldStats summarizes one column.
type FieldStats struct {
	Name     string
	Type     tuple.Type
	Min, Max int32  // int columns only; meaningless when the table is empty
	Distinct uint64 // approximate
}

// TableStats summarizes a table.
type TableStats struct {
	TableID       int
	NumPages      int
	NumTuples     int
	SizeBytes     int64
	IOCostPerPage float64
	Fields        []FieldStats
}

// Collect scans f under t. The caller completes t.
func Collect(t *concurrency.Transaction, f *heap.File) (*TableStats, error) {
	desc := f.TupleDesc()
	s := &TableStats{TableID: f.ID(), IOCostPerPage: IOCostPerPage, Fields: make([]FieldStats, desc.NumFields())}
	sketches := make([]*sketch, desc.NumFields())
	for i := range s.Fields {
		typ, _ := desc.FieldType(i)
		name, _ := desc.FieldName(i)
		s.Fields[i] = FieldStats{Name: name, Type: typ, Min: math.MaxInt32, Max: math.MinInt32}
		sketches[i] = newSketch()
	}

	it := f.Iterator(t)
	defer it.Close()
	for it.Next() {
		tup := it.Tuple()
		s.NumTuples++
		for i := range s.Fields {
			field := tup.Field(i)
			buf := make([]byte, field.Type().Len())
			field.Serialize(buf)
			sketches[i].add(buf)
			if v, ok := field.(tuple.IntField); ok {
				s.Fields[i].Min = min(s.Fields[i].Min, v.Value)
				s.Fields[i].Max = max(s.Fields[i].Max, v.Value)
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	for i := range s.Fields {
		s.Fields[i].Distinct = min(sketches[i].estimate(), uint64(s.NumTuples))
	}

	var err error
	if s.NumPages, err = f.NumPages(); err != nil {
		return nil, err
	}
	if s.SizeBytes, err = f.Size(); err != nil {
		return nil, err
	}
	return s, nil
}

// ScanCost estimates the cost of a full sequential scan.
func (s *TableStats) ScanCost() float64 {
	return float64(s.NumPages) * s.IOCostPerPage
}

// Cardinality estimates how many tuples a predicate with the given selectivity keeps.
func (s *TableStats) Cardinality(selectivity float64) int {
	return int(float64(s.NumTuples) * selectivity)
}

// EqualitySelectivity estimates the fraction of tuples whose field i equals a given
// value, assuming values are uniformly distributed.
func (s *TableStats) EqualitySelectivity(i int) float64 {
	if i < 0 || i >= len(s.Fields) || s.Fields[i].Distinct == 0 {
		return 0
	}
	return 1 / float64(s.Fields[i].Distinct)
}

// Print writes a human readable summary to w.
func (s *TableStats) Print(w io.Writer) {
	fmt.Fprintf(w, "table %d: %s tuples on %d pages (%s), scan cost %.0f\n",
		s.TableID, humanize.Comma(int64(s.NumTuples)), s.NumPages, humanize.Bytes(uint64(s.SizeBytes)), s.ScanCost())
	for _, fs := range s.Fields {
		if fs.Type == tuple.IntType && s.NumTuples > 0 {
			fmt.Fprintf(w, "  %s %s: min %d, max %d, ~%d distinct\n", fs.Name, fs.Type, fs.Min, fs.Max, fs.Distinct)
			continue
		}
		fmt.Fprintf(w, "  %s %s: ~%d distinct\n", fs.Name, fs.Type, fs.Distinct)
	}
}
