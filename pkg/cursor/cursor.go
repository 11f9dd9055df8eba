package cursor

import (
	"heapdb/pkg/tuple"
)

// Interface for a cursor that traverses a table.
type Cursor interface {
	Next() bool          // Moves the cursor to the next tuple; false at the end or on error
	Tuple() *tuple.Tuple // Returns the tuple at the position of the cursor
	Err() error          // Returns the error that stopped the cursor, if any
	Rewind()             // Moves the cursor back before the first tuple
	Close()              // Called to indicate that the cursor is done being used
}

// Collect drains c into a slice and closes it.
func Collect(c Cursor) ([]*tuple.Tuple, error) {
	defer c.Close()
	var out []*tuple.Tuple
	for c.Next() {
		out = append(out, c.Tuple())
	}
	return out, c.Err()
}
