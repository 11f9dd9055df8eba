package concurrency

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrEdgeNotFound is returned when removing an edge that is not in the graph.
var ErrEdgeNotFound = errors.New("edge not found")

// WaitsForGraph records which transactions are blocked behind which. Locks are still
// broken by timeouts; the graph is only consulted to tell a real deadlock apart from a
// slow holder when a wait gives up.
type WaitsForGraph struct {
	edges []Edge // one entry per (waiter, holder) pair; duplicates allowed
	mtx   sync.RWMutex
}

// An Edge from Txn1 to Txn2 means Txn1 waits for a page lock held by Txn2.
type Edge struct {
	from *Transaction
	to   *Transaction
}

func NewGraph() *WaitsForGraph {
	return &WaitsForGraph{edges: make([]Edge, 0)}
}

// Add an edge from `from` to `to`. Logically, `from` waits for `to`.
func (g *WaitsForGraph) AddEdge(from *Transaction, to *Transaction) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.edges = append(g.edges, Edge{from: from, to: to})
}

// Remove an edge. Only removes one of these edges if multiple copies exist.
func (g *WaitsForGraph) RemoveEdge(from *Transaction, to *Transaction) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	target := Edge{from: from, to: to}
	for i, e := range g.edges {
		if e == target {
			g.edges[i] = g.edges[len(g.edges)-1]
			g.edges = g.edges[:len(g.edges)-1]
			return nil
		}
	}
	return ErrEdgeNotFound
}

// NumEdges returns the number of recorded edges.
func (g *WaitsForGraph) NumEdges() int {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	return len(g.edges)
}

// Return true if a cycle exists; false otherwise.
func (g *WaitsForGraph) DetectCycle() bool {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	adj := make(map[*Transaction][]*Transaction)
	for _, e := range g.edges {
		adj[e.from] = append(adj[e.from], e.to)
	}
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[*Transaction]int)
	var visit func(t *Transaction) bool
	visit = func(t *Transaction) bool {
		state[t] = onStack
		for _, next := range adj[t] {
			switch state[next] {
			case onStack:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[t] = done
		return false
	}
	for t := range adj {
		if state[t] == unvisited && visit(t) {
			return true
		}
	}
	return false
}
