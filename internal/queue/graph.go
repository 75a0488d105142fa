// Package queue provides the durable pending-operation store and its
// dependency-aware scheduler.
package queue

import (
	"sort"

	"github.com/plateshare/synckit/internal/errors"
)

// DependencyGraph tracks "from depends on to" edges between operations.
// Nodes are created lazily from edges, so an edge may reference an operation
// id that has not been enqueued yet. The graph is not safe for concurrent
// use; the OperationStore serializes access to it.
type DependencyGraph struct {
	nodes map[string]struct{}
	// edges[from] is the set of ids that from depends on.
	edges map[string]map[string]struct{}
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]struct{}),
		edges: make(map[string]map[string]struct{}),
	}
}

// AddNode registers a node without edges.
func (g *DependencyGraph) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

// HasNode reports whether the node exists.
func (g *DependencyGraph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// Dependencies returns the ids that id depends on, sorted for determinism.
func (g *DependencyGraph) Dependencies(id string) []string {
	deps := g.edges[id]
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	for dep := range deps {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// AddDependency inserts an edge meaning "from depends on to". The edge is
// trial-inserted and checked with a depth-first search; if it would create a
// cycle the graph is left unchanged and false is returned.
func (g *DependencyGraph) AddDependency(from, to string) bool {
	if from == to {
		return false
	}

	g.AddNode(from)
	g.AddNode(to)

	if g.edges[from] == nil {
		g.edges[from] = make(map[string]struct{})
	}
	if _, exists := g.edges[from][to]; exists {
		return true
	}

	g.edges[from][to] = struct{}{}
	if g.hasCycle() {
		delete(g.edges[from], to)
		if len(g.edges[from]) == 0 {
			delete(g.edges, from)
		}
		return false
	}
	return true
}

// hasCycle runs DFS with a recursion stack over the whole graph.
func (g *DependencyGraph) hasCycle() bool {
	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for dep := range g.edges[id] {
			if onStack[dep] {
				return true
			}
			if !visited[dep] && visit(dep) {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for id := range g.nodes {
		if !visited[id] && visit(id) {
			return true
		}
	}
	return false
}

// RemoveOutgoing clears the dependency set of id, leaving edges other nodes
// hold on id intact.
func (g *DependencyGraph) RemoveOutgoing(id string) {
	delete(g.edges, id)
}

// RemoveNode deletes a node and every edge touching it.
func (g *DependencyGraph) RemoveNode(id string) {
	delete(g.nodes, id)
	delete(g.edges, id)
	for from, deps := range g.edges {
		delete(deps, id)
		if len(deps) == 0 {
			delete(g.edges, from)
		}
	}
}

// CompleteNode clears every edge pointing at id, unblocking its dependents.
// The node itself stays registered.
func (g *DependencyGraph) CompleteNode(id string) {
	for from, deps := range g.edges {
		delete(deps, id)
		if len(deps) == 0 {
			delete(g.edges, from)
		}
	}
}

// ExecutionOrder returns a full topological order (Kahn's algorithm) in which
// every operation appears after all of its dependencies. A cycle yields a
// DEPENDENCY_CYCLE error and no partial order; callers must treat that as a
// fatal consistency fault.
func (g *DependencyGraph) ExecutionOrder() ([]string, error) {
	// outdegree counts unmet dependencies per node; dependencies are emitted
	// before their dependents.
	outdegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		outdegree[id] = 0
	}
	for from, deps := range g.edges {
		outdegree[from] = len(deps)
		for to := range deps {
			dependents[to] = append(dependents[to], from)
		}
	}

	// Start from nodes with no outstanding dependencies, sorted so the order
	// is stable across runs.
	var ready []string
	for id, n := range outdegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := dependents[id]
		sort.Strings(next)
		for _, dep := range next {
			outdegree[dep]--
			if outdegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, errors.New(errors.ErrDependencyCycle, "dependency graph contains a cycle")
	}
	return order, nil
}
