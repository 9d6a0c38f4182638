// Package dag provides directed acyclic graph operations over integer node
// ids. It supports cycle detection, topological sorting and grouping nodes
// into dependency levels.
package dag

import (
	"fmt"
	"sort"
)

// Graph is a directed graph where an edge points from a dependency to the
// node that depends on it.
type Graph struct {
	order      []int         // insertion order, drives deterministic output
	present    map[int]bool
	dependents map[int][]int // dependency -> dependents
	deps       map[int][]int // dependent -> dependencies
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		present:    make(map[int]bool),
		dependents: make(map[int][]int),
		deps:       make(map[int][]int),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id int) {
	if g.present[id] {
		return
	}
	g.present[id] = true
	g.order = append(g.order, id)
}

// AddEdge records that dependent depends on dependency.
func (g *Graph) AddEdge(dependency, dependent int) error {
	if !g.present[dependency] {
		return fmt.Errorf("dependency node %d does not exist", dependency)
	}
	if !g.present[dependent] {
		return fmt.Errorf("dependent node %d does not exist", dependent)
	}
	if dependency == dependent {
		return fmt.Errorf("self-loop detected: %d", dependency)
	}

	if !contains(g.dependents[dependency], dependent) {
		g.dependents[dependency] = append(g.dependents[dependency], dependent)
	}
	if !contains(g.deps[dependent], dependency) {
		g.deps[dependent] = append(g.deps[dependent], dependency)
	}
	return nil
}

// Dependents returns the nodes depending on id, in edge insertion order.
func (g *Graph) Dependents(id int) []int { return g.dependents[id] }

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []int {
	out := make([]int, len(g.order))
	copy(out, g.order)
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.order) }

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, d := range g.dependents {
		count += len(d)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the cycle
// path starting and ending at the same node.
func (g *Graph) HasCycle() (bool, []int) {
	visited := make(map[int]bool)
	recStack := make(map[int]bool)
	path := make(map[int]int)

	var cyclePath []int

	var dfs func(id int) bool
	dfs = func(id int) bool {
		visited[id] = true
		recStack[id] = true

		for _, next := range g.dependents[id] {
			if !visited[next] {
				path[next] = id
				if dfs(next) {
					return true
				}
			} else if recStack[next] {
				cyclePath = []int{next}
				for curr := id; curr != next; curr = path[curr] {
					cyclePath = append([]int{curr}, cyclePath...)
				}
				cyclePath = append([]int{next}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// TopologicalSort returns nodes with dependencies before dependents. Among
// unconstrained nodes, insertion order is kept, so a graph built in
// post-order sorts to exactly that order.
func (g *Graph) TopologicalSort() ([]int, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	visited := make(map[int]bool)
	result := make([]int, 0, len(g.order))

	var visit func(id int)
	visit = func(id int) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.deps[id] {
			visit(dep)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Levels groups nodes by dependency depth. Level 0 holds nodes without
// dependencies; a node at level N depends on at least one node at N-1.
// Each level is sorted by id.
func (g *Graph) Levels() ([][]int, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	assigned := make(map[int]int, len(g.order))

	var getLevel func(id int) int
	getLevel = func(id int) int {
		if level, ok := assigned[id]; ok {
			return level
		}
		level := 0
		for _, dep := range g.deps[id] {
			if l := getLevel(dep) + 1; l > level {
				level = l
			}
		}
		assigned[id] = level
		return level
	}

	maxLevel := -1
	for _, id := range g.order {
		if l := getLevel(id); l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]int, maxLevel+1)
	for _, id := range g.order {
		levels[assigned[id]] = append(levels[assigned[id]], id)
	}
	for i := range levels {
		sort.Ints(levels[i])
	}
	return levels, nil
}

// Upstream returns every node id transitively depends on, sorted.
func (g *Graph) Upstream(id int) []int {
	seen := make(map[int]bool)

	var mark func(n int)
	mark = func(n int) {
		for _, dep := range g.deps[n] {
			if !seen[dep] {
				seen[dep] = true
				mark(dep)
			}
		}
	}
	mark(id)

	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Roots returns nodes without dependencies, sorted.
func (g *Graph) Roots() []int {
	var roots []int
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Ints(roots)
	return roots
}

func contains(slice []int, v int) bool {
	for _, s := range slice {
		if s == v {
			return true
		}
	}
	return false
}
