package sqlmodel

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/sqlmodels/internal/dag"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// Graph is the immutable set of nodes reachable from a root, in dependency
// order. It is safe for concurrent use.
type Graph struct {
	dialect dialect.Dialect
	root    *Node
	order   []*Node // dependencies first, root last
	byID    map[NodeID]*Node
	levels  [][]*Node
	deps    *dag.Graph
}

// Freeze collects the nodes reachable from root. References are followed in
// sorted name order, so the result depends only on the graph's structure.
func (b *Builder) Freeze(root NodeID) (*Graph, error) {
	nodes := b.snapshot()
	if root < 0 || int(root) >= len(nodes) {
		return nil, &DanglingReferenceError{Reference: "root", Target: root}
	}

	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[NodeID]int)
	var stack []string
	dg := dag.NewGraph()

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		n := nodes[id]
		switch state[id] {
		case done:
			return nil
		case inProgress:
			path := append([]string{}, stack...)
			return &CyclicGraphError{Path: append(path, n.identifier)}
		}
		state[id] = inProgress
		stack = append(stack, n.identifier)

		for _, name := range n.refNames {
			child := n.refs[name]
			if child < 0 || int(child) >= len(nodes) {
				return &DanglingReferenceError{Node: n.name, Reference: name, Target: child}
			}
			if err := visit(child); err != nil {
				return err
			}
		}

		dg.AddNode(int(id))
		for _, name := range n.refNames {
			if err := dg.AddEdge(int(n.refs[name]), int(id)); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}

	sorted, err := dg.TopologicalSort()
	if err != nil {
		return nil, err
	}
	ids, err := dg.Levels()
	if err != nil {
		return nil, err
	}

	g := &Graph{dialect: b.dialect, root: nodes[root], byID: make(map[NodeID]*Node, len(sorted)), deps: dg}
	for _, id := range sorted {
		g.order = append(g.order, nodes[id])
		g.byID[NodeID(id)] = nodes[id]
	}
	for _, level := range ids {
		row := make([]*Node, len(level))
		for i, id := range level {
			row[i] = nodes[id]
		}
		g.levels = append(g.levels, row)
	}

	b.logger.Debug("froze graph", "root", g.root.name, "nodes", dg.NodeCount(), "edges", dg.EdgeCount(), "levels", len(g.levels))
	return g, nil
}

// Compile freezes the graph under root and returns its SQL.
func (b *Builder) Compile(root NodeID) (string, error) {
	g, err := b.Freeze(root)
	if err != nil {
		return "", err
	}
	sql, err := g.SQL()
	if err != nil {
		return "", err
	}
	b.logger.Debug("compiled graph", "root", g.root.name, "ctes", len(g.order)-1, "bytes", len(sql))
	return sql, nil
}

// Root returns the node the graph was frozen from.
func (g *Graph) Root() *Node { return g.root }

// Dialect returns the dialect the graph's parameters were quoted for.
func (g *Graph) Dialect() dialect.Dialect { return g.dialect }

// Nodes returns the graph's nodes with dependencies first and the root last.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out
}

// Node returns the node with the given id if it is part of the graph.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return g.deps.NodeCount() }

// EdgeCount returns the number of distinct references between nodes of the
// graph.
func (g *Graph) EdgeCount() int { return g.deps.EdgeCount() }

// Sources returns the nodes that reference nothing, ordered by id.
func (g *Graph) Sources() []*Node { return g.lookup(g.deps.Roots()) }

// Upstream returns every node id transitively references, ordered by id.
func (g *Graph) Upstream(id NodeID) []*Node { return g.lookup(g.deps.Upstream(int(id))) }

// Dependents returns the nodes of the graph that reference id directly.
func (g *Graph) Dependents(id NodeID) []*Node { return g.lookup(g.deps.Dependents(int(id))) }

func (g *Graph) lookup(ids []int) []*Node {
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.byID[NodeID(id)]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Levels groups nodes by dependency depth, starting with nodes that
// reference nothing.
func (g *Graph) Levels() [][]*Node {
	out := make([][]*Node, len(g.levels))
	for i, level := range g.levels {
		out[i] = append([]*Node(nil), level...)
	}
	return out
}

var leadingWith = regexp.MustCompile(`(?i)^\s*with\b`)

// SQL renders the graph as a single statement. Every node except the root
// becomes a CTE, emitted once in dependency order; the root's SQL is the
// final query. A root that starts with its own WITH clause is emitted as a
// CTE too and selected from.
func (g *Graph) SQL() (string, error) {
	ctes := make([]string, 0, len(g.order))
	for _, n := range g.order[:len(g.order)-1] {
		cte, err := g.cte(n)
		if err != nil {
			return "", err
		}
		ctes = append(ctes, cte)
	}

	final, err := g.resolve(g.root)
	if err != nil {
		return "", err
	}
	if len(ctes) == 0 {
		return final, nil
	}
	if leadingWith.MatchString(final) {
		cte, err := g.cte(g.root)
		if err != nil {
			return "", err
		}
		ctes = append(ctes, cte)
		id, err := dialect.QuoteIdentifier(g.dialect, g.root.identifier)
		if err != nil {
			return "", err
		}
		final = "SELECT * FROM " + id
	}
	return "WITH " + strings.Join(ctes, ",\n") + "\n" + final, nil
}

func (g *Graph) cte(n *Node) (string, error) {
	sql, err := g.resolve(n)
	if err != nil {
		return "", err
	}
	id, err := dialect.QuoteIdentifier(g.dialect, n.identifier)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s AS (\n%s\n)", id, sql), nil
}

// resolve runs the compile pass over a node: references become quoted
// child identifiers and {{id}} becomes the node's own identifier.
func (g *Graph) resolve(n *Node) (string, error) {
	bindings := make(map[string]string, len(n.refs)+1)
	bindings[SelfReference] = n.identifier
	for _, name := range n.refNames {
		child, ok := g.byID[n.refs[name]]
		if !ok {
			return "", &DanglingReferenceError{Node: n.name, Reference: name, Target: n.refs[name]}
		}
		id, err := dialect.QuoteIdentifier(g.dialect, child.identifier)
		if err != nil {
			return "", err
		}
		bindings[name] = id
	}
	sql, err := Substitute(n.sql, bindings)
	if err != nil {
		return "", inNode(err, n.name)
	}
	return sql, nil
}
