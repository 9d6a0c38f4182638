// Package sqlmodel builds content-addressed graphs of SQL templates and
// compiles them into a single statement of chained common table expressions.
//
// A template uses three placeholder depths:
//
//	{name}      parameter, bound when the node is added
//	{{name}}    reference to a child node, bound at compile time
//	{{id}}      the node's own identifier, bound at compile time
//
// Nodes are deduplicated by a hash over their resolved template and the
// hashes of their children, so identical subgraphs are emitted once.
package sqlmodel

import (
	"sort"
	"strconv"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// NodeID indexes a node inside a Builder's arena.
type NodeID int

// NoNode is returned alongside errors.
const NoNode NodeID = -1

// SelfReference is the reserved reference name bound to a node's own
// identifier.
const SelfReference = "id"

// ParamKind selects how a parameter value is rendered into a template.
type ParamKind int

// ParamKind constants.
const (
	ParamIdentifier ParamKind = iota // quoted as an identifier
	ParamLiteral                     // quoted as a string literal
	ParamRaw                         // inserted verbatim
)

func (k ParamKind) String() string {
	switch k {
	case ParamIdentifier:
		return "identifier"
	case ParamLiteral:
		return "literal"
	case ParamRaw:
		return "raw"
	default:
		return "ParamKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Param is a value bound to a depth-1 field.
type Param struct {
	Kind  ParamKind
	Value string
}

// Ident returns an identifier parameter.
func Ident(name string) Param { return Param{Kind: ParamIdentifier, Value: name} }

// Literal returns a string literal parameter.
func Literal(value string) Param { return Param{Kind: ParamLiteral, Value: value} }

// Raw returns a parameter inserted as SQL text.
func Raw(sql string) Param { return Param{Kind: ParamRaw, Value: sql} }

// Int returns an integer parameter.
func Int(n int64) Param { return Raw(strconv.FormatInt(n, 10)) }

// render quotes the value for d and escapes its braces so it survives the
// compile pass as literal text.
func (p Param) render(d dialect.Dialect) (string, error) {
	var out string
	var err error
	switch p.Kind {
	case ParamIdentifier:
		out, err = dialect.QuoteIdentifier(d, p.Value)
	case ParamLiteral:
		out, err = dialect.QuoteString(d, p.Value)
	case ParamRaw:
		out = p.Value
	default:
		return "", malformed("", "unknown parameter kind %s", p.Kind)
	}
	if err != nil {
		return "", err
	}
	return EscapeBraces(out), nil
}

// NodeSpec describes a node to add to a Builder.
type NodeSpec struct {
	// Name labels the node and prefixes its identifier. It does not take
	// part in the content hash.
	Name     string
	Template string
	Params   map[string]Param
	Refs     map[string]NodeID
}

// Node is a finalized, immutable graph node.
type Node struct {
	id         NodeID
	name       string
	template   string
	sql        string // template after the parameter pass
	refs       map[string]NodeID
	refNames   []string
	hash       string
	identifier string
}

// ID returns the node's arena index.
func (n *Node) ID() NodeID { return n.id }

// Name returns the name the node was first added with.
func (n *Node) Name() string { return n.name }

// Template returns the authored template.
func (n *Node) Template() string { return n.template }

// SQL returns the template after parameter binding. References and the
// self identifier are still depth-1 fields.
func (n *Node) SQL() string { return n.sql }

// Hash returns the hex-encoded content hash.
func (n *Node) Hash() string { return n.hash }

// Identifier returns the CTE name assigned to the node.
func (n *Node) Identifier() string { return n.identifier }

// RefNames returns the node's reference names in sorted order.
func (n *Node) RefNames() []string {
	out := make([]string, len(n.refNames))
	copy(out, n.refNames)
	return out
}

// Ref returns the child bound to a reference name.
func (n *Node) Ref(name string) (NodeID, bool) {
	id, ok := n.refs[name]
	return id, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
