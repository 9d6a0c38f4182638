package sqlmodel

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrMalformedTemplate = errors.New("malformed template")
	ErrDanglingReference = errors.New("dangling reference")
	ErrCyclicGraph       = errors.New("cyclic graph")
)

// Position tracks a location inside a template for error reporting.
type Position struct {
	Offset int // byte offset, 0-based
	Line   int // 1-based
	Column int // 1-based
}

// MalformedTemplateError reports a placeholder/binding mismatch.
type MalformedTemplateError struct {
	Node string // node name, empty while parsing a bare template
	Pos  Position
	Msg  string
}

func (e *MalformedTemplateError) Error() string {
	var b strings.Builder
	b.WriteString("malformed template")
	if e.Node != "" {
		fmt.Fprintf(&b, " in node %q", e.Node)
	}
	if e.Pos.Line > 0 {
		fmt.Fprintf(&b, " at %d:%d", e.Pos.Line, e.Pos.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// Is reports whether target is ErrMalformedTemplate.
func (e *MalformedTemplateError) Is(target error) bool { return target == ErrMalformedTemplate }

func malformed(node, format string, args ...any) *MalformedTemplateError {
	return &MalformedTemplateError{Node: node, Msg: fmt.Sprintf(format, args...)}
}

// DanglingReferenceError reports a reference to a node the graph does not hold.
type DanglingReferenceError struct {
	Node      string
	Reference string
	Target    NodeID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("node %q: reference %q points to unknown node %d", e.Node, e.Reference, e.Target)
}

// Is reports whether target is ErrDanglingReference.
func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// CyclicGraphError reports a cycle found while traversing a graph.
// Builders cannot create cycles; this indicates a corrupted arena.
type CyclicGraphError struct {
	Path []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Is reports whether target is ErrCyclicGraph.
func (e *CyclicGraphError) Is(target error) bool { return target == ErrCyclicGraph }
