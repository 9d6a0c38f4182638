// Package frame is a small lazy relational front-end over sqlmodel. Every
// operation returns a new Frame; nothing is added to the graph until a
// frame is materialized, merged or compiled.
//
// A frame's columns are expressions over its source node. Window
// expressions can be assigned freely, but filtering on them or using them
// inside another window first requires Materialize, which pins the current
// columns into a node of their own.
package frame

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// Field is a column name and its semantic type.
type Field struct {
	Name string
	Type Type
}

type column struct {
	name string
	expr Expr
}

// Frame is an immutable, lazily evaluated relation.
type Frame struct {
	b     *sqlmodel.Builder
	from  sqlmodel.NodeID
	cols  []column
	where []Expr
	order []Order
	dirty bool // columns or rows differ from the source node
}

// FromNode wraps an existing node whose output columns are schema.
func FromNode(b *sqlmodel.Builder, id sqlmodel.NodeID, schema []Field) *Frame {
	f := &Frame{b: b, from: id}
	for _, fld := range schema {
		f.cols = append(f.cols, column{name: fld.Name, expr: f.plain(fld.Name, fld.Type)})
	}
	return f
}

// FromTable reads the given columns of a table. A dotted name is split
// into schema and table.
func FromTable(b *sqlmodel.Builder, table string, schema []Field) (*Frame, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("table %s: no columns", table)
	}
	d := b.Dialect()

	parts := strings.Split(table, ".")
	for i, p := range parts {
		q, err := dialect.QuoteIdentifier(d, p)
		if err != nil {
			return nil, err
		}
		parts[i] = q
	}

	names := make([]string, len(schema))
	for i, fld := range schema {
		q, err := dialect.QuoteIdentifier(d, fld.Name)
		if err != nil {
			return nil, err
		}
		names[i] = q
	}

	id, err := b.AddNode(sqlmodel.NodeSpec{
		Name:     tableNodeName(table),
		Template: "select {columns} from {table}",
		Params: map[string]sqlmodel.Param{
			"columns": sqlmodel.Raw(strings.Join(names, ", ")),
			"table":   sqlmodel.Raw(strings.Join(parts, ".")),
		},
	})
	if err != nil {
		return nil, err
	}
	return FromNode(b, id, schema), nil
}

// FromMetadata reads every column of a table described by adapter metadata,
// typing columns with TypeFromDatabase.
func FromMetadata(b *sqlmodel.Builder, meta *adapter.Metadata) (*Frame, error) {
	schema := make([]Field, len(meta.Columns))
	for i, c := range meta.Columns {
		schema[i] = Field{Name: c.Name, Type: TypeFromDatabase(c.Type)}
	}
	table := meta.Name
	if meta.Schema != "" {
		table = meta.Schema + "." + meta.Name
	}
	return FromTable(b, table, schema)
}

// Builder returns the graph builder the frame adds nodes to.
func (f *Frame) Builder() *sqlmodel.Builder { return f.b }

// Dialect returns the builder's dialect.
func (f *Frame) Dialect() dialect.Dialect { return f.b.Dialect() }

// Schema returns the frame's columns in order.
func (f *Frame) Schema() []Field {
	out := make([]Field, len(f.cols))
	for i, c := range f.cols {
		out[i] = Field{Name: c.name, Type: c.expr.typ}
	}
	return out
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.name
	}
	return out
}

// Has reports whether the frame has a column called name.
func (f *Frame) Has(name string) bool { return f.index(name) >= 0 }

// Col returns the expression defining a column.
func (f *Frame) Col(name string) (Expr, error) {
	i := f.index(name)
	if i < 0 {
		return Expr{}, fmt.Errorf("%w %q", ErrUnknownColumn, name)
	}
	return f.cols[i].expr, nil
}

// StringLit returns a string literal quoted for the frame's dialect.
func (f *Frame) StringLit(s string) Expr {
	// builders only exist for valid dialects, so quoting cannot fail
	q, _ := dialect.QuoteString(f.Dialect(), s)
	return Expr{sql: q, typ: String}
}

// Cast converts e to t.
func (f *Frame) Cast(e Expr, t Type) (Expr, error) {
	name, err := t.SQLType(f.Dialect())
	if err != nil {
		return Expr{}, err
	}
	sql, err := dialect.Cast(f.Dialect(), e.sql, name)
	if err != nil {
		return Expr{}, err
	}
	return Expr{sql: sql, typ: t, windowed: e.windowed}, nil
}

// SecondsBetween returns the seconds elapsed from earlier to later.
func (f *Frame) SecondsBetween(later, earlier Expr) (Expr, error) {
	sql, err := dialect.SecondsBetween(f.Dialect(), later.sql, earlier.sql)
	if err != nil {
		return Expr{}, err
	}
	return Expr{sql: sql, typ: Float64, windowed: later.windowed || earlier.windowed}, nil
}

// Concat concatenates parts as strings.
func (f *Frame) Concat(parts ...Expr) (Expr, error) {
	sqls := make([]string, len(parts))
	out := Expr{typ: String}
	for i, p := range parts {
		sqls[i] = p.sql
		out.windowed = out.windowed || p.windowed
	}
	sql, err := dialect.Concat(f.Dialect(), sqls...)
	if err != nil {
		return Expr{}, err
	}
	out.sql = sql
	return out, nil
}

// Assign sets a column to e, replacing an existing column in place or
// appending a new one.
func (f *Frame) Assign(name string, e Expr) (*Frame, error) {
	if name == "" {
		return nil, fmt.Errorf("assign: empty column name")
	}
	out := f.clone()
	out.dirty = true
	if i := out.index(name); i >= 0 {
		out.cols[i].expr = e
		return out, nil
	}
	out.cols = append(out.cols, column{name: name, expr: e})
	return out, nil
}

// Select keeps the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := f.clone()
	out.dirty = true
	out.cols = out.cols[:0:0]
	for _, name := range names {
		i := f.index(name)
		if i < 0 {
			return nil, fmt.Errorf("select: %w %q", ErrUnknownColumn, name)
		}
		out.cols = append(out.cols, f.cols[i])
	}
	return out, nil
}

// Drop removes the named columns.
func (f *Frame) Drop(names ...string) (*Frame, error) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		if !f.Has(name) {
			return nil, fmt.Errorf("drop: %w %q", ErrUnknownColumn, name)
		}
		drop[name] = true
	}
	keep := make([]string, 0, len(f.cols))
	for _, c := range f.cols {
		if !drop[c.name] {
			keep = append(keep, c.name)
		}
	}
	return f.Select(keep...)
}

// Filter keeps rows where cond holds. Neither cond nor any column of the
// frame may be a window expression: rows are filtered before windows are
// evaluated, so the result would silently change.
func (f *Frame) Filter(cond Expr) (*Frame, error) {
	if cond.windowed {
		return nil, fmt.Errorf("%w: filter condition is a window expression", ErrNeedsMaterialize)
	}
	for _, c := range f.cols {
		if c.expr.windowed {
			return nil, fmt.Errorf("%w: column %q is a window expression", ErrNeedsMaterialize, c.name)
		}
	}
	out := f.clone()
	out.dirty = true
	out.where = append(out.where, cond)
	return out, nil
}

// DropNA removes rows where any of the named columns is null.
func (f *Frame) DropNA(names ...string) (*Frame, error) {
	out := f
	for _, name := range names {
		col, err := f.Col(name)
		if err != nil {
			return nil, fmt.Errorf("dropna: %w", err)
		}
		if out, err = out.Filter(NotNull(col)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Sort orders the final query. Materialize discards it.
func (f *Frame) Sort(orders ...Order) *Frame {
	out := f.clone()
	out.dirty = true
	out.order = append(out.order, orders...)
	return out
}

// Materialize pins the frame into a node called name and returns a frame
// whose columns are plain references to that node.
func (f *Frame) Materialize(name string) (*Frame, error) {
	if !f.dirty {
		return f, nil
	}
	id, err := f.node(name, false)
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", name, err)
	}
	return FromNode(f.b, id, f.Schema()), nil
}

// Node returns a node computing the frame, adding one named "result" if
// the frame has pending operations.
func (f *Frame) Node() (sqlmodel.NodeID, error) {
	if !f.dirty {
		return f.from, nil
	}
	return f.node("result", true)
}

// SQL compiles the frame into a single statement.
func (f *Frame) SQL() (string, error) {
	id, err := f.Node()
	if err != nil {
		return "", err
	}
	return f.b.Compile(id)
}

func (f *Frame) node(name string, withOrder bool) (sqlmodel.NodeID, error) {
	d := f.Dialect()
	items := make([]string, len(f.cols))
	for i, c := range f.cols {
		q, err := dialect.QuoteIdentifier(d, c.name)
		if err != nil {
			return sqlmodel.NoNode, err
		}
		if c.expr.sql == q {
			items[i] = q
		} else {
			items[i] = c.expr.sql + " as " + q
		}
	}

	var where, order string
	if len(f.where) > 0 {
		where = "\nwhere " + And(f.where...).sql
	}
	if withOrder && len(f.order) > 0 {
		order = "\norder by " + orderList(f.order)
	}

	return f.b.AddNode(sqlmodel.NodeSpec{
		Name:     name,
		Template: "select\n  {columns}\nfrom {{from}}{where}{order}",
		Params: map[string]sqlmodel.Param{
			"columns": sqlmodel.Raw(strings.Join(items, ",\n  ")),
			"where":   sqlmodel.Raw(where),
			"order":   sqlmodel.Raw(order),
		},
		Refs: map[string]sqlmodel.NodeID{"from": f.from},
	})
}

// tableNodeName derives a node name from a table reference by replacing
// characters not allowed in node names.
func tableNodeName(table string) string {
	var sb strings.Builder
	for i, r := range table {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('t')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "source"
	}
	return sb.String()
}

func (f *Frame) plain(name string, t Type) Expr {
	q, _ := dialect.QuoteIdentifier(f.Dialect(), name)
	return Expr{sql: q, typ: t}
}

func (f *Frame) index(name string) int {
	for i, c := range f.cols {
		if c.name == name {
			return i
		}
	}
	return -1
}

func (f *Frame) clone() *Frame {
	out := *f
	out.cols = append([]column(nil), f.cols...)
	out.where = append([]Expr(nil), f.where...)
	out.order = append([]Order(nil), f.order...)
	return &out
}
