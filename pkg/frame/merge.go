package frame

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// JoinKind selects the join used by Merge.
type JoinKind int

// Join kinds.
const (
	LeftJoin JoinKind = iota
	InnerJoin
)

func (k JoinKind) String() string {
	switch k {
	case LeftJoin:
		return "left"
	case InnerJoin:
		return "inner"
	default:
		return fmt.Sprintf("JoinKind(%d)", int(k))
	}
}

// Merge joins right onto f on equal values of the on columns and pins the
// result into a node called name. Both frames must be materialized. The
// output has f's columns followed by right's non-key columns; any other
// shared column name is an ErrColumnConflict.
func (f *Frame) Merge(right *Frame, on []string, how JoinKind, name string) (*Frame, error) {
	if f.dirty || right.dirty {
		return nil, fmt.Errorf("merge %s: %w: both sides must be materialized", name, ErrNeedsMaterialize)
	}
	if f.b != right.b {
		return nil, fmt.Errorf("merge %s: frames belong to different builders", name)
	}
	if len(on) == 0 {
		return nil, fmt.Errorf("merge %s: no join columns", name)
	}
	if how != LeftJoin && how != InnerJoin {
		return nil, fmt.Errorf("merge %s: unsupported join %s", name, how)
	}

	d := f.Dialect()
	q := func(col string) string {
		s, _ := dialect.QuoteIdentifier(d, col)
		return s
	}

	keys := make(map[string]bool, len(on))
	conds := make([]string, len(on))
	for i, k := range on {
		if !f.Has(k) || !right.Has(k) {
			return nil, fmt.Errorf("merge %s: %w %q on both sides", name, ErrUnknownColumn, k)
		}
		keys[k] = true
		conds[i] = fmt.Sprintf("l.%s = r.%s", q(k), q(k))
	}

	schema := f.Schema()
	items := make([]string, 0, len(f.cols)+len(right.cols))
	for _, c := range f.cols {
		items = append(items, "l."+q(c.name))
	}
	for _, c := range right.cols {
		if keys[c.name] {
			continue
		}
		if f.Has(c.name) {
			return nil, fmt.Errorf("merge %s: %w: %q exists on both sides", name, ErrColumnConflict, c.name)
		}
		items = append(items, "r."+q(c.name))
		schema = append(schema, Field{Name: c.name, Type: c.expr.typ})
	}

	id, err := f.b.AddNode(sqlmodel.NodeSpec{
		Name:     name,
		Template: "select\n  {columns}\nfrom {{left}} as l\n{join} join {{right}} as r\n  on {on}",
		Params: map[string]sqlmodel.Param{
			"columns": sqlmodel.Raw(strings.Join(items, ",\n  ")),
			"join":    sqlmodel.Raw(how.String()),
			"on":      sqlmodel.Raw(strings.Join(conds, " and ")),
		},
		Refs: map[string]sqlmodel.NodeID{"left": f.from, "right": right.from},
	})
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", name, err)
	}
	return FromNode(f.b, id, schema), nil
}

// DropDuplicates keeps one row per distinct combination of the subset
// columns: the first row under keep. The ranking is pinned into a node
// called name.
func (f *Frame) DropDuplicates(subset []string, keep []Order, name string) (*Frame, error) {
	const rankCol = "__row_rank"

	partition := make([]Expr, len(subset))
	for i, col := range subset {
		e, err := f.Col(col)
		if err != nil {
			return nil, fmt.Errorf("drop duplicates: %w", err)
		}
		partition[i] = e
	}

	rank, err := RowNumber(Window{PartitionBy: partition, OrderBy: keep})
	if err != nil {
		return nil, fmt.Errorf("drop duplicates: %w", err)
	}
	ranked, err := f.Assign(rankCol, rank)
	if err != nil {
		return nil, err
	}
	if ranked, err = ranked.Materialize(name); err != nil {
		return nil, err
	}
	rc, err := ranked.Col(rankCol)
	if err != nil {
		return nil, err
	}
	first, err := ranked.Filter(Compare(rc, "=", IntLit(1)))
	if err != nil {
		return nil, err
	}
	return first.Drop(rankCol)
}
