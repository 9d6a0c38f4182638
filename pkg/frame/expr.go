package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors returned by frame operations.
var (
	// ErrNeedsMaterialize is returned when an operation would nest a window
	// expression, or filter on one, before the frame is materialized.
	ErrNeedsMaterialize = errors.New("materialize the frame first")
	// ErrUnknownColumn is returned for references to columns a frame lacks.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrColumnConflict is returned when a merge would produce two columns
	// with the same name.
	ErrColumnConflict = errors.New("column conflict")
)

// Expr is a SQL expression over a frame's current source. It records its
// semantic type and whether it contains a window function.
type Expr struct {
	sql      string
	typ      Type
	windowed bool
}

// SQL returns the expression text.
func (e Expr) SQL() string { return e.sql }

// Type returns the semantic type.
func (e Expr) Type() Type { return e.typ }

// Windowed reports whether the expression contains a window function.
func (e Expr) Windowed() bool { return e.windowed }

// As returns e tagged with type t. No cast is emitted.
func (e Expr) As(t Type) Expr {
	e.typ = t
	return e
}

// Format builds an expression from a printf-style format whose %s verbs
// are filled with the SQL of args.
func Format(t Type, format string, args ...Expr) Expr {
	parts := make([]any, len(args))
	windowed := false
	for i, a := range args {
		parts[i] = a.sql
		windowed = windowed || a.windowed
	}
	return Expr{sql: fmt.Sprintf(format, parts...), typ: t, windowed: windowed}
}

// IntLit returns an integer literal.
func IntLit(n int64) Expr { return Expr{sql: strconv.FormatInt(n, 10), typ: Int64} }

// BoolLit returns a boolean literal.
func BoolLit(v bool) Expr { return Expr{sql: strconv.FormatBool(v), typ: Bool} }

// NullOf returns an untyped null tagged with t.
func NullOf(t Type) Expr { return Expr{sql: "null", typ: t} }

// IsNull returns "e is null".
func IsNull(e Expr) Expr { return Format(Bool, "%s is null", e) }

// NotNull returns "e is not null".
func NotNull(e Expr) Expr { return Format(Bool, "%s is not null", e) }

// Compare returns "a op b" for a comparison operator such as "=" or "<=".
func Compare(a Expr, op string, b Expr) Expr {
	return Format(Bool, "%s "+op+" %s", a, b)
}

// And joins conditions with "and".
func And(conds ...Expr) Expr {
	parts := make([]string, len(conds))
	out := Expr{typ: Bool}
	for i, c := range conds {
		parts[i] = "(" + c.sql + ")"
		out.windowed = out.windowed || c.windowed
	}
	out.sql = strings.Join(parts, " and ")
	return out
}

// Case returns "case when cond then then else otherwise end", typed as then.
func Case(cond, then, otherwise Expr) Expr {
	return Format(then.typ, "case when %s then %s else %s end", cond, then, otherwise)
}

// Coalesce returns the first non-null argument, typed as the first.
func Coalesce(first Expr, rest ...Expr) Expr {
	all := append([]Expr{first}, rest...)
	sqls := make([]string, len(all))
	out := Expr{typ: first.typ}
	for i, e := range all {
		sqls[i] = e.sql
		out.windowed = out.windowed || e.windowed
	}
	out.sql = "coalesce(" + strings.Join(sqls, ", ") + ")"
	return out
}

// Order is one ordering term of a window or a sort.
type Order struct {
	Expr Expr
	Desc bool
}

// Asc orders by e ascending.
func Asc(e Expr) Order { return Order{Expr: e} }

// Desc orders by e descending.
func Desc(e Expr) Order { return Order{Expr: e, Desc: true} }

func (o Order) sql() string {
	if o.Desc {
		return o.Expr.sql + " desc"
	}
	return o.Expr.sql
}

func orderList(orders []Order) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = o.sql()
	}
	return strings.Join(parts, ", ")
}

// Window is an OVER clause.
type Window struct {
	PartitionBy []Expr
	OrderBy     []Order
	Frame       string // e.g. "rows between unbounded preceding and current row"
}

func (w Window) sql() string {
	var parts []string
	if len(w.PartitionBy) > 0 {
		cols := make([]string, len(w.PartitionBy))
		for i, p := range w.PartitionBy {
			cols[i] = p.sql
		}
		parts = append(parts, "partition by "+strings.Join(cols, ", "))
	}
	if len(w.OrderBy) > 0 {
		parts = append(parts, "order by "+orderList(w.OrderBy))
	}
	if w.Frame != "" {
		parts = append(parts, w.Frame)
	}
	return "over (" + strings.Join(parts, " ") + ")"
}

// check rejects window definitions built on window expressions.
func (w Window) check(fn string, args ...Expr) error {
	for _, a := range args {
		if a.windowed {
			return fmt.Errorf("%w: argument of %s is a window expression", ErrNeedsMaterialize, fn)
		}
	}
	for _, p := range w.PartitionBy {
		if p.windowed {
			return fmt.Errorf("%w: %s partitions by a window expression", ErrNeedsMaterialize, fn)
		}
	}
	for _, o := range w.OrderBy {
		if o.Expr.windowed {
			return fmt.Errorf("%w: %s orders by a window expression", ErrNeedsMaterialize, fn)
		}
	}
	return nil
}

func windowFunc(t Type, call string, w Window) Expr {
	return Expr{sql: call + " " + w.sql(), typ: t, windowed: true}
}

// Lag returns the value of e on the previous row of the window.
func Lag(e Expr, w Window) (Expr, error) {
	if err := w.check("lag", e); err != nil {
		return Expr{}, err
	}
	return windowFunc(e.typ, "lag("+e.sql+")", w), nil
}

// RowNumber numbers rows within each partition starting at 1.
func RowNumber(w Window) (Expr, error) {
	if err := w.check("row_number"); err != nil {
		return Expr{}, err
	}
	return windowFunc(Int64, "row_number()", w), nil
}

// FirstValue returns e on the first row of the window frame.
func FirstValue(e Expr, w Window) (Expr, error) {
	if err := w.check("first_value", e); err != nil {
		return Expr{}, err
	}
	return windowFunc(e.typ, "first_value("+e.sql+")", w), nil
}

// RunningFrame is the frame of a cumulative window.
const RunningFrame = "rows between unbounded preceding and current row"

// RunningCount counts the rows up to the current one where cond holds.
// The window frame defaults to RunningFrame.
func RunningCount(cond Expr, w Window) (Expr, error) {
	if err := w.check("count", cond); err != nil {
		return Expr{}, err
	}
	if w.Frame == "" {
		w.Frame = RunningFrame
	}
	return windowFunc(Int64, "count(case when "+cond.sql+" then 1 end)", w), nil
}
