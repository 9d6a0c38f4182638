package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
)

// resultSet is a query result held in memory.
type resultSet struct {
	Columns []string
	Rows    [][]any
}

// readRows drains rows. Byte slices become strings and times RFC 3339.
func readRows(rows *adapter.Rows) (*resultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &resultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			switch x := v.(type) {
			case []byte:
				values[i] = string(x)
			case time.Time:
				values[i] = x.Format(time.RFC3339Nano)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}

// records returns the rows as column-keyed maps.
func (rs *resultSet) records() []map[string]any {
	out := make([]map[string]any, len(rs.Rows))
	for i, row := range rs.Rows {
		rec := make(map[string]any, len(rs.Columns))
		for j, col := range rs.Columns {
			rec[col] = row[j]
		}
		out[i] = rec
	}
	return out
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// effectiveFormat resolves "auto" to table on a terminal and csv otherwise.
func effectiveFormat(w io.Writer, format string) string {
	if format != "auto" {
		return format
	}
	if isTerminal(w) {
		return "table"
	}
	return "csv"
}

func renderResults(w io.Writer, rs *resultSet, format string) error {
	switch effectiveFormat(w, format) {
	case "json":
		return renderJSON(w, rs.records())
	case "yaml":
		return renderYAML(w, rs.records())
	case "csv":
		newTable(w, rs).RenderCSV()
		return nil
	case "text":
		t := newTable(w, rs)
		t.SetStyle(table.StyleDefault)
		t.Style().Options = table.OptionsNoBordersAndSeparators
		t.Render()
		return nil
	default:
		if len(rs.Rows) == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		newTable(w, rs).Render()
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rs.Rows))
		return nil
	}
}

func newTable(w io.Writer, rs *resultSet) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(rs.Columns))
	for i, col := range rs.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, r := range rs.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}
	return t
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
