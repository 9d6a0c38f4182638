// Package extracted builds the canonical event frame from a raw event
// table whose rows carry the event payload as json in a value column.
package extracted

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/pipeline"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// DateLayout is the layout of StartDate and EndDate.
const DateLayout = "2006-01-02"

const postgresTemplate = `select event_id,
    day,
    moment,
    cookie_id as user_id,
    cast(json_extract_path(value, 'global_contexts') as jsonb) as global_contexts,
    cast(json_extract_path(value, 'location_stack') as jsonb) as location_stack,
    value->>'_type' as event_type,
    cast(json_extract_path(value, '_types') as jsonb) as stack_event_types
from {table}{date_range}`

// Params selects the raw table and an optional inclusive day range.
type Params struct {
	Table     string
	StartDate string // empty for no lower bound
	EndDate   string // empty for no upper bound
}

// Model adds a node reading the raw table described by params and returns
// it as a frame with the extracted columns.
func Model(b *sqlmodel.Builder, params Params) (*frame.Frame, error) {
	d := b.Dialect()
	switch d {
	case dialect.Postgres:
	case dialect.BigQuery:
		return nil, &dialect.UnsupportedDialectError{Name: d.String(), Feature: "extracted contexts"}
	default:
		return nil, &dialect.UnsupportedDialectError{Name: d.String()}
	}

	table, err := tableParam(d, params.Table)
	if err != nil {
		return nil, err
	}
	dateRange, err := dateRange(d, params.StartDate, params.EndDate)
	if err != nil {
		return nil, err
	}

	id, err := b.AddNode(sqlmodel.NodeSpec{
		Name:     "extracted_contexts",
		Template: postgresTemplate,
		Params: map[string]sqlmodel.Param{
			"table":      table,
			"date_range": sqlmodel.Raw(dateRange),
		},
	})
	if err != nil {
		return nil, err
	}

	schema, err := pipeline.Schema(d, pipeline.ExtractedColumns()...)
	if err != nil {
		return nil, err
	}
	return frame.FromNode(b, id, schema), nil
}

// tableParam binds a table name. Dotted names are quoted per part.
func tableParam(d dialect.Dialect, table string) (sqlmodel.Param, error) {
	if table == "" {
		return sqlmodel.Param{}, fmt.Errorf("extracted contexts: no table")
	}
	parts := strings.Split(table, ".")
	if len(parts) == 1 {
		return sqlmodel.Ident(table), nil
	}
	for i, p := range parts {
		q, err := dialect.QuoteIdentifier(d, p)
		if err != nil {
			return sqlmodel.Param{}, err
		}
		parts[i] = q
	}
	return sqlmodel.Raw(strings.Join(parts, ".")), nil
}

// dateRange returns a where clause restricting day, or "" when both bounds
// are empty.
func dateRange(d dialect.Dialect, start, end string) (string, error) {
	var conds []string
	for _, bound := range []struct {
		value, op, name string
	}{
		{start, ">=", "start date"},
		{end, "<=", "end date"},
	} {
		if bound.value == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, bound.value); err != nil {
			return "", fmt.Errorf("extracted contexts: invalid %s %q: want YYYY-MM-DD", bound.name, bound.value)
		}
		lit, err := dialect.QuoteString(d, bound.value)
		if err != nil {
			return "", err
		}
		conds = append(conds, "day "+bound.op+" "+lit)
	}
	if start != "" && end != "" && start > end {
		return "", fmt.Errorf("extracted contexts: start date %s is after end date %s", start, end)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\nwhere " + strings.Join(conds, " and "), nil
}
