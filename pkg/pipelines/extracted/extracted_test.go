package extracted

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

func newBuilder(t *testing.T, d dialect.Dialect) *sqlmodel.Builder {
	t.Helper()
	b, err := sqlmodel.NewBuilder(d)
	require.NoError(t, err)
	return b
}

func TestModel(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		from   string
	}{
		{
			name:   "plain table",
			params: Params{Table: "data"},
			from:   `from "data"`,
		},
		{
			name:   "qualified table",
			params: Params{Table: "raw.data"},
			from:   `from "raw"."data"`,
		},
		{
			name:   "date range",
			params: Params{Table: "data", StartDate: "2024-01-01", EndDate: "2024-01-31"},
			from:   "from \"data\"\nwhere day >= '2024-01-01' and day <= '2024-01-31'",
		},
		{
			name:   "start only",
			params: Params{Table: "data", StartDate: "2024-01-01"},
			from:   "from \"data\"\nwhere day >= '2024-01-01'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Model(newBuilder(t, dialect.Postgres), tt.params)
			require.NoError(t, err)

			sql, err := f.SQL()
			require.NoError(t, err)
			assert.Contains(t, sql, "cookie_id as user_id")
			assert.Contains(t, sql, "value->>'_type' as event_type")
			assert.Contains(t, sql, tt.from)
			assert.NotContains(t, sql, "WITH")
		})
	}
}

func TestModel_Schema(t *testing.T) {
	f, err := Model(newBuilder(t, dialect.Postgres), Params{Table: "data"})
	require.NoError(t, err)
	assert.Equal(t, []frame.Field{
		{Name: "event_id", Type: frame.UUID},
		{Name: "day", Type: frame.Date},
		{Name: "moment", Type: frame.Timestamp},
		{Name: "user_id", Type: frame.UUID},
		{Name: "global_contexts", Type: frame.JSON},
		{Name: "location_stack", Type: frame.JSON},
		{Name: "event_type", Type: frame.String},
		{Name: "stack_event_types", Type: frame.JSON},
	}, f.Schema())
}

func TestModel_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"no table", Params{}},
		{"bad start", Params{Table: "data", StartDate: "01/02/2024"}},
		{"bad end", Params{Table: "data", EndDate: "2024-13-01"}},
		{"reversed", Params{Table: "data", StartDate: "2024-02-01", EndDate: "2024-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Model(newBuilder(t, dialect.Postgres), tt.params)
			assert.Error(t, err)
		})
	}
}

func TestModel_BigQueryUnsupported(t *testing.T) {
	_, err := Model(newBuilder(t, dialect.BigQuery), Params{Table: "data"})
	require.ErrorIs(t, err, dialect.ErrUnsupportedDialect)
	var ude *dialect.UnsupportedDialectError
	require.ErrorAs(t, err, &ude)
	assert.Equal(t, "extracted contexts", ude.Feature)
}
