package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlmodels/internal/testutil"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/pipeline"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

func newBuilder(t *testing.T, d dialect.Dialect) *sqlmodel.Builder {
	t.Helper()
	b, err := sqlmodel.NewBuilder(d,
		sqlmodel.WithLogger(testutil.NewTestLogger(t)),
		sqlmodel.WithIdentifierFunc(func(name, _ string) string { return name }),
	)
	require.NoError(t, err)
	return b
}

func eventsFrame(t *testing.T, b *sqlmodel.Builder, cols ...pipeline.Column) *frame.Frame {
	t.Helper()
	if len(cols) == 0 {
		cols = []pipeline.Column{pipeline.EventID, pipeline.UserID, pipeline.Moment, pipeline.GlobalContexts}
	}
	schema, err := pipeline.Schema(b.Dialect(), cols...)
	require.NoError(t, err)
	f, err := frame.FromTable(b, "events", schema)
	require.NoError(t, err)
	return f
}

func compile(t *testing.T, f *frame.Frame) string {
	t.Helper()
	sql, err := f.SQL()
	require.NoError(t, err)
	return sql
}

func TestResolveIdentities_Postgres(t *testing.T) {
	b := newBuilder(t, dialect.Postgres)
	out, err := ResolveIdentities(eventsFrame(t, b), Params{})
	require.NoError(t, err)

	assert.Equal(t, []frame.Field{
		{Name: "event_id", Type: frame.UUID},
		{Name: "user_id", Type: frame.String},
		{Name: "moment", Type: frame.Timestamp},
		{Name: "global_contexts", Type: frame.JSON},
		{Name: "identity_user_id", Type: frame.String},
	}, out.Schema())

	sql := compile(t, out)
	for _, cte := range []string{"identity_input", "extracted_id_and_name", "ranked_identities", "last_identity", "identity_merged"} {
		assert.Contains(t, sql, `"`+cte+`" AS (`)
	}

	claim := `jsonb_path_query_first("global_contexts", '$[*] ? (@._type == "IdentityContext")')`
	assert.Contains(t, sql, `cast("user_id" as text) as "user_id"`)
	assert.Contains(t, sql, "where ("+claim+" is not null)")
	assert.Contains(t, sql, "(("+claim+" ->> 'value')) || ('|') || (("+claim+" ->> 'id')) as \"identity_user_id\"")
	assert.Contains(t, sql, `row_number() over (partition by "user_id" order by "moment" desc, "event_id" desc, "identity_user_id" desc) as "__row_rank"`)
	assert.Contains(t, sql, `left join "last_identity" as r`)
	assert.Contains(t, sql, `case when "identity_user_id" is not null then "identity_user_id" else "user_id" end as "user_id"`)

	root, err := out.Node()
	require.NoError(t, err)
	n, ok := b.Node(root)
	require.True(t, ok)
	assert.Equal(t, "resolved_identities", n.Name())
}

func TestResolveIdentities_FilterByID(t *testing.T) {
	b := newBuilder(t, dialect.Postgres)
	out, err := ResolveIdentities(eventsFrame(t, b), Params{IdentityID: "e'mail"})
	require.NoError(t, err)

	assert.Contains(t, compile(t, out),
		`jsonb_path_query_first("global_contexts", '$[*] ? (@._type == "IdentityContext" && @.id == $id)', jsonb_build_object('id', 'e''mail'))`)
}

func TestResolveIdentities_BigQuery(t *testing.T) {
	b := newBuilder(t, dialect.BigQuery)
	out, err := ResolveIdentities(eventsFrame(t, b), Params{IdentityID: "email"})
	require.NoError(t, err)

	sql := compile(t, out)
	assert.Contains(t, sql,
		"(select c from unnest(json_query_array(`global_contexts`)) as c with offset as o "+
			"where json_value(c, '$._type') = 'IdentityContext' and json_value(c, '$.id') = 'email' order by o limit 1)")
	assert.Contains(t, sql, "concat(json_value(")
	// user_id is already a string
	assert.NotContains(t, sql, "identity_input")
	assert.NotContains(t, sql, "cast(")
}

func TestResolveIdentities_WithoutEventID(t *testing.T) {
	b := newBuilder(t, dialect.Postgres)
	in := eventsFrame(t, b, pipeline.UserID, pipeline.Moment, pipeline.GlobalContexts)
	out, err := ResolveIdentities(in, Params{})
	require.NoError(t, err)
	assert.Contains(t, compile(t, out),
		`row_number() over (partition by "user_id" order by "moment" desc, "identity_user_id" desc) as "__row_rank"`)
}

func TestResolveIdentities_InputContract(t *testing.T) {
	b := newBuilder(t, dialect.Postgres)
	in := eventsFrame(t, b, pipeline.UserID, pipeline.Moment)
	before := b.Len()

	_, err := ResolveIdentities(in, Params{})
	var cv *pipeline.ContractViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, pipeline.StageInput, cv.Stage)
	assert.Equal(t, "global_contexts", cv.Column)
	assert.Equal(t, before, b.Len())
}

func TestAnonymize(t *testing.T) {
	b := newBuilder(t, dialect.Postgres)

	_, err := Anonymize(eventsFrame(t, b))
	require.True(t, errors.Is(err, pipeline.ErrContractViolation))
	var cv *pipeline.ContractViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, StageAnonymize, cv.Stage)
	assert.Equal(t, "identity_user_id", cv.Column)
	assert.Equal(t, "missing", cv.Actual)

	resolved, err := ResolveIdentities(eventsFrame(t, b), Params{})
	require.NoError(t, err)
	out, err := Anonymize(resolved)
	require.NoError(t, err)
	assert.Contains(t, compile(t, out),
		`case when "identity_user_id" is null then null else "user_id" end as "user_id"`)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		opts    ResolveOptions
		columns []string
	}{
		{
			name:    "defaults",
			opts:    ResolveOptions{},
			columns: []string{"event_id", "user_id", "moment", "global_contexts"},
		},
		{
			name:    "keep resolved column",
			opts:    ResolveOptions{KeepResolvedColumn: true, Anonymize: true},
			columns: []string{"event_id", "user_id", "moment", "global_contexts", "identity_user_id"},
		},
		{
			name: "sessionized",
			opts: ResolveOptions{WithSessionizedData: true, SessionGapSeconds: 60, Anonymize: true},
			columns: []string{
				"event_id", "user_id", "moment", "global_contexts", "session_id", "session_hit_number",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, dialect.Postgres)
			out, err := Resolve(eventsFrame(t, b), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.columns, out.Columns())

			sql := compile(t, out)
			if tt.opts.WithSessionizedData {
				assert.Contains(t, sql, `"session_starts" AS (`)
			}
			if tt.opts.Anonymize {
				assert.Contains(t, sql, `then null else "user_id" end`)
			}
		})
	}
}

func TestResolve_SessionizeNeedsEventID(t *testing.T) {
	b := newBuilder(t, dialect.Postgres)
	in := eventsFrame(t, b, pipeline.UserID, pipeline.Moment, pipeline.GlobalContexts)

	_, err := Resolve(in, ResolveOptions{WithSessionizedData: true})
	assert.ErrorIs(t, err, pipeline.ErrContractViolation)
}
