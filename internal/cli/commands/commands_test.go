package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlmodels/internal/config"
	"github.com/leapstack-labs/sqlmodels/internal/state"
	"github.com/leapstack-labs/sqlmodels/internal/testutil"
	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// mockAdapter runs queries against a sqlmock database.
type mockAdapter struct {
	adapter.BaseSQLAdapter
	meta    *adapter.Metadata
	loaded  map[string]string
	onQuery func()
}

func (m *mockAdapter) Query(ctx context.Context, sql string) (*adapter.Rows, error) {
	if m.onQuery != nil {
		m.onQuery()
	}
	return m.BaseSQLAdapter.Query(ctx, sql)
}

func (m *mockAdapter) Connect(context.Context, adapter.Config) error { return nil }

func (m *mockAdapter) Dialect() dialect.Dialect { return dialect.Postgres }

func (m *mockAdapter) GetTableMetadata(_ context.Context, table string) (*adapter.Metadata, error) {
	if m.meta == nil {
		return nil, errors.New("no metadata for " + table)
	}
	return m.meta, nil
}

func (m *mockAdapter) LoadCSV(_ context.Context, table, path string) error {
	m.loaded[table] = path
	return nil
}

// current is the adapter handed out for the "sqlmock" target type.
var current *mockAdapter

func init() {
	adapter.Register("sqlmock", func(*slog.Logger) adapter.Adapter { return current })
}

func newMock(t *testing.T) (*mockAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	current = &mockAdapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{DB: db},
		loaded:         make(map[string]string),
	}
	t.Cleanup(func() { current = nil })
	return current, mock
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.StatePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Output = "csv"
	cfg.Target.Type = "sqlmock"
	return cfg
}

func executeCmd(t *testing.T, cfg *config.Config, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx := config.WithConfig(context.Background(), cfg)
	ctx = config.WithLogger(ctx, testutil.NewTestLogger(t))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func compileJSON(t *testing.T, cfg *config.Config, args ...string) []compiled {
	t.Helper()
	cfg.Output = "json"
	out, err := executeCmd(t, cfg, NewCompileCommand(), args...)
	require.NoError(t, err)
	var results []compiled
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	return results
}

func TestCompile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Table = "raw.events"

	out, err := executeCmd(t, cfg, NewCompileCommand(), "sessionized")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "WITH \"extracted_contexts___"), out)
	assert.Contains(t, out, `from "raw"."events"`)
	assert.Contains(t, out, `"session_starts___`)
	assert.NotContains(t, out, "-- sessionized")
}

func TestCompile_Cache(t *testing.T) {
	cfg := testConfig(t)

	first := compileJSON(t, cfg, "identity")
	require.Len(t, first, 1)
	assert.False(t, first[0].Cached)
	assert.Equal(t, "identity", first[0].Pipeline)

	second := compileJSON(t, cfg, "identity")
	require.Len(t, second, 1)
	assert.True(t, second[0].Cached)
	assert.Equal(t, first[0].Hash, second[0].Hash)
	assert.Equal(t, first[0].SQL, second[0].SQL)

	store, err := state.Open(context.Background(), cfg.StatePath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	m, err := store.GetCompiled(context.Background(), first[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, "postgres", m.Dialect)
	assert.Equal(t, first[0].Nodes, m.NodeCount)

	// a different gap is a different graph
	cfg.Pipeline.SessionGap = time.Minute
	cfg.Pipeline.Sessionize = true
	third := compileJSON(t, cfg, "identity")
	assert.NotEqual(t, first[0].Hash, third[0].Hash)
	assert.False(t, third[0].Cached)
}

func TestCompile_All(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""

	results := compileJSON(t, cfg, "--all")
	require.Len(t, results, 3)
	for i, name := range Pipelines {
		assert.Equal(t, name, results[i].Pipeline)
		assert.NotEmpty(t, results[i].SQL)
		assert.False(t, results[i].Cached)
	}

	// the shared extracted model is one node with one identifier
	extracted := results[0].Root
	assert.Contains(t, results[1].SQL, `"`+extracted+`" AS (`)
	assert.Contains(t, results[2].SQL, `"`+extracted+`" AS (`)

	// building concurrently is deterministic
	again := compileJSON(t, cfg, "--all")
	for i := range results {
		assert.Equal(t, results[i].SQL, again[i].SQL)
	}
}

func TestCompile_Text(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	cfg.Output = "text"

	out, err := executeCmd(t, cfg, NewCompileCommand(), "extracted", "sessionized")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "-- extracted ("))
	assert.Contains(t, out, "\n\n-- sessionized (")
}

func TestCompile_Template(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	cfg.Output = "text"

	out, err := executeCmd(t, cfg, NewCompileCommand(), "sessionized", "--template")
	require.NoError(t, err)
	assert.Contains(t, out, "session_starts_sessionized_data___")
}

func TestCompile_BigQuery(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	cfg.Dialect = "bigquery"
	cfg.Output = "text"

	_, err := executeCmd(t, cfg, NewCompileCommand(), "sessionized")
	assert.ErrorIs(t, err, dialect.ErrUnsupportedDialect)

	cfg.Pipeline.Input = config.InputEvents
	cfg.Pipeline.Table = "analytics.events"
	out, err := executeCmd(t, cfg, NewCompileCommand(), "identity")
	require.NoError(t, err)
	assert.Contains(t, out, "`analytics`.`events`")
	assert.Contains(t, out, "json_query_array")
}

func TestCompile_Errors(t *testing.T) {
	cfg := testConfig(t)

	_, err := executeCmd(t, cfg, NewCompileCommand())
	assert.ErrorContains(t, err, "no pipeline given")

	_, err = executeCmd(t, cfg, NewCompileCommand(), "funnel")
	assert.ErrorContains(t, err, `unknown pipeline "funnel"`)

	cfg.Pipeline.StartDate = "yesterday"
	_, err = executeCmd(t, cfg, NewCompileCommand(), "extracted")
	assert.ErrorContains(t, err, "invalid start date")
}

func TestGraph(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""

	t.Run("text", func(t *testing.T) {
		cfg.Output = "text"
		out, err := executeCmd(t, cfg, NewGraphCommand(), "sessionized")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "Sessionized (postgres)\n"), out)
		assert.Contains(t, out, "Level 0:\n  extracted_contexts___")
		assert.Contains(t, out, "<- from=extracted_contexts___")
		assert.Contains(t, out, "-> session_starts___")
		assert.Contains(t, out, "\nsources: extracted_contexts___")
	})

	t.Run("json", func(t *testing.T) {
		cfg.Output = "json"
		out, err := executeCmd(t, cfg, NewGraphCommand(), "identity")
		require.NoError(t, err)

		var g graphOutput
		require.NoError(t, json.Unmarshal([]byte(out), &g))
		assert.Equal(t, "identity", g.Pipeline)
		require.NotEmpty(t, g.Levels)
		require.Len(t, g.Levels[0].Nodes, 1)
		assert.Equal(t, "extracted_contexts", g.Levels[0].Nodes[0].Name)
		assert.Empty(t, g.Levels[0].Nodes[0].Refs)

		last := g.Levels[len(g.Levels)-1]
		require.Len(t, last.Nodes, 1)
		assert.Equal(t, g.Root, last.Nodes[0].Identifier)

		// every node feeds the root
		assert.Equal(t, []string{g.Levels[0].Nodes[0].Identifier}, g.Sources)
		assert.Equal(t, g.Nodes-1, last.Nodes[0].Upstream)
		assert.Empty(t, last.Nodes[0].UsedBy)
		assert.NotEmpty(t, g.Levels[0].Nodes[0].UsedBy)
		assert.GreaterOrEqual(t, g.Edges, g.Nodes-1)
	})

	t.Run("yaml", func(t *testing.T) {
		cfg.Output = "yaml"
		out, err := executeCmd(t, cfg, NewGraphCommand(), "extracted")
		require.NoError(t, err)
		assert.Contains(t, out, "pipeline: extracted\n")
		assert.Contains(t, out, "  - level: 0\n")
	})
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	_, mock := newMock(t)

	mock.ExpectQuery(`(?s)^WITH .*"session_id_and_count___`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "session_id"}).
			AddRow("a", 1).
			AddRow([]byte("b"), 2))

	out, err := executeCmd(t, cfg, NewRunCommand(), "sessionized")
	require.NoError(t, err)
	assert.Contains(t, out, "user_id,session_id\na,1\nb,2")
	require.NoError(t, mock.ExpectationsWereMet())

	store, err := state.Open(context.Background(), cfg.StatePath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, int64(2), runs[0].Rows)
	assert.Equal(t, "sessionized", runs[0].Pipeline)

	cached, err := store.GetCompiled(context.Background(), runs[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, "sessionized", cached.Pipeline)
}

func TestRun_Limit(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	_, mock := newMock(t)

	mock.ExpectQuery(`^SELECT \* FROM \( select event_id, .* from "data" \) AS limited LIMIT 5$`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}))

	cfg.Output = "table"
	out, err := executeCmd(t, cfg, NewRunCommand(), "extracted", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_EventsInputUsesMetadata(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	cfg.Pipeline.Input = config.InputEvents
	cfg.Pipeline.Table = "events"
	adp, mock := newMock(t)
	adp.meta = &adapter.Metadata{
		Schema: "public",
		Name:   "events",
		Columns: []adapter.Column{
			{Name: "event_id", Type: "uuid"},
			{Name: "user_id", Type: "text"},
			{Name: "moment", Type: "timestamp without time zone"},
		},
	}

	mock.ExpectQuery(`(?s)from "public"\."events"`).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow("e1"))

	cfg.Output = "json"
	out, err := executeCmd(t, cfg, NewRunCommand(), "sessionized")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"event_id": "e1"}]`, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_Failure(t *testing.T) {
	cfg := testConfig(t)
	_, mock := newMock(t)
	mock.ExpectQuery(".*").WillReturnError(errors.New(`relation "data" does not exist`))

	_, err := executeCmd(t, cfg, NewRunCommand(), "identity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run identity:")

	store, err := state.Open(context.Background(), cfg.StatePath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, `relation "data" does not exist`)
}

func TestRun_RecordFailureKeepsQueryError(t *testing.T) {
	cfg := testConfig(t)
	adp, mock := newMock(t)
	mock.ExpectQuery(".*").WillReturnError(errors.New(`relation "data" does not exist`))

	// another process finishes the run while the query is in flight
	adp.onQuery = func() {
		ctx := context.Background()
		other, err := state.Open(ctx, cfg.StatePath, nil)
		require.NoError(t, err)
		defer func() { _ = other.Close() }()
		runs, err := other.ListRuns(ctx, 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		require.NoError(t, other.CompleteRun(ctx, runs[0].ID, 0, nil))
	}

	_, err := executeCmd(t, cfg, NewRunCommand(), "identity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `run identity: relation "data" does not exist`)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRun_NoTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Target.Type = ""
	_, err := executeCmd(t, cfg, NewRunCommand(), "sessionized")
	assert.ErrorContains(t, err, "no target configured")
}

func seedRuns(t *testing.T, path string) (completed, failed, running *state.Run) {
	t.Helper()
	ctx := context.Background()
	store, err := state.Open(ctx, path, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	completed, err = store.StartRun(ctx, "sessionized", "postgres", "h1")
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(ctx, completed.ID, 5, nil))
	require.NoError(t, store.PutCompiled(ctx, &state.CompiledModel{
		Hash: "h1", Pipeline: "sessionized", Dialect: "postgres", Root: "root", NodeCount: 1, SQL: "select 1",
	}))

	failed, err = store.StartRun(ctx, "identity", "postgres", "h2")
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(ctx, failed.ID, 0, errors.New("boom")))

	running, err = store.StartRun(ctx, "extracted", "postgres", "h3")
	require.NoError(t, err)
	return completed, failed, running
}

func TestRuns_List(t *testing.T) {
	cfg := testConfig(t)
	completed, failed, running := seedRuns(t, cfg.StatePath)

	out, err := executeCmd(t, cfg, NewRunsCommand())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "id,pipeline,dialect,status,rows,started,duration,error\n"), out)
	assert.Contains(t, out, completed.ID[:8]+",sessionized,postgres,completed,5,")
	assert.Contains(t, out, ",boom")
	assert.Contains(t, out, running.ID[:8]+",extracted,postgres,running,0,")
	assert.Contains(t, out, ",-,")

	cfg.Output = "json"
	out, err = executeCmd(t, cfg, NewRunsCommand())
	require.NoError(t, err)
	var views []runView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 3)
	byID := make(map[string]runView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.Equal(t, "completed", byID[completed.ID].Status)
	assert.NotEmpty(t, byID[completed.ID].Duration)
	assert.Equal(t, "failed", byID[failed.ID].Status)
	assert.Equal(t, "boom", byID[failed.ID].Error)
	assert.Nil(t, byID[running.ID].CompletedAt)
	assert.Empty(t, byID[running.ID].Duration)

	out, err = executeCmd(t, cfg, NewRunsCommand(), "--limit", "1")
	require.NoError(t, err)
	views = nil
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	assert.Len(t, views, 1)

	_, err = executeCmd(t, cfg, NewRunsCommand(), "--limit", "0")
	assert.ErrorContains(t, err, "--limit must be positive")
}

func TestRuns_Show(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output = "text"
	completed, failed, _ := seedRuns(t, cfg.StatePath)

	out, err := executeCmd(t, cfg, NewRunsCommand(), completed.ID, "--sql")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Run "+completed.ID+"\n"), out)
	assert.Contains(t, out, "  pipeline: sessionized (postgres)\n")
	assert.Contains(t, out, "  status:   completed\n")
	assert.Contains(t, out, "  rows:     5\n")
	assert.True(t, strings.HasSuffix(out, "\nselect 1\n"), out)

	// no cached statement for h2
	cfg.Output = "json"
	out, err = executeCmd(t, cfg, NewRunsCommand(), failed.ID, "--sql")
	require.NoError(t, err)
	var v runView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "boom", v.Error)
	assert.Empty(t, v.SQL)

	_, err = executeCmd(t, cfg, NewRunsCommand(), "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRuns_StateDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	_, err := executeCmd(t, cfg, NewRunsCommand())
	assert.ErrorContains(t, err, "state store disabled")
}

func TestLoad(t *testing.T) {
	cfg := testConfig(t)
	adp, _ := newMock(t)

	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte("event_id,user_id\n1,a\n"), 0o600))

	out, err := executeCmd(t, cfg, NewLoadCommand(), "events", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded "+path+" into events")
	assert.Equal(t, map[string]string{"events": path}, adp.loaded)

	_, err = executeCmd(t, cfg, NewLoadCommand(), "events", filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorContains(t, err, "csv file")
}

func TestVersion(t *testing.T) {
	out, err := executeCmd(t, config.Defaults(), NewVersionCommand("1.2.3", "abc123"))
	require.NoError(t, err)
	assert.Contains(t, out, "sqlmodels v1.2.3 (abc123, go")
	assert.Contains(t, out, "dialects: [bigquery postgres]")
}
