package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlmodels/internal/testutil"
	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	adp := New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(context.Background(), adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name:      "in-memory",
			setupPath: func(_ *testing.T) string { return ":memory:" },
		},
		{
			name:      "empty path",
			setupPath: func(_ *testing.T) string { return "" },
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp := New(nil)
			path := tt.setupPath(t)
			require.NoError(t, adp.Connect(context.Background(), adapter.Config{Path: path}))
			defer func() { _ = adp.Close() }()

			assert.True(t, adp.IsConnected())
			if tt.verify != nil {
				tt.verify(t, path)
			}
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	assert.Error(t, adp.Exec(ctx, "SELECT 1"))
	_, err := adp.Query(ctx, "SELECT 1")
	assert.Error(t, err)
	assert.Error(t, adp.LoadCSV(ctx, "t", "missing.csv"))
	assert.NoError(t, adp.Close())
}

func TestAdapter_Dialect(t *testing.T) {
	assert.Equal(t, dialect.Postgres, New(nil).Dialect())
}

func TestAdapter_RunsPostgresShapedSQL(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)

	require.NoError(t, adp.Exec(ctx, `
		CREATE TABLE "events" (event_id INTEGER, user_id INTEGER, moment TIMESTAMP)
	`))
	require.NoError(t, adp.Exec(ctx, `
		INSERT INTO "events" VALUES
			(1, 1, TIMESTAMP '2024-01-01 00:00:00'),
			(2, 1, TIMESTAMP '2024-01-01 00:01:30')
	`))

	rows, err := adp.Query(ctx, `
		WITH "lagged" AS (
		select "event_id", extract(epoch from ("moment" - lag("moment") over (partition by "user_id" order by "moment", "event_id"))) as "gap" from "events"
		)
		select "gap" from "lagged" order by "event_id"`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var gaps []*float64
	for rows.Next() {
		var gap *float64
		require.NoError(t, rows.Scan(&gap))
		gaps = append(gaps, gap)
	}
	require.NoError(t, rows.Err())
	require.Len(t, gaps, 2)
	assert.Nil(t, gaps[0])
	require.NotNil(t, gaps[1])
	assert.InDelta(t, 90.0, *gaps[1], 0.001)
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)

	require.NoError(t, adp.Exec(ctx, `CREATE TABLE events (event_id UUID NOT NULL, moment TIMESTAMP, user_id VARCHAR)`))
	require.NoError(t, adp.Exec(ctx, `INSERT INTO events VALUES (gen_random_uuid(), now(), 'a')`))

	meta, err := adp.GetTableMetadata(ctx, "events")
	require.NoError(t, err)

	assert.Equal(t, "main", meta.Schema)
	assert.Equal(t, "events", meta.Name)
	assert.Equal(t, int64(1), meta.RowCount)
	require.Len(t, meta.Columns, 3)
	assert.Equal(t, "event_id", meta.Columns[0].Name)
	assert.Equal(t, "UUID", meta.Columns[0].Type)
	assert.False(t, meta.Columns[0].Nullable)
	assert.Equal(t, "moment", meta.Columns[1].Name)
	assert.True(t, meta.Columns[1].Nullable)

	_, err = adp.GetTableMetadata(ctx, "main.missing")
	assert.Error(t, err)
}

func TestAdapter_LoadCSV(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)

	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte("event_id,user_id\n1,a\n2,b\n3,a\n"), 0o600))
	require.NoError(t, adp.LoadCSV(ctx, "raw events", path))

	rows, err := adp.Query(ctx, `SELECT COUNT(*) FROM "raw events" WHERE user_id = 'a'`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var count int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&count))
	assert.Equal(t, 2, count)
}

func TestAdapter_Registry(t *testing.T) {
	assert.True(t, adapter.IsRegistered("duckdb"))

	adp, err := adapter.Open(context.Background(), adapter.Config{Type: "duckdb"}, nil)
	require.NoError(t, err)
	defer func() { _ = adp.Close() }()
	assert.IsType(t, &Adapter{}, adp)
}
