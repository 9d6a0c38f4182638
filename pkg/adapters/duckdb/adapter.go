// Package duckdb provides a DuckDB database adapter. DuckDB runs the
// Postgres form of compiled models.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns dialect.Postgres; DuckDB accepts its syntax.
func (a *Adapter) Dialect() dialect.Dialect {
	return dialect.Postgres
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty path for an in-memory database. Every entry of
// cfg.Options is applied as a session setting.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	for _, key := range sortedKeys(cfg.Options) {
		value, err := dialect.QuoteString(dialect.Postgres, cfg.Options[key])
		if err != nil {
			_ = db.Close()
			return err
		}
		name, err := dialect.QuoteIdentifier(dialect.Postgres, key)
		if err != nil {
			_ = db.Close()
			return err
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET %s = %s", name, value)); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply setting %s: %w", key, err)
		}
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.ReadMetadata(ctx, table, adapter.MetadataQuery{
		DefaultSchema: "main",
		Placeholder:   adapter.QuestionPlaceholder,
		Dialect:       dialect.Postgres,
	})
}

// LoadCSV loads data from a CSV file into a table.
// DuckDB infers the schema from the file.
func (a *Adapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	if a.DB == nil {
		return adapter.ErrNotConnected
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	table, err := dialect.QuoteIdentifier(dialect.Postgres, tableName)
	if err != nil {
		return err
	}
	file, err := dialect.QuoteString(dialect.Postgres, absPath)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)", table, file)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}
	a.Logger.Debug("loaded csv", slog.String("table", tableName), slog.String("file", absPath))
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
