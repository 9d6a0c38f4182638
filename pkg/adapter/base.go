package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// ErrNotConnected is returned by adapters used before Connect.
var ErrNotConnected = errors.New("database connection not established")

// BaseSQLAdapter implements the database/sql half of Adapter. Concrete
// adapters embed it and set DB in Connect.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

func (b *BaseSQLAdapter) log() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

func (b *BaseSQLAdapter) conn() (*sql.DB, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	return b.DB, nil
}

// Close closes the connection pool. Closing an unconnected adapter is a
// no-op.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil {
		return nil
	}
	b.log().Debug("closing database connection", slog.String("type", b.Cfg.Type))
	return b.DB.Close()
}

// IsConnected reports whether Connect has succeeded.
func (b *BaseSQLAdapter) IsConnected() bool { return b.DB != nil }

// Exec runs a statement that returns no rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, stmt string) error {
	db, err := b.conn()
	if err != nil {
		return err
	}
	b.log().Debug("exec", slog.Int("bytes", len(stmt)))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query runs a compiled statement. The caller closes the rows and checks
// Err after iterating.
func (b *BaseSQLAdapter) Query(ctx context.Context, stmt string) (*Rows, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	b.log().Debug("query", slog.Int("bytes", len(stmt)))
	//nolint:rowserrcheck // checked by the caller
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &Rows{Rows: rows}, nil
}

// ParseQualifiedName splits schema.table. An unqualified name, or one with
// more than one dot, gets defaultSchema.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	if s, n, ok := strings.Cut(table, "."); ok && !strings.Contains(n, ".") {
		return s, n
	}
	return defaultSchema, table
}

// MetadataQuery describes how an adapter reads information_schema.
type MetadataQuery struct {
	DefaultSchema string
	Placeholder   func(n int) string // 1-based bind parameter marker
	Dialect       dialect.Dialect
}

const columnsQuery = `SELECT column_name, data_type, is_nullable, ordinal_position
FROM information_schema.columns
WHERE table_schema = %s AND table_name = %s
ORDER BY ordinal_position`

// ReadMetadata describes table from information_schema.columns. Pipelines
// type their source frames from the result.
func (b *BaseSQLAdapter) ReadMetadata(ctx context.Context, table string, q MetadataQuery) (*Metadata, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	schema, name := ParseQualifiedName(table, q.DefaultSchema)

	columns, err := readColumns(ctx, db, fmt.Sprintf(columnsQuery, q.Placeholder(1), q.Placeholder(2)), schema, name)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	meta := &Metadata{Schema: schema, Name: name, Columns: columns}
	if meta.RowCount, err = b.countRows(ctx, db, q.Dialect, schema, name); err != nil {
		// the row count is informational
		b.log().Debug("row count unavailable", slog.String("table", table), slog.Any("error", err))
	}
	return meta, nil
}

func readColumns(ctx context.Context, db *sql.DB, query, schema, name string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var (
			col      Column
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	return columns, nil
}

func (b *BaseSQLAdapter) countRows(ctx context.Context, db *sql.DB, d dialect.Dialect, schema, name string) (int64, error) {
	qualified, err := qualify(d, schema, name)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+qualified).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func qualify(d dialect.Dialect, schema, table string) (string, error) {
	s, err := dialect.QuoteIdentifier(d, schema)
	if err != nil {
		return "", err
	}
	t, err := dialect.QuoteIdentifier(d, table)
	if err != nil {
		return "", err
	}
	return s + "." + t, nil
}

// QuestionPlaceholder returns "?" for every position.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder returns "$n".
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
