package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CompiledModel is a compiled statement cached by root hash.
type CompiledModel struct {
	Hash       string
	Pipeline   string
	Dialect    string
	Root       string // identifier of the root node
	NodeCount  int
	SQL        string
	CompiledAt time.Time
}

// PutCompiled stores m, replacing any entry with the same hash.
func (s *Store) PutCompiled(ctx context.Context, m *CompiledModel) error {
	if m.Hash == "" {
		return fmt.Errorf("compiled model: empty hash")
	}
	if m.CompiledAt.IsZero() {
		m.CompiledAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compiled_models (hash, pipeline, dialect, root, node_count, sql, compiled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			pipeline = excluded.pipeline,
			dialect = excluded.dialect,
			root = excluded.root,
			node_count = excluded.node_count,
			sql = excluded.sql,
			compiled_at = excluded.compiled_at`,
		m.Hash, m.Pipeline, m.Dialect, m.Root, m.NodeCount, m.SQL, toUnix(m.CompiledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store compiled model %s: %w", m.Hash, err)
	}
	s.logger.Debug("stored compiled model",
		slog.String("hash", m.Hash),
		slog.String("pipeline", m.Pipeline),
		slog.Int("nodes", m.NodeCount))
	return nil
}

// GetCompiled returns the compiled model with the given root hash, or an
// error wrapping ErrNotFound.
func (s *Store) GetCompiled(ctx context.Context, hash string) (*CompiledModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, pipeline, dialect, root, node_count, sql, compiled_at
		FROM compiled_models WHERE hash = ?`, hash)
	m, err := scanCompiled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compiled model %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compiled model: %w", err)
	}
	return m, nil
}

// ListCompiled returns cached models, newest first. An empty pipeline lists
// every pipeline.
func (s *Store) ListCompiled(ctx context.Context, pipeline string) ([]*CompiledModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, pipeline, dialect, root, node_count, sql, compiled_at
		FROM compiled_models
		WHERE ? = '' OR pipeline = ?
		ORDER BY compiled_at DESC, hash`, pipeline, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list compiled models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*CompiledModel
	for rows.Next() {
		m, err := scanCompiled(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compiled model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompiled(r scanner) (*CompiledModel, error) {
	var (
		m          CompiledModel
		compiledAt int64
	)
	if err := r.Scan(&m.Hash, &m.Pipeline, &m.Dialect, &m.Root, &m.NodeCount, &m.SQL, &compiledAt); err != nil {
		return nil, err
	}
	m.CompiledAt = fromUnix(compiledAt)
	return &m, nil
}
