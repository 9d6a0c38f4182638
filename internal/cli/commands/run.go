package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlmodels/internal/config"
	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		limit    int
		template bool
	)
	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Compile a pipeline and execute it on the target",
		Long: `Compile a pipeline for the target's dialect, execute it and print
the result. Each execution is recorded as a run in the state store.

With --input events the source table's column types are read from the
database instead of assumed.`,
		Example: `  # Sessions of a DuckDB events table
  sqlmodels run sessionized --target duckdb --database events.duckdb --input events

  # First 20 resolved identities as JSON
  sqlmodels run identity --limit 20 -o json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: Pipelines,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], limit, template)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows to fetch (0 for all)")
	cmd.Flags().BoolVar(&template, "template", false, "Build sessionized from the single-node template")
	return cmd
}

func runPipeline(cmd *cobra.Command, name string, limit int, template bool) error {
	ctx := cmd.Context()
	c := NewCommandContext(cmd)
	if err := checkPipeline(name); err != nil {
		return err
	}

	adp, err := c.OpenAdapter(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = adp.Close() }()

	b, err := c.NewBuilder(adp.Dialect())
	if err != nil {
		return err
	}
	opts := buildOptions{pipeline: c.Cfg.Pipeline, template: template}
	if c.Cfg.Pipeline.Input == config.InputEvents {
		opts.source = tableSource(ctx, adp, c.Cfg.Pipeline.Table)
	}
	root, err := buildPipeline(b, name, opts)
	if err != nil {
		return err
	}

	store, err := c.OpenStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}
	res, err := compile(ctx, c, store, b, name, root)
	if err != nil {
		return err
	}

	var runID string
	if store != nil {
		run, err := store.StartRun(ctx, name, adp.Dialect().String(), res.Hash)
		if err != nil {
			return err
		}
		runID = run.ID
	}

	start := time.Now()
	rs, runErr := queryResults(ctx, adp, limitQuery(res.SQL, limit))
	var n int64
	if rs != nil {
		n = int64(len(rs.Rows))
	}
	if runErr != nil {
		runErr = fmt.Errorf("run %s: %w", name, runErr)
	}
	if store != nil {
		if err := store.CompleteRun(ctx, runID, n, runErr); err != nil {
			return errors.Join(runErr, fmt.Errorf("record run %s: %w", runID, err))
		}
	}
	if runErr != nil {
		return runErr
	}
	c.Logger.Debug("pipeline executed",
		slog.String("pipeline", name),
		slog.Int64("rows", n),
		slog.Duration("elapsed", time.Since(start)))

	return renderResults(c.Out, rs, c.Cfg.Output)
}

// tableSource types the source table from database metadata.
func tableSource(ctx context.Context, adp adapter.Adapter, table string) Source {
	return func(b *sqlmodel.Builder) (*frame.Frame, error) {
		meta, err := adp.GetTableMetadata(ctx, table)
		if err != nil {
			return nil, err
		}
		if len(meta.Columns) == 0 {
			return nil, fmt.Errorf("table %s not found or has no columns", table)
		}
		return frame.FromMetadata(b, meta)
	}
}

func limitQuery(sql string, limit int) string {
	if limit <= 0 {
		return sql
	}
	return "SELECT * FROM (\n" + sql + "\n) AS limited LIMIT " + strconv.Itoa(limit)
}

func queryResults(ctx context.Context, adp adapter.Adapter, sql string) (*resultSet, error) {
	rows, err := adp.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return readRows(rows)
}
