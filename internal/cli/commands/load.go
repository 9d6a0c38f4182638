package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewLoadCommand creates the load command.
func NewLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <table> <file.csv>",
		Short: "Load a CSV file into a table on the target",
		Long: `Create or replace a table on the configured target from a CSV file
with a header row. Useful for trying pipelines against sample events.`,
		Example: `  sqlmodels load events testdata/events.csv --target duckdb --database dev.duckdb`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := NewCommandContext(cmd)
			table, path := args[0], args[1]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("csv file: %w", err)
			}

			adp, err := c.OpenAdapter(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = adp.Close() }()

			if err := adp.LoadCSV(ctx, table, path); err != nil {
				return fmt.Errorf("load %s: %w", table, err)
			}
			c.Logger.Debug("loaded csv", slog.String("table", table), slog.String("file", path))
			_, _ = fmt.Fprintf(c.Out, "Loaded %s into %s\n", path, table)
			return nil
		},
	}
}
