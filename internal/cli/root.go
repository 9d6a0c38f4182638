// Package cli provides the command-line interface for sqlmodels.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlmodels/internal/cli/commands"
	"github.com/leapstack-labs/sqlmodels/internal/config"

	// Register the database adapters.
	_ "github.com/leapstack-labs/sqlmodels/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/sqlmodels/pkg/adapters/postgres"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sqlmodels",
		Short: "sqlmodels - compile event pipelines to SQL",
		Long: `sqlmodels builds event pipelines such as sessionization and identity
resolution as graphs of SQL fragments and compiles each graph into a single
PostgreSQL or BigQuery statement.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			loaded, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if loaded.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			if loaded.File != "" {
				logger.Debug("using config file", slog.String("path", loaded.File))
			}

			ctx := config.WithConfig(cmd.Context(), loaded.Config)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./sqlmodels.yaml)")
	pf.String("dialect", "", "SQL dialect (postgres|bigquery)")
	pf.String("state", "", "Path to state database (empty string disables it)")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.StringP("output", "o", "", "Output format (auto|table|text|csv|json|yaml)")
	pf.String("identifiers", "", "CTE naming (hash|uuid)")

	pf.String("target", "", "Target adapter type (duckdb|postgres)")
	pf.String("database", "", "DuckDB database file (empty for in-memory)")
	pf.String("dsn", "", "PostgreSQL connection string")

	pf.String("input", "", "Pipeline input: raw event table or extracted events table (raw|events)")
	pf.String("table", "", "Source table")
	pf.String("start-date", "", "First day to read (YYYY-MM-DD)")
	pf.String("end-date", "", "Last day to read (YYYY-MM-DD)")
	pf.Duration("session-gap", 0, "Inactivity that starts a new session (e.g. 30m)")
	pf.String("identity-id", "", "Only use identity claims with this id")
	pf.Bool("sessionize", false, "Sessionize resolved identities")
	pf.Bool("anonymize", false, "Clear user_id of users without an identity claim")
	pf.Bool("keep-resolved-column", false, "Keep identity_user_id in the identity output")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "table", "text", "csv", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("dialect", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"postgres", "bigquery"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewCompileCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewGraphCommand())
	rootCmd.AddCommand(commands.NewLoadCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
