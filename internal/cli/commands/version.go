package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sqlmodels v%s (%s, %s)\n", version, commit, runtime.Version())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dialects: %v\n", dialect.List())
		},
	}
}
