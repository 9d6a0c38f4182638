// Package commands implements the sqlmodels subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlmodels/internal/config"
	"github.com/leapstack-labs/sqlmodels/internal/state"
	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer
}

// NewCommandContext reads the config and logger stored in the command's
// context by the root command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return &CommandContext{
		Cfg:    config.FromContext(ctx),
		Logger: config.GetLogger(ctx),
		Out:    cmd.OutOrStdout(),
		Err:    cmd.ErrOrStderr(),
	}
}

// NewBuilder returns a builder for d using the configured identifiers.
func (c *CommandContext) NewBuilder(d dialect.Dialect) (*sqlmodel.Builder, error) {
	opts := []sqlmodel.BuilderOption{sqlmodel.WithLogger(c.Logger)}
	if c.Cfg.Identifiers == "uuid" {
		opts = append(opts, sqlmodel.WithIdentifierFunc(sqlmodel.UUIDIdentifiers()))
	}
	return sqlmodel.NewBuilder(d, opts...)
}

// OpenStore opens the state store. It returns nil when state_path is
// empty.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.Store, error) {
	if c.Cfg.StatePath == "" {
		return nil, nil
	}
	if dir := filepath.Dir(c.Cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return state.Open(ctx, c.Cfg.StatePath, c.Logger)
}

// OpenAdapter connects to the configured target.
func (c *CommandContext) OpenAdapter(ctx context.Context) (adapter.Adapter, error) {
	if c.Cfg.Target.Type == "" {
		return nil, fmt.Errorf("no target configured\nHint: set target.type in sqlmodels.yaml or pass --target")
	}
	return adapter.Open(ctx, c.Cfg.Target.AdapterConfig(), c.Logger)
}
