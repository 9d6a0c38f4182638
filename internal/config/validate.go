package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// Output formats.
var outputs = []string{"auto", "table", "json", "csv", "yaml", "text"}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := dialect.Parse(c.Dialect); err != nil {
		return fmt.Errorf("invalid dialect: %w\nHint: use one of %s", err, strings.Join(dialect.List(), ", "))
	}
	if !slices.Contains(outputs, c.Output) {
		return fmt.Errorf("invalid output %q: want one of %s", c.Output, strings.Join(outputs, ", "))
	}
	if c.Identifiers != "hash" && c.Identifiers != "uuid" {
		return fmt.Errorf("invalid identifiers %q: want hash or uuid", c.Identifiers)
	}
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("invalid target configuration: %w", err)
	}
	return c.Pipeline.Validate()
}

// Validate checks the target. An empty type means no target is configured.
func (t TargetConfig) Validate() error {
	if t.Type == "" {
		return nil
	}
	if !adapter.IsRegistered(t.Type) {
		return &adapter.UnknownAdapterError{Type: t.Type, Available: adapter.ListAdapters()}
	}
	return nil
}

// Validate checks the pipeline settings.
func (p PipelineConfig) Validate() error {
	if p.Input != InputRaw && p.Input != InputEvents {
		return fmt.Errorf("invalid pipeline input %q: want %s or %s", p.Input, InputRaw, InputEvents)
	}
	if p.Table == "" {
		return fmt.Errorf("pipeline table is required")
	}
	if p.SessionGap < 0 {
		return fmt.Errorf("session gap must not be negative, got %s", p.SessionGap)
	}
	if p.SessionGap%time.Second != 0 {
		return fmt.Errorf("session gap must be whole seconds, got %s", p.SessionGap)
	}
	return nil
}

// SQLDialect returns the configured dialect.
func (c *Config) SQLDialect() (dialect.Dialect, error) {
	return dialect.Parse(c.Dialect)
}
