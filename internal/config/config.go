// Package config loads sqlmodels settings from defaults, sqlmodels.yaml,
// SQLMODELS_* environment variables and command-line flags.
package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
	"github.com/leapstack-labs/sqlmodels/pkg/pipelines/sessionized"
)

// Default configuration values.
const (
	DefaultDialect     = "postgres"
	DefaultStateFile   = ".sqlmodels/state.db"
	DefaultOutput      = "auto" // table on a terminal, csv otherwise
	DefaultIdentifiers = "hash"
	DefaultTable       = "data"
	DefaultInput       = InputRaw
	DefaultSessionGap  = sessionized.DefaultSessionGapSeconds * time.Second
)

// Pipeline inputs.
const (
	// InputRaw reads the raw event table through the extracted contexts model.
	InputRaw = "raw"
	// InputEvents reads a table that already has the extracted columns.
	InputEvents = "events"
)

// Config holds all sqlmodels configuration.
type Config struct {
	Dialect     string         `koanf:"dialect"`
	StatePath   string         `koanf:"state_path"` // empty disables the state store
	Verbose     bool           `koanf:"verbose"`
	Output      string         `koanf:"output"`
	Identifiers string         `koanf:"identifiers"` // hash or uuid
	Target      TargetConfig   `koanf:"target"`
	Pipeline    PipelineConfig `koanf:"pipeline"`
}

// TargetConfig is the database compiled models run against.
type TargetConfig struct {
	Type     string            `koanf:"type"`
	Path     string            `koanf:"path"` // duckdb file, empty for in-memory
	DSN      string            `koanf:"dsn"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Schema   string            `koanf:"schema"`
	Options  map[string]string `koanf:"options"`
}

// PipelineConfig parameterizes the built-in pipelines.
type PipelineConfig struct {
	Input      string        `koanf:"input"`
	Table      string        `koanf:"table"`
	StartDate  string        `koanf:"start_date"`
	EndDate    string        `koanf:"end_date"`
	SessionGap time.Duration `koanf:"session_gap"`

	IdentityID         string `koanf:"identity_id"`
	Sessionize         bool   `koanf:"sessionize"`
	Anonymize          bool   `koanf:"anonymize"`
	KeepResolvedColumn bool   `koanf:"keep_resolved_column"`
}

// SessionGapSeconds returns the session gap in whole seconds.
func (p PipelineConfig) SessionGapSeconds() int64 {
	return int64(p.SessionGap / time.Second)
}

// AdapterConfig converts the target into adapter settings.
func (t TargetConfig) AdapterConfig() adapter.Config {
	opts := make(map[string]string, len(t.Options)+1)
	for k, v := range t.Options {
		opts[k] = v
	}
	if t.DSN != "" {
		opts["dsn"] = t.DSN
	}
	return adapter.Config{
		Type:     t.Type,
		Path:     t.Path,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  opts,
	}
}

type configKey struct{}

type loggerKey struct{}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored in ctx, or the defaults.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return Defaults()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from ctx.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Dialect:     DefaultDialect,
		StatePath:   DefaultStateFile,
		Output:      DefaultOutput,
		Identifiers: DefaultIdentifiers,
		Pipeline: PipelineConfig{
			Input:      DefaultInput,
			Table:      DefaultTable,
			SessionGap: DefaultSessionGap,
		},
	}
}
