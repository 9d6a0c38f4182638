package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
)

// Importing this package registers the adapter as "duckdb":
//
//	import _ "github.com/leapstack-labs/sqlmodels/pkg/adapters/duckdb"
func init() {
	adapter.Register("duckdb", func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
