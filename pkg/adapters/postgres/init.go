package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/sqlmodels/pkg/adapter"
)

// Importing this package registers the adapter as "postgres":
//
//	import _ "github.com/leapstack-labs/sqlmodels/pkg/adapters/postgres"
func init() {
	adapter.Register("postgres", func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
