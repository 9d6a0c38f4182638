// Command sqlmodels compiles event pipelines to SQL.
package main

import (
	"os"

	"github.com/leapstack-labs/sqlmodels/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
