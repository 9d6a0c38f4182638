package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	var (
		all      bool
		template bool
	)
	cmd := &cobra.Command{
		Use:   "compile [pipeline...]",
		Short: "Compile pipelines to SQL",
		Long: `Build one or more pipelines and print the single SQL statement each
compiles to.

Compiled statements are cached in the state store by the content hash of
their root node, so compiling an unchanged pipeline again is a lookup.`,
		Example: `  # Sessionize the raw events table
  sqlmodels compile sessionized --table raw.events

  # Every pipeline, built concurrently
  sqlmodels compile --all -o json

  # Identity resolution for BigQuery on an extracted table
  sqlmodels compile identity --dialect bigquery --input events --identity-id email`,
		ValidArgs: Pipelines,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if all {
				names = Pipelines
			}
			if len(names) == 0 {
				return fmt.Errorf("no pipeline given\nHint: pass one of %v or --all", Pipelines)
			}
			return runCompile(cmd, names, template)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Compile every pipeline")
	cmd.Flags().BoolVar(&template, "template", false, "Build sessionized from the single-node template")
	return cmd
}

func runCompile(cmd *cobra.Command, names []string, template bool) error {
	ctx := cmd.Context()
	c := NewCommandContext(cmd)
	for _, name := range names {
		if err := checkPipeline(name); err != nil {
			return err
		}
	}

	d, err := c.Cfg.SQLDialect()
	if err != nil {
		return err
	}
	b, err := c.NewBuilder(d)
	if err != nil {
		return err
	}

	// Pipelines share the builder, so common subgraphs such as the
	// extracted model are added once.
	roots := make([]sqlmodel.NodeID, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			root, err := buildPipeline(b, name, buildOptions{pipeline: c.Cfg.Pipeline, template: template})
			if err != nil {
				return err
			}
			roots[i] = root
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	store, err := c.OpenStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	results := make([]*compiled, len(names))
	for i, name := range names {
		if results[i], err = compile(ctx, c, store, b, name, roots[i]); err != nil {
			return err
		}
	}

	switch effectiveFormat(c.Out, c.Cfg.Output) {
	case "json":
		return renderJSON(c.Out, results)
	case "yaml":
		return renderYAML(c.Out, results)
	}
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				_, _ = fmt.Fprintln(c.Out)
			}
			_, _ = fmt.Fprintf(c.Out, "-- %s (%s)\n", r.Pipeline, r.Hash[:16])
		}
		_, _ = fmt.Fprintln(c.Out, r.SQL)
	}
	return nil
}
