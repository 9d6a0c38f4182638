package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// graphNode describes one node of a compiled graph.
type graphNode struct {
	Name       string   `json:"name" yaml:"name"`
	Identifier string   `json:"identifier" yaml:"identifier"`
	Hash       string   `json:"hash" yaml:"hash"`
	Refs       []string `json:"refs,omitempty" yaml:"refs,omitempty"`
	Upstream   int      `json:"upstream" yaml:"upstream"`
	UsedBy     []string `json:"used_by,omitempty" yaml:"used_by,omitempty"`
}

// graphLevel is a set of nodes that only reference earlier levels.
type graphLevel struct {
	Level int         `json:"level" yaml:"level"`
	Nodes []graphNode `json:"nodes" yaml:"nodes"`
}

type graphOutput struct {
	Pipeline string       `json:"pipeline" yaml:"pipeline"`
	Dialect  string       `json:"dialect" yaml:"dialect"`
	Root     string       `json:"root" yaml:"root"`
	Nodes    int          `json:"nodes" yaml:"nodes"`
	Edges    int          `json:"edges" yaml:"edges"`
	Sources  []string     `json:"sources" yaml:"sources"`
	Levels   []graphLevel `json:"levels" yaml:"levels"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	var template bool
	cmd := &cobra.Command{
		Use:   "graph <pipeline>",
		Short: "Show the node graph of a pipeline",
		Long: `Display the SQL model nodes a pipeline compiles from, grouped by
dependency level. Nodes in a level only reference nodes of earlier levels.`,
		Example: `  sqlmodels graph identity
  sqlmodels graph sessionized -o yaml`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: Pipelines,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, args[0], template)
		},
	}
	cmd.Flags().BoolVar(&template, "template", false, "Build sessionized from the single-node template")
	return cmd
}

func runGraph(cmd *cobra.Command, name string, template bool) error {
	c := NewCommandContext(cmd)
	d, err := c.Cfg.SQLDialect()
	if err != nil {
		return err
	}
	b, err := c.NewBuilder(d)
	if err != nil {
		return err
	}
	root, err := buildPipeline(b, name, buildOptions{pipeline: c.Cfg.Pipeline, template: template})
	if err != nil {
		return err
	}
	g, err := b.Freeze(root)
	if err != nil {
		return err
	}
	out := describeGraph(g, name)

	switch effectiveFormat(c.Out, c.Cfg.Output) {
	case "json":
		return renderJSON(c.Out, out)
	case "yaml":
		return renderYAML(c.Out, out)
	default:
		return graphText(c.Out, out)
	}
}

func describeGraph(g *sqlmodel.Graph, name string) graphOutput {
	out := graphOutput{
		Pipeline: name,
		Dialect:  g.Dialect().String(),
		Root:     g.Root().Identifier(),
		Nodes:    g.Len(),
		Edges:    g.EdgeCount(),
	}
	for _, n := range g.Sources() {
		out.Sources = append(out.Sources, n.Identifier())
	}
	for i, level := range g.Levels() {
		gl := graphLevel{Level: i}
		for _, n := range level {
			node := graphNode{
				Name:       n.Name(),
				Identifier: n.Identifier(),
				Hash:       n.Hash(),
				Upstream:   len(g.Upstream(n.ID())),
			}
			for _, ref := range n.RefNames() {
				id, _ := n.Ref(ref)
				if dep, ok := g.Node(id); ok {
					node.Refs = append(node.Refs, ref+"="+dep.Identifier())
				}
			}
			for _, dep := range g.Dependents(n.ID()) {
				node.UsedBy = append(node.UsedBy, dep.Identifier())
			}
			gl.Nodes = append(gl.Nodes, node)
		}
		out.Levels = append(out.Levels, gl)
	}
	return out
}

func graphText(w io.Writer, out graphOutput) error {
	title := cases.Title(language.English).String(strings.ReplaceAll(out.Pipeline, "_", " "))
	_, _ = fmt.Fprintf(w, "%s (%s)\n", title, out.Dialect)
	for _, level := range out.Levels {
		_, _ = fmt.Fprintf(w, "\nLevel %d:\n", level.Level)
		for _, n := range level.Nodes {
			if n.Upstream > 0 {
				_, _ = fmt.Fprintf(w, "  %s (%d upstream)\n", n.Identifier, n.Upstream)
			} else {
				_, _ = fmt.Fprintf(w, "  %s\n", n.Identifier)
			}
			for _, ref := range n.Refs {
				_, _ = fmt.Fprintf(w, "    <- %s\n", ref)
			}
			for _, dep := range n.UsedBy {
				_, _ = fmt.Fprintf(w, "    -> %s\n", dep)
			}
		}
	}
	_, _ = fmt.Fprintf(w, "\n%d nodes, %d edges, %d levels, root %s\n", out.Nodes, out.Edges, len(out.Levels), out.Root)
	_, _ = fmt.Fprintf(w, "sources: %s\n", strings.Join(out.Sources, ", "))
	return nil
}
