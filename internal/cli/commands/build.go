package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/sqlmodels/internal/config"
	"github.com/leapstack-labs/sqlmodels/internal/state"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/pipeline"
	"github.com/leapstack-labs/sqlmodels/pkg/pipelines/extracted"
	"github.com/leapstack-labs/sqlmodels/pkg/pipelines/identity"
	"github.com/leapstack-labs/sqlmodels/pkg/pipelines/sessionized"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// Pipeline names accepted by compile, run and graph.
const (
	PipelineExtracted   = "extracted"
	PipelineSessionized = "sessionized"
	PipelineIdentity    = "identity"
)

// Pipelines lists the buildable pipelines.
var Pipelines = []string{PipelineExtracted, PipelineSessionized, PipelineIdentity}

// Source returns the frame pipelines read from. A nil Source reads the
// configured input.
type Source func(b *sqlmodel.Builder) (*frame.Frame, error)

type buildOptions struct {
	pipeline config.PipelineConfig
	template bool // build sessionized from the single-node template
	source   Source
}

func checkPipeline(name string) error {
	if !slices.Contains(Pipelines, name) {
		return fmt.Errorf("unknown pipeline %q\nAvailable pipelines: %s", name, strings.Join(Pipelines, ", "))
	}
	return nil
}

// input returns the frame pipelines start from.
func input(b *sqlmodel.Builder, opts buildOptions) (*frame.Frame, error) {
	if opts.source != nil {
		return opts.source(b)
	}
	p := opts.pipeline
	if p.Input == config.InputEvents {
		schema, err := pipeline.Schema(b.Dialect(), pipeline.ExtractedColumns()...)
		if err != nil {
			return nil, err
		}
		return frame.FromTable(b, p.Table, schema)
	}
	return extracted.Model(b, extracted.Params{Table: p.Table, StartDate: p.StartDate, EndDate: p.EndDate})
}

// buildPipeline adds the named pipeline to b and returns its root node.
func buildPipeline(b *sqlmodel.Builder, name string, opts buildOptions) (sqlmodel.NodeID, error) {
	if err := checkPipeline(name); err != nil {
		return sqlmodel.NoNode, err
	}
	p := opts.pipeline

	var in *frame.Frame
	var err error
	if name == PipelineExtracted {
		in, err = extracted.Model(b, extracted.Params{Table: p.Table, StartDate: p.StartDate, EndDate: p.EndDate})
	} else {
		in, err = input(b, opts)
	}
	if err != nil {
		return sqlmodel.NoNode, fmt.Errorf("%s: %w", name, err)
	}

	var out *frame.Frame
	switch name {
	case PipelineExtracted:
		out = in
	case PipelineSessionized:
		if opts.template {
			events, err := in.Node()
			if err != nil {
				return sqlmodel.NoNode, err
			}
			return sessionized.TemplateModel(b, events, p.SessionGapSeconds())
		}
		out, err = sessionized.Sessionize(in, sessionized.Params{SessionGapSeconds: p.SessionGapSeconds()})
	case PipelineIdentity:
		out, err = identity.Resolve(in, identity.ResolveOptions{
			IdentityID:          p.IdentityID,
			WithSessionizedData: p.Sessionize,
			SessionGapSeconds:   p.SessionGapSeconds(),
			Anonymize:           p.Anonymize,
			KeepResolvedColumn:  p.KeepResolvedColumn,
		})
	}
	if err != nil {
		return sqlmodel.NoNode, err
	}
	return out.Node()
}

// compiled is one compiled pipeline.
type compiled struct {
	Pipeline string `json:"pipeline" yaml:"pipeline"`
	Hash     string `json:"hash" yaml:"hash"`
	Root     string `json:"root" yaml:"root"`
	Nodes    int    `json:"nodes" yaml:"nodes"`
	Cached   bool   `json:"cached" yaml:"cached"`
	SQL      string `json:"sql" yaml:"sql"`
}

// compile renders root, reading and filling the store's cache when store
// is not nil. UUID identifiers are never cached since they change on every
// build.
func compile(ctx context.Context, c *CommandContext, store *state.Store, b *sqlmodel.Builder, name string, root sqlmodel.NodeID) (*compiled, error) {
	g, err := b.Freeze(root)
	if err != nil {
		return nil, err
	}
	r := g.Root()
	out := &compiled{Pipeline: name, Hash: r.Hash(), Root: r.Identifier(), Nodes: g.Len()}

	cache := store != nil && c.Cfg.Identifiers != "uuid"
	if cache {
		m, err := store.GetCompiled(ctx, out.Hash)
		switch {
		case err == nil:
			c.Logger.Debug("compiled sql cache hit", slog.String("pipeline", name), slog.String("hash", out.Hash))
			out.SQL = m.SQL
			out.Cached = true
			return out, nil
		case !errors.Is(err, state.ErrNotFound):
			return nil, err
		}
	}

	if out.SQL, err = g.SQL(); err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	if cache {
		err := store.PutCompiled(ctx, &state.CompiledModel{
			Hash:      out.Hash,
			Pipeline:  name,
			Dialect:   g.Dialect().String(),
			Root:      out.Root,
			NodeCount: out.Nodes,
			SQL:       out.SQL,
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
