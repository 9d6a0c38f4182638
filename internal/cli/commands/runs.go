package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlmodels/internal/state"
)

// runView is a recorded run as printed by the runs command.
type runView struct {
	ID          string     `json:"id" yaml:"id"`
	Pipeline    string     `json:"pipeline" yaml:"pipeline"`
	Dialect     string     `json:"dialect" yaml:"dialect"`
	Hash        string     `json:"hash" yaml:"hash"`
	Status      string     `json:"status" yaml:"status"`
	Rows        int64      `json:"rows" yaml:"rows"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty" yaml:"duration,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	SQL         string     `json:"sql,omitempty" yaml:"sql,omitempty"`
}

func newRunView(r *state.Run) runView {
	v := runView{
		ID:          r.ID,
		Pipeline:    r.Pipeline,
		Dialect:     r.Dialect,
		Hash:        r.Hash,
		Status:      string(r.Status),
		Rows:        r.Rows,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
	}
	if r.CompletedAt != nil {
		v.Duration = r.Duration().Round(time.Millisecond).String()
	}
	return v
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var (
		limit   int
		showSQL bool
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded pipeline runs",
		Long: `List the runs recorded in the state store by the run command, newest
first. Given a run id, show that run; with --sql also print the statement
it executed.`,
		Example: `  # Last 20 runs
  sqlmodels runs

  # One run with its SQL
  sqlmodels runs 2b1f0c4e-0d3b-4a51-9a57-7e0f3f8f2a10 --sql`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showRun(cmd, args[0], showSQL)
			}
			return listRuns(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Print the compiled SQL of the run")
	return cmd
}

func openRunStore(cmd *cobra.Command) (*CommandContext, *state.Store, error) {
	c := NewCommandContext(cmd)
	store, err := c.OpenStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("state store disabled\nHint: set state_path in sqlmodels.yaml or pass --state")
	}
	return c, store, nil
}

func listRuns(cmd *cobra.Command, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}
	c, store, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	views := make([]runView, len(runs))
	for i, r := range runs {
		views[i] = newRunView(r)
	}

	format := effectiveFormat(c.Out, c.Cfg.Output)
	switch format {
	case "json":
		return renderJSON(c.Out, views)
	case "yaml":
		return renderYAML(c.Out, views)
	}

	rs := &resultSet{Columns: []string{"id", "pipeline", "dialect", "status", "rows", "started", "duration", "error"}}
	for _, v := range views {
		duration := v.Duration
		if duration == "" {
			duration = "-"
		}
		rs.Rows = append(rs.Rows, []any{
			v.ID[:8], v.Pipeline, v.Dialect, v.Status, v.Rows,
			v.StartedAt.Local().Format(time.DateTime), duration, v.Error,
		})
	}
	return renderResults(c.Out, rs, format)
}

func showRun(cmd *cobra.Command, id string, showSQL bool) error {
	ctx := cmd.Context()
	c, store, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	v := newRunView(run)
	if showSQL {
		m, err := store.GetCompiled(ctx, run.Hash)
		switch {
		case err == nil:
			v.SQL = m.SQL
		case errors.Is(err, state.ErrNotFound):
			c.Logger.Warn("compiled sql not cached", slog.String("run", run.ID), slog.String("hash", run.Hash))
		default:
			return err
		}
	}

	switch effectiveFormat(c.Out, c.Cfg.Output) {
	case "json":
		return renderJSON(c.Out, v)
	case "yaml":
		return renderYAML(c.Out, v)
	default:
		runText(c.Out, v)
		return nil
	}
}

func runText(w io.Writer, v runView) {
	_, _ = fmt.Fprintf(w, "Run %s\n", v.ID)
	_, _ = fmt.Fprintf(w, "  pipeline: %s (%s)\n", v.Pipeline, v.Dialect)
	_, _ = fmt.Fprintf(w, "  status:   %s\n", v.Status)
	_, _ = fmt.Fprintf(w, "  rows:     %d\n", v.Rows)
	_, _ = fmt.Fprintf(w, "  started:  %s\n", v.StartedAt.Local().Format(time.DateTime))
	if v.Duration != "" {
		_, _ = fmt.Fprintf(w, "  duration: %s\n", v.Duration)
	}
	_, _ = fmt.Fprintf(w, "  hash:     %s\n", v.Hash)
	if v.Error != "" {
		_, _ = fmt.Fprintf(w, "  error:    %s\n", v.Error)
	}
	if v.SQL != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", v.SQL)
	}
}
