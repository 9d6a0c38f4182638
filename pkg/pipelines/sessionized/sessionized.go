// Package sessionized assigns session ids and hit numbers to event rows.
//
// A session is a maximal run of one user's events in which no two
// consecutive events are more than the session gap apart. Events are
// ordered by (moment, event_id) everywhere, so ties on moment are broken
// deterministically.
package sessionized

import (
	"fmt"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/pipeline"
)

// DefaultSessionGapSeconds is used when Params.SessionGapSeconds is zero.
const DefaultSessionGapSeconds = 180

// Intermediate columns. They do not appear in the output.
const (
	isStartOfSession = "is_start_of_session"
	sessionStartID   = "session_start_id"
	isOneSession     = "is_one_session"
)

// Params configures sessionization.
type Params struct {
	// SessionGapSeconds is the largest gap between two events of the same
	// session. A gap of exactly this many seconds does not start a new one.
	SessionGapSeconds int64
}

func (p Params) gap() (int64, error) {
	switch {
	case p.SessionGapSeconds < 0:
		return 0, fmt.Errorf("session gap must be positive, got %d", p.SessionGapSeconds)
	case p.SessionGapSeconds == 0:
		return DefaultSessionGapSeconds, nil
	default:
		return p.SessionGapSeconds, nil
	}
}

// Pipeline adds session_id and session_hit_number to event rows.
type Pipeline struct{}

// Name implements pipeline.Pipeline.
func (Pipeline) Name() string { return "sessionized_data" }

// InputContract requires event_id, user_id and moment. user_id may already
// be a string, as it is after identity resolution.
func (Pipeline) InputContract(d dialect.Dialect) (pipeline.Contract, error) {
	c, err := pipeline.Require(d, pipeline.EventID, pipeline.UserID, pipeline.Moment)
	if err != nil {
		return nil, err
	}
	return c.Allow(pipeline.UserID, frame.String), nil
}

// OutputContract requires the session columns on top of the input contract.
func (p Pipeline) OutputContract(d dialect.Dialect, _ Params) (pipeline.Contract, error) {
	c, err := p.InputContract(d)
	if err != nil {
		return nil, err
	}
	return c.
		With(pipeline.SessionID, frame.Int64).
		With(pipeline.SessionHitNumber, frame.Int64), nil
}

// Run sessionizes in. The output has in's columns followed by session_id
// and session_hit_number.
func (Pipeline) Run(in *frame.Frame, params Params) (*frame.Frame, error) {
	gap, err := params.gap()
	if err != nil {
		return nil, err
	}
	names := in.Columns()

	f, err := sessionStarts(in, gap)
	if err != nil {
		return nil, err
	}
	if f, err = sessionIDAndCount(f); err != nil {
		return nil, err
	}
	if f, err = sessionColumns(f); err != nil {
		return nil, err
	}
	if f, err = f.Select(append(names, pipeline.SessionID.String(), pipeline.SessionHitNumber.String())...); err != nil {
		return nil, err
	}
	return f.Materialize("sessionized_data")
}

// Sessionize runs the pipeline on in with contract checks.
func Sessionize(in *frame.Frame, params Params) (*frame.Frame, error) {
	return pipeline.Invoke[Params](Pipeline{}, in, params)
}

type cols struct {
	eventID, userID, moment frame.Expr
}

func columns(f *frame.Frame) (cols, error) {
	var c cols
	var err error
	if c.eventID, err = f.Col(pipeline.EventID.String()); err != nil {
		return c, err
	}
	if c.userID, err = f.Col(pipeline.UserID.String()); err != nil {
		return c, err
	}
	c.moment, err = f.Col(pipeline.Moment.String())
	return c, err
}

func (c cols) byMoment() []frame.Order {
	return []frame.Order{frame.Asc(c.moment), frame.Asc(c.eventID)}
}

// sessionStarts flags the first event of each session: a user's first
// event, or one that follows the previous event by more than gap seconds.
func sessionStarts(f *frame.Frame, gap int64) (*frame.Frame, error) {
	c, err := columns(f)
	if err != nil {
		return nil, err
	}
	prev, err := frame.Lag(c.moment, frame.Window{
		PartitionBy: []frame.Expr{c.userID},
		OrderBy:     c.byMoment(),
	})
	if err != nil {
		return nil, err
	}
	elapsed, err := f.SecondsBetween(c.moment, prev)
	if err != nil {
		return nil, err
	}
	// elapsed is null on a user's first event
	start := frame.Coalesce(frame.Compare(elapsed, ">", frame.IntLit(gap)), frame.BoolLit(true))

	if f, err = f.Assign(isStartOfSession, start); err != nil {
		return nil, err
	}
	return f.Materialize("session_starts")
}

// sessionIDAndCount numbers session starts globally and gives every row a
// key shared by exactly the rows of its session.
func sessionIDAndCount(f *frame.Frame) (*frame.Frame, error) {
	c, err := columns(f)
	if err != nil {
		return nil, err
	}
	start, err := f.Col(isStartOfSession)
	if err != nil {
		return nil, err
	}

	n, err := frame.RowNumber(frame.Window{
		PartitionBy: []frame.Expr{start},
		OrderBy:     c.byMoment(),
	})
	if err != nil {
		return nil, err
	}
	if f, err = f.Assign(sessionStartID, frame.Case(start, n, frame.IntLit(-1))); err != nil {
		return nil, err
	}

	seen, err := frame.RunningCount(start, frame.Window{
		OrderBy: []frame.Order{frame.Asc(c.userID), frame.Asc(c.moment), frame.Asc(c.eventID)},
	})
	if err != nil {
		return nil, err
	}
	if f, err = f.Assign(isOneSession, seen); err != nil {
		return nil, err
	}
	return f.Materialize("session_id_and_count")
}

// sessionColumns spreads each session's start id over its rows and numbers
// the hits.
func sessionColumns(f *frame.Frame) (*frame.Frame, error) {
	c, err := columns(f)
	if err != nil {
		return nil, err
	}
	group, err := f.Col(isOneSession)
	if err != nil {
		return nil, err
	}
	startID, err := f.Col(sessionStartID)
	if err != nil {
		return nil, err
	}
	w := frame.Window{PartitionBy: []frame.Expr{group}, OrderBy: c.byMoment()}

	id, err := frame.FirstValue(startID, w)
	if err != nil {
		return nil, err
	}
	hit, err := frame.RowNumber(w)
	if err != nil {
		return nil, err
	}
	if f, err = f.Assign(pipeline.SessionID.String(), id); err != nil {
		return nil, err
	}
	return f.Assign(pipeline.SessionHitNumber.String(), hit)
}
