package pipeline

import (
	"fmt"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
)

// Column is a well-known column of the event data the pipelines consume
// and produce.
type Column string

// Known columns.
const (
	EventID          Column = "event_id"
	Day              Column = "day"
	Moment           Column = "moment"
	UserID           Column = "user_id"
	GlobalContexts   Column = "global_contexts"
	LocationStack    Column = "location_stack"
	EventType        Column = "event_type"
	StackEventTypes  Column = "stack_event_types"
	SessionID        Column = "session_id"
	SessionHitNumber Column = "session_hit_number"
	IdentityUserID   Column = "identity_user_id"
)

// Columns returns every known column in canonical order.
func Columns() []Column {
	return []Column{
		EventID, Day, Moment, UserID, GlobalContexts, LocationStack,
		EventType, StackEventTypes, SessionID, SessionHitNumber, IdentityUserID,
	}
}

// ExtractedColumns returns the columns of an extracted contexts frame.
func ExtractedColumns() []Column {
	return []Column{EventID, Day, Moment, UserID, GlobalContexts, LocationStack, EventType, StackEventTypes}
}

func (c Column) String() string { return string(c) }

var columnTypes = map[Column]frame.Type{
	EventID:          frame.UUID,
	Day:              frame.Date,
	Moment:           frame.Timestamp,
	UserID:           frame.UUID,
	GlobalContexts:   frame.JSON,
	LocationStack:    frame.JSON,
	EventType:        frame.String,
	StackEventTypes:  frame.JSON,
	SessionID:        frame.Int64,
	SessionHitNumber: frame.Int64,
	IdentityUserID:   frame.String,
}

// ColumnType returns the semantic type of c in dialect d.
func ColumnType(d dialect.Dialect, c Column) (frame.Type, error) {
	t, ok := columnTypes[c]
	if !ok {
		return frame.Unknown, fmt.Errorf("unknown column %q", c)
	}
	switch d {
	case dialect.Postgres:
		return t, nil
	case dialect.BigQuery:
		switch c {
		case EventID, UserID:
			return frame.String, nil
		case GlobalContexts, LocationStack, StackEventTypes:
			return frame.JSONArray, nil
		}
		return t, nil
	default:
		return frame.Unknown, &dialect.UnsupportedDialectError{Name: d.String()}
	}
}

// Schema returns the typed fields for cols in dialect d.
func Schema(d dialect.Dialect, cols ...Column) ([]frame.Field, error) {
	out := make([]frame.Field, len(cols))
	for i, c := range cols {
		t, err := ColumnType(d, c)
		if err != nil {
			return nil, err
		}
		out[i] = frame.Field{Name: c.String(), Type: t}
	}
	return out, nil
}
