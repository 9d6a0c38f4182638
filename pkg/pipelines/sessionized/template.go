package sessionized

import (
	"fmt"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/sqlmodel"
)

// sessionTemplate computes the same columns as Pipeline in a single node.
// Its inner CTE names carry the node's own identifier, so two instances can
// appear in one statement.
const sessionTemplate = `with session_starts_{{id}} as (
    select
        *,
        coalesce({elapsed} > {session_gap_seconds}, true) as is_start_of_session
    from {{events}}
),
session_id_and_count_{{id}} as (
    select
        *,
        case
            when is_start_of_session then
                row_number() over (partition by is_start_of_session order by moment, event_id)
            else -1
        end as session_start_id,
        count(case when is_start_of_session then 1 end) over (
            order by user_id, moment, event_id
            rows between unbounded preceding and current row
        ) as is_one_session
    from session_starts_{{id}}
)
select
    *,
    first_value(session_start_id) over (
        partition by is_one_session order by moment, event_id
    ) as session_id,
    row_number() over (partition by is_one_session order by moment, event_id) as session_hit_number
from session_id_and_count_{{id}}`

// TemplateModel adds a node sessionizing the rows of events, whose output
// must have event_id, user_id and moment columns. Unlike Pipeline, the
// result keeps the intermediate is_start_of_session, session_start_id and
// is_one_session columns.
func TemplateModel(b *sqlmodel.Builder, events sqlmodel.NodeID, gapSeconds int64) (sqlmodel.NodeID, error) {
	gap, err := Params{SessionGapSeconds: gapSeconds}.gap()
	if err != nil {
		return sqlmodel.NoNode, err
	}
	lag := "lag(moment) over (partition by user_id order by moment, event_id)"
	elapsed, err := dialect.SecondsBetween(b.Dialect(), "moment", lag)
	if err != nil {
		return sqlmodel.NoNode, fmt.Errorf("sessionized template: %w", err)
	}

	return b.AddNode(sqlmodel.NodeSpec{
		Name:     "sessionized_data",
		Template: sessionTemplate,
		Params: map[string]sqlmodel.Param{
			"elapsed":             sqlmodel.Raw(elapsed),
			"session_gap_seconds": sqlmodel.Int(gap),
		},
		Refs: map[string]sqlmodel.NodeID{"events": events},
	})
}
