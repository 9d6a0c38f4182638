// Package identity resolves user ids from the identity claims embedded in
// each event's global contexts.
//
// A claim is an IdentityContext entry of global_contexts. The last claim a
// user made, by moment, replaces that user's id on every one of their
// events as "value|id". Users without a claim keep their id, or lose it
// when anonymized.
package identity

import (
	"fmt"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
	"github.com/leapstack-labs/sqlmodels/pkg/pipeline"
	"github.com/leapstack-labs/sqlmodels/pkg/pipelines/sessionized"
)

// ContextType is the _type of claims in global_contexts.
const ContextType = "IdentityContext"

// StageAnonymize is the contract stage reported by Anonymize.
const StageAnonymize = "anonymize"

const identityContext = "identity_context"

// Params configures identity resolution.
type Params struct {
	// IdentityID restricts claims to those whose id matches. Empty accepts
	// the first claim of each event.
	IdentityID string
}

// Pipeline resolves user_id from identity claims and adds identity_user_id.
type Pipeline struct{}

// Name implements pipeline.Pipeline.
func (Pipeline) Name() string { return "identity_resolution" }

// InputContract requires user_id, global_contexts and moment.
func (Pipeline) InputContract(d dialect.Dialect) (pipeline.Contract, error) {
	c, err := pipeline.Require(d, pipeline.UserID, pipeline.GlobalContexts, pipeline.Moment)
	if err != nil {
		return nil, err
	}
	return c.Allow(pipeline.UserID, frame.String), nil
}

// OutputContract requires user_id and identity_user_id as strings, plus the
// untouched global_contexts and moment.
func (Pipeline) OutputContract(d dialect.Dialect, _ Params) (pipeline.Contract, error) {
	c, err := pipeline.Require(d, pipeline.GlobalContexts, pipeline.Moment)
	if err != nil {
		return nil, err
	}
	return c.
		With(pipeline.UserID, frame.String).
		With(pipeline.IdentityUserID, frame.String), nil
}

// Run resolves in. The output has in's columns, with user_id as a string,
// followed by identity_user_id.
func (Pipeline) Run(in *frame.Frame, params Params) (*frame.Frame, error) {
	f, err := stringUserIDs(in)
	if err != nil {
		return nil, err
	}
	claims, err := lastIdentity(f, params.IdentityID)
	if err != nil {
		return nil, err
	}

	merged, err := f.Merge(claims, []string{pipeline.UserID.String()}, frame.LeftJoin, "identity_merged")
	if err != nil {
		return nil, err
	}
	resolved, err := merged.Col(pipeline.IdentityUserID.String())
	if err != nil {
		return nil, err
	}
	original, err := merged.Col(pipeline.UserID.String())
	if err != nil {
		return nil, err
	}
	out, err := merged.Assign(pipeline.UserID.String(), frame.Case(frame.NotNull(resolved), resolved, original))
	if err != nil {
		return nil, err
	}
	return out.Materialize("resolved_identities")
}

// ResolveIdentities runs the pipeline on in with contract checks.
func ResolveIdentities(in *frame.Frame, params Params) (*frame.Frame, error) {
	return pipeline.Invoke[Params](Pipeline{}, in, params)
}

// stringUserIDs casts user_id to a string and pins the input so it can be
// joined.
func stringUserIDs(in *frame.Frame) (*frame.Frame, error) {
	uid, err := in.Col(pipeline.UserID.String())
	if err != nil {
		return nil, err
	}
	f := in
	if uid.Type() != frame.String {
		cast, err := in.Cast(uid, frame.String)
		if err != nil {
			return nil, err
		}
		if f, err = in.Assign(pipeline.UserID.String(), cast); err != nil {
			return nil, err
		}
	}
	return f.Materialize("identity_input")
}

// lastIdentity returns one row per user that made a claim: user_id and the
// identity_user_id of the user's latest claim.
func lastIdentity(f *frame.Frame, identityID string) (*frame.Frame, error) {
	gc, err := f.Col(pipeline.GlobalContexts.String())
	if err != nil {
		return nil, err
	}
	claim, err := firstClaim(f, gc, identityID)
	if err != nil {
		return nil, err
	}
	value, err := claimField(f, claim, "value")
	if err != nil {
		return nil, err
	}
	id, err := claimField(f, claim, "id")
	if err != nil {
		return nil, err
	}
	resolved, err := f.Concat(value, f.StringLit("|"), id)
	if err != nil {
		return nil, err
	}

	keep := []string{pipeline.UserID.String(), pipeline.Moment.String()}
	hasEventID := f.Has(pipeline.EventID.String())
	if hasEventID {
		keep = append(keep, pipeline.EventID.String())
	}

	x, err := f.Assign(identityContext, claim)
	if err != nil {
		return nil, err
	}
	if x, err = x.DropNA(identityContext); err != nil {
		return nil, err
	}
	if x, err = x.Assign(pipeline.IdentityUserID.String(), resolved); err != nil {
		return nil, err
	}
	if x, err = x.Select(append(keep, pipeline.IdentityUserID.String())...); err != nil {
		return nil, err
	}
	if x, err = x.Materialize("extracted_id_and_name"); err != nil {
		return nil, err
	}

	order := []frame.Order{frame.Desc(col(x, pipeline.Moment))}
	if hasEventID {
		order = append(order, frame.Desc(col(x, pipeline.EventID)))
	}
	order = append(order, frame.Desc(col(x, pipeline.IdentityUserID)))

	last, err := x.DropDuplicates([]string{pipeline.UserID.String()}, order, "ranked_identities")
	if err != nil {
		return nil, err
	}
	if last, err = last.Select(pipeline.UserID.String(), pipeline.IdentityUserID.String()); err != nil {
		return nil, err
	}
	return last.Materialize("last_identity")
}

// col returns a column known to exist.
func col(f *frame.Frame, c pipeline.Column) frame.Expr {
	e, _ := f.Col(c.String())
	return e
}

// firstClaim returns the first identity claim in gc by array position,
// optionally restricted to claims with the given id. It is null for events
// without a claim.
func firstClaim(f *frame.Frame, gc frame.Expr, identityID string) (frame.Expr, error) {
	switch d := f.Dialect(); d {
	case dialect.Postgres:
		filter := `@._type == "` + ContextType + `"`
		if identityID == "" {
			path := f.StringLit("$[*] ? (" + filter + ")")
			return frame.Format(frame.JSON, "jsonb_path_query_first(%s, %s)", gc, path), nil
		}
		path := f.StringLit("$[*] ? (" + filter + " && @.id == $id)")
		return frame.Format(frame.JSON,
			"jsonb_path_query_first(%s, %s, jsonb_build_object('id', %s))",
			gc, path, f.StringLit(identityID)), nil
	case dialect.BigQuery:
		typ := f.StringLit(ContextType)
		if identityID == "" {
			return frame.Format(frame.JSON,
				"(select c from unnest(json_query_array(%s)) as c with offset as o "+
					"where json_value(c, '$._type') = %s order by o limit 1)",
				gc, typ), nil
		}
		return frame.Format(frame.JSON,
			"(select c from unnest(json_query_array(%s)) as c with offset as o "+
				"where json_value(c, '$._type') = %s and json_value(c, '$.id') = %s order by o limit 1)",
			gc, typ, f.StringLit(identityID)), nil
	default:
		return frame.Expr{}, &dialect.UnsupportedDialectError{Name: d.String()}
	}
}

// claimField extracts a string field of a claim.
func claimField(f *frame.Frame, claim frame.Expr, key string) (frame.Expr, error) {
	switch d := f.Dialect(); d {
	case dialect.Postgres:
		return frame.Format(frame.String, "(%s ->> %s)", claim, f.StringLit(key)), nil
	case dialect.BigQuery:
		return frame.Format(frame.String, "json_value(%s, %s)", claim, f.StringLit("$."+key)), nil
	default:
		return frame.Expr{}, &dialect.UnsupportedDialectError{Name: d.String()}
	}
}

// Anonymize nulls user_id on rows without a resolved identity. f must have
// identity_user_id, as produced by the pipeline.
func Anonymize(f *frame.Frame) (*frame.Frame, error) {
	resolved, err := f.Col(pipeline.IdentityUserID.String())
	if err != nil {
		return nil, &pipeline.ContractViolation{
			Pipeline: Pipeline{}.Name(),
			Stage:    StageAnonymize,
			Column:   pipeline.IdentityUserID.String(),
			Expected: frame.String.String(),
			Actual:   "missing",
		}
	}
	uid, err := f.Col(pipeline.UserID.String())
	if err != nil {
		return nil, &pipeline.ContractViolation{
			Pipeline: Pipeline{}.Name(),
			Stage:    StageAnonymize,
			Column:   pipeline.UserID.String(),
			Expected: frame.String.String(),
			Actual:   "missing",
		}
	}
	return f.Assign(pipeline.UserID.String(), frame.Case(frame.IsNull(resolved), frame.NullOf(uid.Type()), uid))
}

// ResolveOptions configures Resolve.
type ResolveOptions struct {
	IdentityID string

	// WithSessionizedData sessionizes the resolved events, so sessions are
	// built per resolved user.
	WithSessionizedData bool
	SessionGapSeconds   int64

	// Anonymize nulls user_id for users without a claim.
	Anonymize bool

	// KeepResolvedColumn keeps identity_user_id in the result.
	KeepResolvedColumn bool
}

// Resolve resolves identities in in and then, as requested, sessionizes,
// anonymizes and drops identity_user_id.
func Resolve(in *frame.Frame, opts ResolveOptions) (*frame.Frame, error) {
	out, err := ResolveIdentities(in, Params{IdentityID: opts.IdentityID})
	if err != nil {
		return nil, err
	}
	if opts.WithSessionizedData {
		out, err = sessionized.Sessionize(out, sessionized.Params{SessionGapSeconds: opts.SessionGapSeconds})
		if err != nil {
			return nil, fmt.Errorf("sessionize resolved events: %w", err)
		}
	}
	if opts.Anonymize {
		if out, err = Anonymize(out); err != nil {
			return nil, err
		}
	}
	if !opts.KeepResolvedColumn {
		if out, err = out.Drop(pipeline.IdentityUserID.String()); err != nil {
			return nil, err
		}
	}
	return out, nil
}
