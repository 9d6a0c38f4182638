// Package pipeline defines how SQL-building pipelines declare and check the
// shape of the frames they consume and produce.
//
// A pipeline is invoked through Invoke, which checks the input frame
// against the pipeline's input contract before anything is added to the
// graph, runs it, and checks the result against the output contract.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
	"github.com/leapstack-labs/sqlmodels/pkg/frame"
)

// ErrContractViolation is matched by every *ContractViolation.
var ErrContractViolation = errors.New("contract violation")

// Stages at which contracts are checked.
const (
	StageInput  = "input"
	StageOutput = "output"
)

// ContractViolation reports a column that is missing or has the wrong type.
type ContractViolation struct {
	Pipeline string
	Stage    string
	Column   string
	Expected string
	Actual   string // "missing" when the column is absent
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("%s %s: column %q: expected %s, got %s", e.Pipeline, e.Stage, e.Column, e.Expected, e.Actual)
}

// Is reports whether target is ErrContractViolation.
func (e *ContractViolation) Is(target error) bool { return target == ErrContractViolation }

// Requirement is a column that must be present with one of Types.
type Requirement struct {
	Column string
	Types  []frame.Type
}

// Contract is an ordered list of column requirements.
type Contract []Requirement

// Require builds a contract requiring each column with its registry type.
func Require(d dialect.Dialect, cols ...Column) (Contract, error) {
	c := make(Contract, len(cols))
	for i, col := range cols {
		t, err := ColumnType(d, col)
		if err != nil {
			return nil, err
		}
		c[i] = Requirement{Column: col.String(), Types: []frame.Type{t}}
	}
	return c, nil
}

// Allow returns a copy of c that also accepts t for col.
func (c Contract) Allow(col Column, t frame.Type) Contract {
	out := make(Contract, len(c))
	for i, r := range c {
		out[i] = Requirement{Column: r.Column, Types: append([]frame.Type(nil), r.Types...)}
		if r.Column == col.String() {
			out[i].Types = append(out[i].Types, t)
		}
	}
	return out
}

// With returns a copy of c with an extra requirement.
func (c Contract) With(col Column, types ...frame.Type) Contract {
	out := append(Contract(nil), c...)
	return append(out, Requirement{Column: col.String(), Types: types})
}

// Check returns a *ContractViolation for the first requirement schema does
// not meet.
func (c Contract) Check(pipeline, stage string, schema []frame.Field) error {
	types := make(map[string]frame.Type, len(schema))
	for _, f := range schema {
		types[f.Name] = f.Type
	}
	for _, r := range c {
		actual, ok := types[r.Column]
		if !ok {
			return r.violation(pipeline, stage, "missing")
		}
		if !r.accepts(actual) {
			return r.violation(pipeline, stage, actual.String())
		}
	}
	return nil
}

func (r Requirement) accepts(t frame.Type) bool {
	for _, want := range r.Types {
		if want == t {
			return true
		}
	}
	return false
}

func (r Requirement) violation(pipeline, stage, actual string) *ContractViolation {
	names := make([]string, len(r.Types))
	for i, t := range r.Types {
		names[i] = t.String()
	}
	return &ContractViolation{
		Pipeline: pipeline,
		Stage:    stage,
		Column:   r.Column,
		Expected: strings.Join(names, " or "),
		Actual:   actual,
	}
}

// Pipeline builds a result frame from an input frame and parameters P.
type Pipeline[P any] interface {
	Name() string
	InputContract(d dialect.Dialect) (Contract, error)
	Run(in *frame.Frame, params P) (*frame.Frame, error)
	OutputContract(d dialect.Dialect, params P) (Contract, error)
}

// Invoke checks in against p's input contract, runs p and checks the result
// against p's output contract.
func Invoke[P any](p Pipeline[P], in *frame.Frame, params P) (*frame.Frame, error) {
	d := in.Dialect()

	inContract, err := p.InputContract(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if err := inContract.Check(p.Name(), StageInput, in.Schema()); err != nil {
		return nil, err
	}

	out, err := p.Run(in, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}

	outContract, err := p.OutputContract(d, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if err := outContract.Check(p.Name(), StageOutput, out.Schema()); err != nil {
		return nil, err
	}
	return out, nil
}
