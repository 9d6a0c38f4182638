// Package dialect provides the closed set of SQL dialects that compiled
// models can target, together with the escaping rules and the small
// SQL-shape differences that pipelines need.
//
// Every function in this package switches exhaustively over Dialect and
// returns an *UnsupportedDialectError for values outside the set, so adding
// a dialect means visiting each switch.
package dialect

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Dialect identifies a SQL dialect.
type Dialect int

// Supported dialects. The zero value is intentionally invalid so that an
// unset dialect fails fast instead of silently picking one.
const (
	Postgres Dialect = iota + 1
	BigQuery
)

// ErrUnsupportedDialect is matched by every *UnsupportedDialectError.
var ErrUnsupportedDialect = errors.New("unsupported dialect")

// UnsupportedDialectError is returned when a dialect is unknown, or when a
// known dialect does not support a specific feature.
type UnsupportedDialectError struct {
	Name    string
	Feature string // empty when the dialect itself is unknown
}

func (e *UnsupportedDialectError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("dialect %q does not support %s", e.Name, e.Feature)
	}
	return fmt.Sprintf("unsupported dialect %q\nAvailable dialects: %v", e.Name, List())
}

// Is reports whether target is ErrUnsupportedDialect.
func (e *UnsupportedDialectError) Is(target error) bool {
	return target == ErrUnsupportedDialect
}

// IdentifierConfig defines how identifiers are quoted.
type IdentifierConfig struct {
	Quote    string // opening quote character
	QuoteEnd string // closing quote character
	Escape   string // replacement for an embedded QuoteEnd
}

var names = map[Dialect]string{
	Postgres: "postgres",
	BigQuery: "bigquery",
}

var aliases = map[string]Dialect{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"bigquery":   BigQuery,
}

// Parse returns the dialect with the given name (case-insensitive).
func Parse(name string) (Dialect, error) {
	if d, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return 0, &UnsupportedDialectError{Name: name}
}

// MustParse is like Parse but panics on error.
// Use only in tests or with constant input.
func MustParse(name string) Dialect {
	d, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return d
}

// List returns the canonical names of all dialects (sorted).
func List() []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// String returns the canonical dialect name.
func (d Dialect) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return fmt.Sprintf("dialect(%d)", int(d))
}

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	_, ok := names[d]
	return ok
}

// Identifiers returns the identifier quoting rules for d.
func (d Dialect) Identifiers() (IdentifierConfig, error) {
	switch d {
	case Postgres:
		return IdentifierConfig{Quote: `"`, QuoteEnd: `"`, Escape: `""`}, nil
	case BigQuery:
		return IdentifierConfig{Quote: "`", QuoteEnd: "`", Escape: "``"}, nil
	default:
		return IdentifierConfig{}, &UnsupportedDialectError{Name: d.String()}
	}
}
