package dialect

import (
	"fmt"
	"strings"
)

// SecondsBetween returns an expression for the number of seconds elapsed
// from earlier to later. Both arguments are SQL expressions.
func SecondsBetween(d Dialect, later, earlier string) (string, error) {
	switch d {
	case Postgres:
		return fmt.Sprintf("extract(epoch from (%s - %s))", later, earlier), nil
	case BigQuery:
		return fmt.Sprintf("(timestamp_diff(%s, %s, MICROSECOND) / 1000000)", later, earlier), nil
	default:
		return "", &UnsupportedDialectError{Name: d.String()}
	}
}

// StringType returns the name of the generic string type.
func StringType(d Dialect) (string, error) {
	switch d {
	case Postgres:
		return "text", nil
	case BigQuery:
		return "STRING", nil
	default:
		return "", &UnsupportedDialectError{Name: d.String()}
	}
}

// Cast returns an expression casting expr to typeName.
func Cast(d Dialect, expr, typeName string) (string, error) {
	if !d.Valid() {
		return "", &UnsupportedDialectError{Name: d.String()}
	}
	return fmt.Sprintf("cast(%s as %s)", expr, typeName), nil
}

// Concat returns an expression concatenating parts as strings.
func Concat(d Dialect, parts ...string) (string, error) {
	switch d {
	case Postgres:
		wrapped := make([]string, len(parts))
		for i, p := range parts {
			wrapped[i] = "(" + p + ")"
		}
		return strings.Join(wrapped, " || "), nil
	case BigQuery:
		return "concat(" + strings.Join(parts, ", ") + ")", nil
	default:
		return "", &UnsupportedDialectError{Name: d.String()}
	}
}
