package dialect

import (
	"fmt"
	"strings"
)

// QuoteIdentifier wraps name in the dialect's identifier quotes and doubles
// any embedded closing quote.
//
//	QuoteIdentifier(Postgres, `te"st`)     == `"te""st"`
//	QuoteIdentifier(BigQuery, "te`st")     == "`te``st`"
func QuoteIdentifier(d Dialect, name string) (string, error) {
	ids, err := d.Identifiers()
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(name, ids.QuoteEnd, ids.Escape)
	return ids.Quote + escaped + ids.QuoteEnd, nil
}

// UnquoteIdentifier reverses QuoteIdentifier.
func UnquoteIdentifier(d Dialect, quoted string) (string, error) {
	ids, err := d.Identifiers()
	if err != nil {
		return "", err
	}
	return unquote(quoted, ids.Quote, ids.QuoteEnd, ids.Escape)
}

// QuoteString returns value as a string literal.
//
// Postgres doubles embedded single quotes. GoogleSQL does not accept doubled
// quotes inside a literal, so BigQuery escapes backslashes and quotes with a
// backslash instead.
func QuoteString(d Dialect, value string) (string, error) {
	switch d {
	case Postgres:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'", nil
	case BigQuery:
		r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
		return "'" + r.Replace(value) + "'", nil
	default:
		return "", &UnsupportedDialectError{Name: d.String()}
	}
}

// UnquoteString reverses QuoteString.
func UnquoteString(d Dialect, literal string) (string, error) {
	switch d {
	case Postgres:
		return unquote(literal, "'", "'", "''")
	case BigQuery:
		return unquoteBackslash(literal)
	default:
		return "", &UnsupportedDialectError{Name: d.String()}
	}
}

// unquote strips open/end quotes and collapses escape sequences back into a
// single end quote. A bare end quote inside the body is an error.
func unquote(s, open, end, escape string) (string, error) {
	if len(s) < len(open)+len(end) || !strings.HasPrefix(s, open) || !strings.HasSuffix(s, end) {
		return "", fmt.Errorf("not a quoted value: %s", s)
	}
	body := s[len(open) : len(s)-len(end)]

	var b strings.Builder
	for i := 0; i < len(body); {
		if strings.HasPrefix(body[i:], escape) {
			b.WriteString(end)
			i += len(escape)
			continue
		}
		if strings.HasPrefix(body[i:], end) {
			return "", fmt.Errorf("unescaped quote at offset %d in %s", i+len(open), s)
		}
		b.WriteByte(body[i])
		i++
	}
	return b.String(), nil
}

func unquoteBackslash(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", fmt.Errorf("not a quoted value: %s", s)
	}
	body := s[1 : len(s)-1]

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\\':
			if i+1 >= len(body) {
				return "", fmt.Errorf("dangling escape in %s", s)
			}
			i++
			b.WriteByte(body[i])
		case '\'':
			return "", fmt.Errorf("unescaped quote at offset %d in %s", i+1, s)
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}
