package frame

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// Type is the semantic type of a column.
type Type int

// Semantic types.
const (
	Unknown Type = iota
	String
	Int64
	Float64
	Bool
	Timestamp
	Date
	UUID
	JSON
	JSONArray
)

var typeNames = map[Type]string{
	Unknown:   "unknown",
	String:    "string",
	Int64:     "int64",
	Float64:   "float64",
	Bool:      "bool",
	Timestamp: "timestamp",
	Date:      "date",
	UUID:      "uuid",
	JSON:      "json",
	JSONArray: "json_array",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType returns the Type named s, as printed by Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s && t != Unknown {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unknown type %q", s)
}

// SQLType returns the database type name used when casting to t.
func (t Type) SQLType(d dialect.Dialect) (string, error) {
	if t == String {
		return dialect.StringType(d)
	}
	switch d {
	case dialect.Postgres:
		switch t {
		case Int64:
			return "bigint", nil
		case Float64:
			return "double precision", nil
		case Bool:
			return "boolean", nil
		case Timestamp:
			return "timestamp", nil
		case Date:
			return "date", nil
		case UUID:
			return "uuid", nil
		case JSON, JSONArray:
			return "jsonb", nil
		}
	case dialect.BigQuery:
		switch t {
		case UUID:
			return dialect.StringType(d)
		case Int64:
			return "INT64", nil
		case Float64:
			return "FLOAT64", nil
		case Bool:
			return "BOOL", nil
		case Timestamp:
			return "TIMESTAMP", nil
		case Date:
			return "DATE", nil
		case JSON, JSONArray:
			return "JSON", nil
		}
	default:
		return "", &dialect.UnsupportedDialectError{Name: d.String()}
	}
	return "", fmt.Errorf("no %s type for %s", d, t)
}

// TypeFromDatabase maps a database type name, as reported by
// information_schema, to a semantic type.
func TypeFromDatabase(dbType string) Type {
	name := strings.ToLower(strings.TrimSpace(dbType))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	switch {
	case strings.HasSuffix(name, "[]"), strings.HasPrefix(name, "array"):
		return JSONArray
	case strings.HasPrefix(name, "timestamp"), name == "datetime":
		return Timestamp
	}
	switch name {
	case "text", "varchar", "character varying", "character", "char", "string", "bpchar":
		return String
	case "bigint", "integer", "int", "int2", "int4", "int8", "int64", "smallint", "tinyint", "hugeint", "ubigint", "uinteger":
		return Int64
	case "double", "double precision", "float", "float4", "float8", "float64", "real", "numeric", "decimal", "bignumeric":
		return Float64
	case "boolean", "bool":
		return Bool
	case "date":
		return Date
	case "uuid":
		return UUID
	case "json", "jsonb":
		return JSON
	default:
		return Unknown
	}
}
