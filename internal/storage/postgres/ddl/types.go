// Package ddl contains Postgres-specific helpers for generating DDL from
// table specs.
package ddl

import "gymsync/internal/schema"

// MapType maps a declared field type onto a Postgres SQL type.
func MapType(t schema.FieldType) string {
	switch t {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeDecimal:
		return "NUMERIC(18,2)"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDatetime:
		return "TIMESTAMPTZ"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	case schema.TypeJSONArray, schema.TypeJSONObject:
		return "JSONB"
	default:
		return "TEXT"
	}
}
