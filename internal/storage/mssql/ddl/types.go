// Package ddl contains SQL Server-specific helpers for generating DDL from
// table specs.
package ddl

import "gymsync/internal/schema"

// MapType maps a declared field type onto a SQL Server SQL type. Key-sized
// strings use NVARCHAR(450) so they stay under the index key limit.
func MapType(t schema.FieldType, isKey bool) string {
	switch t {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeDecimal:
		return "DECIMAL(18,2)"
	case schema.TypeBoolean:
		return "BIT"
	case schema.TypeDatetime:
		return "DATETIME2"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	default:
		if isKey {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}
