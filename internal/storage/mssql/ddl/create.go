package ddl

import (
	"fmt"
	"strings"

	"gymsync/internal/ddl"
)

// BuildCreateTableSQL renders a SQL Server create-if-missing statement for
// the given table definition. T-SQL has no IF NOT EXISTS clause on CREATE
// TABLE, so the statement is guarded with an OBJECT_ID check.
func BuildCreateTableSQL(def ddl.TableDef) (string, error) {
	sql, err := ddl.BuildCreateTableSQL(def)
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(def.FQN, "'", "''")
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s", escaped, sql), nil
}
