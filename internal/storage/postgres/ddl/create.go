package ddl

import (
	"strings"

	"gymsync/internal/ddl"
)

// BuildCreateTableSQL renders a Postgres CREATE TABLE IF NOT EXISTS
// statement for the given table definition, wrapping the generic builder.
func BuildCreateTableSQL(def ddl.TableDef) (string, error) {
	sql, err := ddl.BuildCreateTableSQL(def)
	if err != nil {
		return "", err
	}
	return strings.Replace(sql, "CREATE TABLE ", "CREATE TABLE IF NOT EXISTS ", 1), nil
}
