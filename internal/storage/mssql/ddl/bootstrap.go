package ddl

import (
	"context"

	"gymsync/internal/ddl"
	"gymsync/internal/storage"
)

// EnsureTable creates the target SQL Server table if it does not exist. It
// is idempotent and issues the statement through the repository's Exec
// method.
func EnsureTable(ctx context.Context, repo storage.Repository, def ddl.TableDef) error {
	sql, err := BuildCreateTableSQL(def)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
