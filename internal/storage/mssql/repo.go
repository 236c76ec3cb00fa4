// Package mssql implements a SQL Server sink using the go-mssqldb bulk copy
// API. Chunk writes stage rows in a session-scoped #temp table, delete the
// conflicting keys from the target and insert the staged rows, all inside
// one transaction. Bulk copy sidesteps the driver's 2100-parameter limit on
// ordinary batched inserts.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"gymsync/internal/schema"
)

// Config holds SQL Server repository configuration.
type Config struct {
	DSN    string
	Schema string // optional schema prefix, e.g. "dbo"

	// ManageIndexes disables nonclustered indexes on the target before a
	// replace load and rebuilds them afterwards.
	ManageIndexes bool
}

// Repository is a SQL Server-backed sink.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertChunk stages the chunk in a #temp table, deletes target rows whose
// keys appear in the chunk and inserts the staged rows.
func (r *Repository) UpsertChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error) {
	return r.writeChunk(ctx, spec, columns, rows, nil)
}

// MergeChunk matches on the key tuple and updates only the measure columns
// (plus the update stamp) of existing rows; unmatched rows are inserted.
func (r *Repository) MergeChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error) {
	return r.writeChunk(ctx, spec, columns, rows, mergeColumns(spec))
}

// writeChunk is the shared staging path. With updateCols nil, conflicting
// target rows are deleted and fully re-inserted; with updateCols set, an
// UPDATE-from-join touches only those columns and the remaining staged rows
// are inserted.
func (r *Repository) writeChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any, updateCols []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Keys) == 0 {
		return 0, fmt.Errorf("mssql: table %s has no key columns", spec.Name)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	tmp := "#tmp_" + strings.ToLower(spec.Name)
	fq := r.fqn(spec.Name)

	create := fmt.Sprintf(
		"SELECT TOP 0 %s INTO %s FROM %s",
		strings.Join(mapIdent(columns), ","), msIdent(tmp), fq,
	)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		rollback()
		return 0, fmt.Errorf("create temp: %w", err)
	}

	copied, err := bulkCopy(ctx, tx, tmp, columns, rows)
	if err != nil {
		rollback()
		return 0, err
	}

	keyJoin := equalityJoin(spec.Keys)

	if updateCols == nil {
		del := fmt.Sprintf(
			"DELETE T FROM %s AS T INNER JOIN %s AS S ON %s",
			fq, msIdent(tmp), keyJoin,
		)
		if _, err := tx.ExecContext(ctx, del); err != nil {
			rollback()
			return 0, fmt.Errorf("delete matching rows: %w", err)
		}
		insert := fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s",
			fq,
			strings.Join(mapIdent(columns), ","),
			strings.Join(mapIdent(columns), ","),
			msIdent(tmp),
		)
		if _, err := tx.ExecContext(ctx, insert); err != nil {
			rollback()
			return 0, fmt.Errorf("insert phase: %w", err)
		}
	} else {
		sets := make([]string, len(updateCols))
		for i, c := range updateCols {
			sets[i] = fmt.Sprintf("T.%s = S.%s", msIdent(c), msIdent(c))
		}
		update := fmt.Sprintf(
			"UPDATE T SET %s FROM %s AS T INNER JOIN %s AS S ON %s",
			strings.Join(sets, ", "), fq, msIdent(tmp), keyJoin,
		)
		if _, err := tx.ExecContext(ctx, update); err != nil {
			rollback()
			return 0, fmt.Errorf("update phase: %w", err)
		}
		insert := fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s AS S WHERE NOT EXISTS (SELECT 1 FROM %s AS T WHERE %s)",
			fq,
			strings.Join(mapIdent(columns), ","),
			strings.Join(prefixIdent("S", columns), ","),
			msIdent(tmp), fq, keyJoin,
		)
		if _, err := tx.ExecContext(ctx, insert); err != nil {
			rollback()
			return 0, fmt.Errorf("insert phase: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return copied, nil
}

// Replace clears the table and refills it in a single transaction. With
// ManageIndexes set, nonclustered indexes are disabled for the load and
// rebuilt before commit.
func (r *Repository) Replace(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	fq := r.fqn(spec.Name)

	var suspended []string
	if r.cfg.ManageIndexes {
		suspended, err = r.nonclusteredIndexes(ctx, tx, spec.Name)
		if err != nil {
			rollback()
			return 0, fmt.Errorf("list indexes: %w", err)
		}
		for _, ix := range suspended {
			stmt := fmt.Sprintf("ALTER INDEX %s ON %s DISABLE", msIdent(ix), fq)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				rollback()
				return 0, fmt.Errorf("disable index %s: %w", ix, err)
			}
		}
		if len(suspended) > 0 {
			log.Printf("replace: table=%s disabled %d nonclustered indexes", spec.Name, len(suspended))
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+fq); err != nil {
		rollback()
		return 0, fmt.Errorf("clear table: %w", err)
	}

	var copied int64
	if len(rows) > 0 {
		copied, err = bulkCopy(ctx, tx, r.bulkTarget(spec.Name), columns, rows)
		if err != nil {
			rollback()
			return 0, err
		}
	}

	for _, ix := range suspended {
		stmt := fmt.Sprintf("ALTER INDEX %s ON %s REBUILD", msIdent(ix), fq)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			rollback()
			return 0, fmt.Errorf("rebuild index %s: %w", ix, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return copied, nil
}

func (r *Repository) RowCount(ctx context.Context, spec schema.TableSpec) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.fqn(spec.Name)).Scan(&n)
	return n, err
}

// Exec executes a SQL statement against the pool.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	_, err := r.db.ExecContext(ctx, sqlText)
	return err
}

// bulkCopy streams rows into table via the driver's bulk copy protocol.
func bulkCopy(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// nonclusteredIndexes lists enabled nonclustered indexes on the table.
func (r *Repository) nonclusteredIndexes(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	const q = `SELECT i.name
FROM sys.indexes i
WHERE i.object_id = OBJECT_ID(@p1)
  AND i.type_desc = 'NONCLUSTERED'
  AND i.is_disabled = 0
  AND i.name IS NOT NULL`
	target := table
	if r.cfg.Schema != "" {
		target = r.cfg.Schema + "." + table
	}
	rows, err := tx.QueryContext(ctx, q, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (r *Repository) fqn(table string) string {
	if r.cfg.Schema != "" {
		return msIdent(r.cfg.Schema) + "." + msIdent(table)
	}
	return msIdent(table)
}

// bulkTarget renders the dotted name CopyIn expects, unquoted.
func (r *Repository) bulkTarget(table string) string {
	if r.cfg.Schema != "" {
		return r.cfg.Schema + "." + table
	}
	return table
}

// mergeColumns is the measure set plus the update stamp when the table
// carries one.
func mergeColumns(spec schema.TableSpec) []string {
	cols := spec.MeasureColumns()
	const stampCol = "DatumLaatsteUpdate"
	if _, ok := spec.Mapping(stampCol); !ok {
		return cols
	}
	for _, c := range cols {
		if c == stampCol {
			return cols
		}
	}
	return append(append([]string{}, cols...), stampCol)
}

// equalityJoin builds the T=S key equality condition.
func equalityJoin(keys []string) string {
	conds := make([]string, 0, len(keys))
	for _, col := range keys {
		conds = append(conds, fmt.Sprintf("T.%s = S.%s", msIdent(col), msIdent(col)))
	}
	return strings.Join(conds, " AND ")
}

// prefixIdent qualifies quoted column names with a table alias.
func prefixIdent(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + msIdent(c)
	}
	return out
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// mapIdent maps a list of column names to their bracket-quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
