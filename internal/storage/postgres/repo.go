// Package postgres implements a Postgres sink using pgx v5. Chunks are
// COPYed into a temporary table and folded into the target with a set-based
// INSERT ... ON CONFLICT, so a chunk is one transaction end to end.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gymsync/internal/schema"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN    string // connection string for pgxpool
	Schema string // optional schema prefix, e.g. "public"

	// ManageIndexes drops secondary indexes before a Replace refill and
	// recreates them afterwards, inside the same transaction.
	ManageIndexes bool
}

// Repository is a Postgres-backed sink.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, pool.Close, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertChunk stages the chunk in a temp table and upserts it: new keys are
// inserted, existing keys get every non-key column updated.
func (r *Repository) UpsertChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error) {
	return r.writeChunk(ctx, spec, columns, rows, nonKeyColumns(spec, columns))
}

// MergeChunk stages the chunk and updates only the spec's measure columns
// (plus the update stamp) on a key match.
func (r *Repository) MergeChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error) {
	return r.writeChunk(ctx, spec, columns, rows, mergeColumns(spec))
}

func (r *Repository) writeChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any, updateCols []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Keys) == 0 {
		return 0, fmt.Errorf("postgres: table %s has no key columns", spec.Name)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tmp := "tmp_" + strings.ToLower(spec.Name)
	fq := r.fqn(spec.Name)

	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WHERE false",
		pgIdent(tmp), strings.Join(mapIdent(columns), ","), fq,
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("copy into temp: %s (%s)", pgErr.Detail, pgErr.SQLState())
		}
		return 0, fmt.Errorf("copy into temp: %w", err)
	}

	upsert := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		fq,
		strings.Join(mapIdent(columns), ","),
		strings.Join(mapIdent(columns), ","),
		pgIdent(tmp),
		strings.Join(mapIdent(spec.Keys), ","),
		strings.Join(excludedUpdates(updateCols), ", "),
	)
	if _, err := tx.Exec(ctx, upsert); err != nil {
		return 0, fmt.Errorf("upsert phase: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Replace clears the table and refills it in a single transaction, COPYing
// directly into the target. With ManageIndexes set, secondary indexes are
// dropped before the refill and recreated afterwards so the COPY does not
// maintain them row by row; the transaction keeps either outcome atomic.
func (r *Repository) Replace(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var indexDefs []string
	if r.cfg.ManageIndexes {
		if indexDefs, err = r.dropSecondaryIndexes(ctx, tx, spec.Name); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM "+r.fqn(spec.Name)); err != nil {
		return 0, fmt.Errorf("clear table: %w", err)
	}
	n, err := tx.CopyFrom(ctx, r.ident(spec.Name), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy: %w", err)
	}

	for _, def := range indexDefs {
		if _, err := tx.Exec(ctx, def); err != nil {
			return 0, fmt.Errorf("recreate index: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// secondaryIndexQuery lists the table's plain indexes with their definitions.
// Primary key and constraint-backed indexes are excluded: those enforce the
// upsert keys and must stay in place.
const secondaryIndexQuery = `
SELECT i.relname, pg_get_indexdef(x.indexrelid)
FROM pg_index x
JOIN pg_class i ON i.oid = x.indexrelid
JOIN pg_class t ON t.oid = x.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1
  AND t.relname = $2
  AND NOT x.indisprimary
  AND NOT EXISTS (SELECT 1 FROM pg_constraint c WHERE c.conindexid = x.indexrelid)
ORDER BY i.relname`

// dropSecondaryIndexes drops the table's non-constraint indexes inside tx and
// returns their CREATE INDEX definitions for recreation after the refill.
func (r *Repository) dropSecondaryIndexes(ctx context.Context, tx pgx.Tx, table string) ([]string, error) {
	schemaName := r.cfg.Schema
	if schemaName == "" {
		schemaName = "public"
	}

	rows, err := tx.Query(ctx, secondaryIndexQuery, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	type index struct{ name, def string }
	var found []index
	for rows.Next() {
		var ix index
		if err := rows.Scan(&ix.name, &ix.def); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan index: %w", err)
		}
		found = append(found, ix)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	defs := make([]string, 0, len(found))
	for _, ix := range found {
		if _, err := tx.Exec(ctx, dropIndexSQL(schemaName, ix.name)); err != nil {
			return nil, fmt.Errorf("drop index %s: %w", ix.name, err)
		}
		defs = append(defs, ix.def)
	}
	return defs, nil
}

// dropIndexSQL renders the DROP INDEX statement for one schema-qualified index.
func dropIndexSQL(schemaName, index string) string {
	return "DROP INDEX " + pgIdent(schemaName) + "." + pgIdent(index)
}

func (r *Repository) RowCount(ctx context.Context, spec schema.TableSpec) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+r.fqn(spec.Name)).Scan(&n)
	return n, err
}

// Exec runs backend-specific SQL, used by the DDL bootstrapper.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return err
}

func (r *Repository) fqn(table string) string {
	if r.cfg.Schema != "" {
		return pgIdent(r.cfg.Schema) + "." + pgIdent(table)
	}
	return pgIdent(table)
}

func (r *Repository) ident(table string) pgx.Identifier {
	if r.cfg.Schema != "" {
		return pgx.Identifier{r.cfg.Schema, table}
	}
	return pgx.Identifier{table}
}

// nonKeyColumns returns columns minus the spec's keys, preserving order.
func nonKeyColumns(spec schema.TableSpec, columns []string) []string {
	keys := make(map[string]struct{}, len(spec.Keys))
	for _, k := range spec.Keys {
		keys[k] = struct{}{}
	}
	var out []string
	for _, c := range columns {
		if _, isKey := keys[c]; !isKey {
			out = append(out, c)
		}
	}
	return out
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

// excludedUpdates renders "col = EXCLUDED.col" assignments.
func excludedUpdates(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c))
	}
	return out
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
