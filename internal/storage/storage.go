// Package storage contains storage-agnostic contracts and utilities: the
// Repository interface every sink backend implements, the factory the
// backends register themselves with, and the chunked loader that drives a
// table load through a Repository.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gymsync/internal/schema"
)

// Config selects and configures a storage backend.
type Config struct {
	// Kind selects the registered backend ("postgres", "mssql").
	Kind string

	// DSN is the backend connection string.
	DSN string

	// Schema optionally prefixes table names ("dbo", "public").
	Schema string

	// ManageIndexes suspends secondary indexes around replace loads:
	// disable/rebuild on mssql, drop/recreate on postgres.
	ManageIndexes bool
}

// Repository is the contract every sink backend implements. Chunk methods
// run each call in its own transaction: a failed chunk never takes committed
// chunks with it. Replace is the exception and is atomic for the whole
// table.
type Repository interface {
	// Ping verifies connectivity before a run starts.
	Ping(ctx context.Context) error

	// UpsertChunk inserts rows with new keys and updates every non-key
	// column of rows whose keys already exist.
	UpsertChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error)

	// MergeChunk matches on the key tuple and updates only the spec's
	// measure columns (plus the update stamp) of existing rows.
	MergeChunk(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error)

	// Replace clears the table and bulk-inserts all rows in one transaction.
	Replace(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]any) (int64, error)

	// RowCount reports the table's current row count, for post-load
	// verification.
	RowCount(ctx context.Context, spec schema.TableSpec) (int64, error)

	// Exec runs a backend-specific statement, used by DDL bootstrapping.
	Exec(ctx context.Context, sql string) error

	Close()
}

// Factory constructs a Repository for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under the given kind. Backends call
// this from init; importing storage/all registers every built-in backend.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("storage: duplicate registration for kind %q", kind))
	}
	factories[kind] = f
}

// New opens a Repository of the configured kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// DDLFunc creates a table for a spec if it does not already exist.
type DDLFunc func(ctx context.Context, repo Repository, schemaName string, spec schema.TableSpec) error

var ddlFuncs = map[string]DDLFunc{}

// RegisterDDL installs the DDL bootstrapper for a backend kind. Like
// Register, backends call this from init.
func RegisterDDL(kind string, f DDLFunc) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := ddlFuncs[kind]; dup {
		panic(fmt.Sprintf("storage: duplicate DDL registration for kind %q", kind))
	}
	ddlFuncs[kind] = f
}

// EnsureTable applies the backend's create-if-missing DDL for one table spec.
func EnsureTable(ctx context.Context, kind string, repo Repository, schemaName string, spec schema.TableSpec) error {
	regMu.RLock()
	f, ok := ddlFuncs[kind]
	regMu.RUnlock()
	if !ok {
		return fmt.Errorf("storage: no DDL support registered for kind %q", kind)
	}
	return f(ctx, repo, schemaName, spec)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
