// Package all wires the built-in storage backends into the storage factory.
//
// This package exists purely for side effects: blank-importing it runs the
// init functions of each concrete backend, which register their factories
// and DDL bootstrappers with the storage package. cmd/gymsync imports it so
// the rest of the program stays backend-agnostic and selects a sink by
// storage.Config.Kind alone.
package all

import (
	_ "gymsync/internal/storage/mssql"
	_ "gymsync/internal/storage/postgres"
)
