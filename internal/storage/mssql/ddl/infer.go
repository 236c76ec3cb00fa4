package ddl

import (
	"fmt"
	"strings"

	gddl "gymsync/internal/ddl"
	"gymsync/internal/schema"
)

// FromSpec infers a SQL Server table definition from a table spec. Key
// columns become the primary key and are NOT NULL; everything else is
// nullable unless the field mapping marks it required.
func FromSpec(schemaName string, spec schema.TableSpec) (gddl.TableDef, error) {
	if spec.Name == "" {
		return gddl.TableDef{}, fmt.Errorf("mssql ddl: table name is required")
	}
	if len(spec.Fields) == 0 {
		return gddl.TableDef{}, fmt.Errorf("mssql ddl: table %s has no field mappings", spec.Name)
	}

	keys := make(map[string]struct{}, len(spec.Keys))
	for _, k := range spec.Keys {
		keys[k] = struct{}{}
	}

	defs := make([]gddl.ColumnDef, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		_, isKey := keys[f.Column]
		defs = append(defs, gddl.ColumnDef{
			Name:       quote(f.Column),
			SQLType:    MapType(f.Type, isKey),
			Nullable:   !isKey && !f.Required,
			PrimaryKey: isKey,
		})
	}

	fqn := quote(spec.Name)
	if schemaName != "" {
		fqn = quote(schemaName) + "." + fqn
	}
	return gddl.TableDef{FQN: fqn, Columns: defs}, nil
}

func quote(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }
