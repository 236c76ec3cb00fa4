package ddl

// ColumnDef describes one column in a backend-agnostic table definition.
// Name is emitted verbatim; backends quote identifiers before building.
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds a renderable table name and an ordered column list. The
// FQN is emitted as-is, so backends pass it pre-quoted.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
