// Package schema holds the declarative definitions of the sync targets: one
// TableSpec per database table, each carrying its source descriptor, field
// mappings, key columns, and update strategy.
//
// A Registry is built once at startup from configuration and is immutable
// afterwards. Every other component receives it (or individual TableSpecs)
// by value; nothing mutates a spec after NewRegistry returns.
package schema

import (
	"fmt"
	"sort"
)

// FieldType enumerates the target column types a FieldMapping may declare.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInteger    FieldType = "integer"
	TypeDecimal    FieldType = "decimal"
	TypeBoolean    FieldType = "boolean"
	TypeDatetime   FieldType = "datetime"
	TypeDate       FieldType = "date"
	TypeTime       FieldType = "time"
	TypeJSONArray  FieldType = "json_array"
	TypeJSONObject FieldType = "json_object"
)

var knownTypes = map[FieldType]struct{}{
	TypeString: {}, TypeInteger: {}, TypeDecimal: {}, TypeBoolean: {},
	TypeDatetime: {}, TypeDate: {}, TypeTime: {}, TypeJSONArray: {}, TypeJSONObject: {},
}

// Strategy selects how the Loader persists a table's rows.
type Strategy string

const (
	// Upsert inserts new keys and updates non-key columns of existing keys.
	Upsert Strategy = "upsert"
	// Replace atomically clears the table and bulk-appends the new batch.
	Replace Strategy = "replace"
	// MergeByKey matches on a composite key tuple and updates measured columns.
	MergeByKey Strategy = "merge_by_key"
)

// Source kinds understood by the extractor layer.
const (
	SourcePaginatedAPI = "api_paginated" // page loop until a short page
	SourceArrayAPI     = "api_array"     // one or few requests, array/series payloads
	SourceSheet        = "sheet"         // bounded grid with a header row
	SourceDerived      = "derived"       // rows derived from another table's raw data
)

// Source describes where a table's raw records come from. Options carries
// source-kind-specific settings (data_path, reshape, variants, ranges) that
// the matching extractor interprets.
type Source struct {
	Kind     string         `json:"kind"`
	Endpoint string         `json:"endpoint,omitempty"` // API path template
	PageSize int            `json:"page_size,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// FieldMapping maps one source path to one target column.
//
// Path uses dot notation with optional array indices, e.g. "address.street"
// or "instructors[0].name". A missing intermediate key or an out-of-range
// index resolves to absent, never to an error.
type FieldMapping struct {
	Path     string    `json:"path"`
	Column   string    `json:"column"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`

	// Map translates the stringified source value before coercion, e.g.
	// {"PERIODIC": "Periodiek"}. Unmapped values pass through unchanged.
	Map map[string]string `json:"map,omitempty"`

	// Format renders a string-typed column from a source date or datetime
	// using the given time layout (e.g. "02-01-2006" for display dates).
	Format string `json:"format,omitempty"`

	// Enum restricts the coerced value to a fixed set (status-like fields).
	// Checked by the validator, not the transformer.
	Enum []string `json:"enum,omitempty"`

	// NonNegative rejects negative integer/decimal values (counts, amounts).
	NonNegative bool `json:"non_negative,omitempty"`
}

// PathNow is the sentinel source path for columns stamped with the moment of
// transformation, such as the DatumLaatsteUpdate metadata column.
const PathNow = "$now"

// TableSpec is the declarative definition of one target table.
type TableSpec struct {
	Name      string         `json:"name"`
	Source    Source         `json:"source"`
	Fields    []FieldMapping `json:"fields"`
	Keys      []string       `json:"keys"`
	Strategy  Strategy       `json:"strategy"`
	DependsOn []string       `json:"depends_on,omitempty"`

	// Measures names the columns merge_by_key updates on a key match.
	// Empty means every mapped non-key column.
	Measures []string `json:"measures,omitempty"`

	// Enabled excludes a table from the default run when false; it can still
	// be requested explicitly. Covers tables that only run on manual trigger.
	Enabled bool `json:"enabled"`
}

// Columns returns the mapped target columns in mapping order.
func (t TableSpec) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Mapping returns the FieldMapping for a target column.
func (t TableSpec) Mapping(column string) (FieldMapping, bool) {
	for _, f := range t.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// MeasureColumns returns the columns merge_by_key updates on a key match.
func (t TableSpec) MeasureColumns() []string {
	if len(t.Measures) > 0 {
		return t.Measures
	}
	keys := make(map[string]struct{}, len(t.Keys))
	for _, k := range t.Keys {
		keys[k] = struct{}{}
	}
	var out []string
	for _, f := range t.Fields {
		if _, isKey := keys[f.Column]; !isKey {
			out = append(out, f.Column)
		}
	}
	return out
}

// ConfigError reports invalid table configuration. It is fatal and always
// raised before any extraction begins.
type ConfigError struct {
	Table string // offending table, empty for cross-table problems
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Table == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: table %s: %s", e.Table, e.Msg)
}

// Registry is the immutable set of validated TableSpecs.
type Registry struct {
	tables map[string]TableSpec
	order  []string // all tables in dependency order
}

// NewRegistry validates the given specs and freezes them into a Registry.
// It fails with *ConfigError on an unknown type or strategy, keys that are
// not a subset of the mapped columns, a key column that is neither required
// nor defaulted, a dependency on an unknown table, or a dependency cycle.
func NewRegistry(specs []TableSpec) (*Registry, error) {
	tables := make(map[string]TableSpec, len(specs))
	for _, t := range specs {
		if t.Name == "" {
			return nil, &ConfigError{Msg: "table with empty name"}
		}
		if _, dup := tables[t.Name]; dup {
			return nil, &ConfigError{Table: t.Name, Msg: "defined twice"}
		}
		if err := validateSpec(t); err != nil {
			return nil, err
		}
		tables[t.Name] = t
	}

	for _, t := range tables {
		for _, dep := range t.DependsOn {
			if _, ok := tables[dep]; !ok {
				return nil, &ConfigError{Table: t.Name, Msg: fmt.Sprintf("depends on unknown table %q", dep)}
			}
		}
	}

	order, err := topoSort(tables)
	if err != nil {
		return nil, err
	}
	return &Registry{tables: tables, order: order}, nil
}

func validateSpec(t TableSpec) error {
	if len(t.Fields) == 0 {
		return &ConfigError{Table: t.Name, Msg: "no field mappings"}
	}
	switch t.Strategy {
	case Upsert, Replace, MergeByKey:
	default:
		return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("unknown strategy %q", t.Strategy)}
	}

	cols := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f.Column == "" {
			return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("mapping %q has empty target column", f.Path)}
		}
		if _, ok := knownTypes[f.Type]; !ok {
			return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("column %s: unknown type %q", f.Column, f.Type)}
		}
		if _, dup := cols[f.Column]; dup {
			return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("column %s mapped twice", f.Column)}
		}
		cols[f.Column] = struct{}{}
	}

	if t.Strategy != Replace && len(t.Keys) == 0 {
		return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("strategy %s requires key columns", t.Strategy)}
	}
	for _, k := range t.Keys {
		if _, ok := cols[k]; !ok {
			return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("key column %s is not a mapped column", k)}
		}
		fm, _ := t.Mapping(k)
		if !fm.Required && fm.Default == nil {
			return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("key column %s must be required or carry a default", k)}
		}
	}
	for _, m := range t.Measures {
		if _, ok := cols[m]; !ok {
			return &ConfigError{Table: t.Name, Msg: fmt.Sprintf("measure column %s is not a mapped column", m)}
		}
	}
	return nil
}

// topoSort orders tables so that every table follows its dependencies.
// Cycles are detected with a depth-first traversal keeping a recursion-stack
// set; the first cycle found is reported as a ConfigError.
func topoSort(tables map[string]TableSpec) ([]string, error) {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic order among independents

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(tables))
	order := make([]string, 0, len(tables))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case inStack:
			return &ConfigError{Table: name, Msg: "dependency cycle"}
		}
		state[name] = inStack
		for _, dep := range tables[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Table returns the spec for name.
func (r *Registry) Table(name string) (TableSpec, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Len returns the number of registered tables.
func (r *Registry) Len() int { return len(r.tables) }

// Order returns the requested tables in dependency order. A nil or empty
// request means every enabled table. Requesting a table by name includes it
// even when its Enabled toggle is off. Unknown names are an error.
func (r *Registry) Order(requested []string) ([]string, error) {
	want := make(map[string]struct{})
	if len(requested) == 0 {
		for n, t := range r.tables {
			if t.Enabled {
				want[n] = struct{}{}
			}
		}
	} else {
		for _, n := range requested {
			if _, ok := r.tables[n]; !ok {
				return nil, &ConfigError{Table: n, Msg: "not a configured table"}
			}
			want[n] = struct{}{}
		}
	}

	out := make([]string, 0, len(want))
	for _, n := range r.order {
		if _, ok := want[n]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// Dependents returns, transitively, every requested table that depends on
// name. Used to mark dependents skipped when a table fails.
func (r *Registry) Dependents(name string, among []string) []string {
	set := make(map[string]struct{}, len(among))
	for _, n := range among {
		set[n] = struct{}{}
	}

	failed := map[string]struct{}{name: {}}
	var out []string
	// r.order is topological, so one forward pass settles transitivity.
	for _, n := range r.order {
		if _, ok := set[n]; !ok {
			continue
		}
		for _, dep := range r.tables[n].DependsOn {
			if _, bad := failed[dep]; bad {
				failed[n] = struct{}{}
				out = append(out, n)
				break
			}
		}
	}
	return out
}
