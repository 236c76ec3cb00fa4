// Package records defines the record types flowing through the sync engine.
//
// A Record is the untyped nested mapping a source hands back (one JSON object,
// one spreadsheet row). A Row is the typed, column-keyed result of applying a
// table's field mappings to a Record.
//
// Field access on a Record distinguishes three states: a path can be absent,
// present-but-null, or present with a value. Downstream code must never treat
// "falsy" as "missing"; the Value type carries the distinction explicitly.
package records

// Record is one raw source record. Nested objects decode as map[string]any,
// arrays as []any, matching encoding/json defaults.
type Record map[string]any

// Row is one normalized row: target column name -> coerced value.
// A nil value means SQL NULL.
type Row map[string]any

// State describes the outcome of resolving a path against a Record.
type State int

const (
	// Absent: the path did not resolve (missing key, index out of range).
	Absent State = iota
	// Null: the path resolved to an explicit null.
	Null
	// Present: the path resolved to a non-null value.
	Present
)

// Value is a resolved field: the raw value plus its resolution state.
type Value struct {
	State State
	Raw   any
}

// Missing reports whether the value is unusable as-is (absent or null).
func (v Value) Missing() bool { return v.State != Present }

// AbsentValue is the zero resolution result.
var AbsentValue = Value{State: Absent}

// Of wraps a raw value, mapping nil to the Null state.
func Of(raw any) Value {
	if raw == nil {
		return Value{State: Null}
	}
	return Value{State: Present, Raw: raw}
}

// Columns returns the row's column names in unspecified order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	return cols
}
