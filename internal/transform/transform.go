// Package transform applies a TableSpec's field mappings to raw source
// records, producing normalized rows. Transformation is pure: no I/O, no
// shared state, safe to run from any worker.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

// Error kinds for TransformError.
const (
	KindRequiredMissing = "required_field_missing"
	KindBadFormat       = "bad_format"
)

// TransformError reports a row-scoped transformation failure. The row is
// dropped and recorded as a data quality issue; the batch continues.
type TransformError struct {
	Column string
	Kind   string
	Cause  error
}

func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transform: column %s: %s: %v", e.Column, e.Kind, e.Cause)
	}
	return fmt.Sprintf("transform: column %s: %s", e.Column, e.Kind)
}

func (e *TransformError) Unwrap() error { return e.Cause }

// Transformer turns raw records into normalized rows. Now is injectable so
// tests get deterministic metadata timestamps; nil means time.Now.
type Transformer struct {
	Now func() time.Time
}

func (tr Transformer) now() time.Time {
	if tr.Now != nil {
		return tr.Now()
	}
	return time.Now().UTC()
}

// Transform maps one raw record to one normalized row. Every column declared
// by the spec is present in the result, default-filled when the source path
// is absent. Missing optional fields never produce an error; only a missing
// required datetime/date or a malformed date value does.
func (tr Transformer) Transform(spec schema.TableSpec, raw records.Record) (records.Row, error) {
	row := make(records.Row, len(spec.Fields))
	stamp := tr.now()

	for _, fm := range spec.Fields {
		var val records.Value
		if fm.Path == schema.PathNow {
			val = records.Of(stamp)
		} else {
			val = Resolve(raw, fm.Path)
		}
		if val.Missing() && fm.Default != nil {
			val = records.Of(fm.Default)
		}
		if len(fm.Map) > 0 && !val.Missing() {
			s := stringify(val.Raw)
			if mapped, ok := fm.Map[s]; ok {
				val = records.Of(mapped)
			}
		}

		coerced, err := coerce(fm, val)
		if err != nil {
			return nil, err
		}
		row[fm.Column] = coerced
	}
	return row, nil
}

// coerce converts a resolved value to the mapping's target type. The rules
// mirror the upstream schema contract: absent optional values become
// type-appropriate zero values, never errors.
func coerce(fm schema.FieldMapping, val records.Value) (any, error) {
	switch fm.Type {
	case schema.TypeString:
		if val.Missing() {
			return "", nil
		}
		s := stringify(val.Raw)
		if fm.Format != "" {
			if t, ok := parseAnyTimestamp(s); ok {
				return t.Format(fm.Format), nil
			}
		}
		return s, nil

	case schema.TypeInteger:
		if val.Missing() {
			return int64(0), nil
		}
		return toInt64(val.Raw), nil

	case schema.TypeDecimal:
		if val.Missing() {
			return float64(0), nil
		}
		return toFloat64(val.Raw), nil

	case schema.TypeBoolean:
		if val.Missing() {
			return false, nil
		}
		return truthy(val.Raw), nil

	case schema.TypeDatetime:
		if val.Missing() {
			if fm.Required {
				return nil, &TransformError{Column: fm.Column, Kind: KindRequiredMissing}
			}
			return nil, nil
		}
		t, err := parseDatetime(val.Raw)
		if err != nil {
			return nil, &TransformError{Column: fm.Column, Kind: KindBadFormat, Cause: err}
		}
		return t, nil

	case schema.TypeDate:
		if val.Missing() {
			if fm.Required {
				return nil, &TransformError{Column: fm.Column, Kind: KindRequiredMissing}
			}
			return nil, nil
		}
		t, err := parseDate(val.Raw)
		if err != nil {
			return nil, &TransformError{Column: fm.Column, Kind: KindBadFormat, Cause: err}
		}
		return t, nil

	case schema.TypeTime:
		if val.Missing() {
			return "", nil
		}
		s, err := parseClock(val.Raw)
		if err != nil {
			return nil, &TransformError{Column: fm.Column, Kind: KindBadFormat, Cause: err}
		}
		return s, nil

	case schema.TypeJSONArray:
		if val.Missing() {
			return "[]", nil
		}
		return marshalJSON(fm.Column, val.Raw)

	case schema.TypeJSONObject:
		if val.Missing() {
			return "{}", nil
		}
		return marshalJSON(fm.Column, val.Raw)
	}
	// NewRegistry rejects unknown types before any record is transformed.
	return nil, &TransformError{Column: fm.Column, Kind: KindBadFormat,
		Cause: fmt.Errorf("unhandled type %q", fm.Type)}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers decode as float64; render integral values without ".0".
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		// "12.0" style numerics round-trip through float.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

var truthyStrings = map[string]struct{}{
	"true": {}, "1": {}, "yes": {}, "on": {}, "ja": {},
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		_, ok := truthyStrings[strings.ToLower(strings.TrimSpace(t))]
		return ok
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case nil:
		return false
	}
	return true
}

// parseDatetime accepts ISO-8601 timestamps. A trailing literal "Z" is the
// UTC offset, so "2024-03-01T10:00:00Z" equals "2024-03-01T10:00:00+00:00".
func parseDatetime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
	}
	return time.Time{}, fmt.Errorf("not a timestamp value: %T", v)
}

// parseDate accepts YYYY-MM-DD only. Anything else is a bad_format error;
// the row gets rejected rather than silently mis-parsed (dd-mm-yyyy input
// would otherwise swap day and month).
func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case string:
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %q", t)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("not a date value: %T", v)
}

func parseClock(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format("15:04:05"), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{"15:04:05", "15:04"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.Format("15:04:05"), nil
			}
		}
		return "", fmt.Errorf("not a HH:MM[:SS] time: %q", s)
	}
	return "", fmt.Errorf("not a time value: %T", v)
}

func marshalJSON(column string, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &TransformError{Column: column, Kind: KindBadFormat, Cause: err}
	}
	return string(b), nil
}

func parseAnyTimestamp(s string) (time.Time, bool) {
	if t, err := parseDate(s); err == nil {
		return t, true
	}
	if t, err := parseDatetime(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
