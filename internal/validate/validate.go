// Package validate runs batch-level checks over normalized rows before they
// reach the loader: required fields, value sanity, in-batch key uniqueness,
// and a lightweight anomaly comparison against the previous run's baseline.
//
// Validation never halts a batch. Bad rows are rejected and reported as
// issues; anomalies only warn. The caller decides what to do with the
// counts, so nothing is lost silently.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

// Severity of a data quality issue.
type Severity string

const (
	// SeverityWarn: recorded, row still loads.
	SeverityWarn Severity = "warn"
	// SeverityReject: recorded, row excluded from loading.
	SeverityReject Severity = "reject"
)

// Issue kinds.
const (
	KindRequiredMissing = "required_missing"
	KindBadValue        = "bad_value"
	KindDuplicateKey    = "duplicate_key"
	KindAnomaly         = "anomaly"
	KindBadFormat       = "bad_format" // rows the transformer could not coerce
)

// Issue is one recorded data quality finding.
type Issue struct {
	Table    string
	RowKey   string // key values of the offending row, "|"-joined
	Field    string
	Kind     string
	Severity Severity
	Detail   string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s row=%s field=%s: %s", i.Table, i.Kind, i.RowKey, i.Field, i.Detail)
}

// Baseline captures the shape of a table's previous accepted batch: row count
// and per-measure sums. Stored between runs by the baseline store.
type Baseline struct {
	Table string
	Rows  int64
	Sums  map[string]float64
	At    time.Time
}

// Validator holds batch validation settings.
type Validator struct {
	// AnomalyThreshold is the relative deviation from the baseline that
	// triggers a warn issue, e.g. 0.5 for ±50%. Zero disables the check.
	AnomalyThreshold float64
}

// Validate checks rows in order: required fields, value sanity, key
// uniqueness, then the batch-level anomaly comparison. The accepted slice
// preserves input order; for a duplicated key only the first occurrence
// survives.
func (v Validator) Validate(spec schema.TableSpec, rows []records.Row, prev *Baseline) ([]records.Row, []Issue) {
	accepted := make([]records.Row, 0, len(rows))
	var issues []Issue
	seen := make(map[uint64]struct{}, len(rows))

	for _, row := range rows {
		key := RowKey(spec, row)

		if iss, ok := checkRow(spec, row, key); !ok {
			issues = append(issues, iss...)
			continue
		} else if len(iss) > 0 {
			issues = append(issues, iss...)
		}

		if len(spec.Keys) > 0 {
			h := keyHash(spec, row)
			if _, dup := seen[h]; dup {
				issues = append(issues, Issue{
					Table: spec.Name, RowKey: key, Field: strings.Join(spec.Keys, "|"),
					Kind: KindDuplicateKey, Severity: SeverityReject,
					Detail: "duplicate key within batch",
				})
				continue
			}
			seen[h] = struct{}{}
		}
		accepted = append(accepted, row)
	}

	issues = append(issues, v.anomalies(spec, accepted, prev)...)
	return accepted, issues
}

// checkRow runs per-row checks. ok=false means the row is rejected; the
// returned issues explain why (or carry warnings for an accepted row).
func checkRow(spec schema.TableSpec, row records.Row, key string) (issues []Issue, ok bool) {
	ok = true
	for _, fm := range spec.Fields {
		val := row[fm.Column]

		if fm.Required && isEmpty(val) {
			issues = append(issues, Issue{
				Table: spec.Name, RowKey: key, Field: fm.Column,
				Kind: KindRequiredMissing, Severity: SeverityReject,
				Detail: "required field missing or empty",
			})
			ok = false
			continue
		}
		if isEmpty(val) {
			continue
		}

		if fm.NonNegative {
			if f, isNum := asFloat(val); isNum && f < 0 {
				issues = append(issues, Issue{
					Table: spec.Name, RowKey: key, Field: fm.Column,
					Kind: KindBadValue, Severity: SeverityReject,
					Detail: fmt.Sprintf("negative value %v", val),
				})
				ok = false
				continue
			}
		}

		if len(fm.Enum) > 0 {
			s := fmt.Sprint(val)
			found := false
			for _, allowed := range fm.Enum {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				issues = append(issues, Issue{
					Table: spec.Name, RowKey: key, Field: fm.Column,
					Kind: KindBadValue, Severity: SeverityReject,
					Detail: fmt.Sprintf("%q not in %v", s, fm.Enum),
				})
				ok = false
			}
		}
	}
	return issues, ok
}

// anomalies compares the accepted batch against the previous baseline.
// Deviations only warn; a shrunk or grown batch may be legitimate.
func (v Validator) anomalies(spec schema.TableSpec, rows []records.Row, prev *Baseline) []Issue {
	if v.AnomalyThreshold <= 0 || prev == nil || prev.Rows == 0 {
		return nil
	}
	var issues []Issue

	if dev := deviation(float64(len(rows)), float64(prev.Rows)); dev > v.AnomalyThreshold {
		issues = append(issues, Issue{
			Table: spec.Name, Kind: KindAnomaly, Severity: SeverityWarn,
			Detail: fmt.Sprintf("row count %d deviates %.0f%% from baseline %d", len(rows), dev*100, prev.Rows),
		})
	}

	cur := Snapshot(spec, rows)
	measureNames := make([]string, 0, len(prev.Sums))
	for col := range prev.Sums {
		measureNames = append(measureNames, col)
	}
	sort.Strings(measureNames)
	for _, col := range measureNames {
		base := prev.Sums[col]
		if base == 0 {
			continue
		}
		if dev := deviation(cur.Sums[col], base); dev > v.AnomalyThreshold {
			issues = append(issues, Issue{
				Table: spec.Name, Field: col, Kind: KindAnomaly, Severity: SeverityWarn,
				Detail: fmt.Sprintf("sum %.2f deviates %.0f%% from baseline %.2f", cur.Sums[col], dev*100, base),
			})
		}
	}
	return issues
}

// Snapshot computes the baseline of an accepted batch: its row count and the
// sums of every numeric measure column.
func Snapshot(spec schema.TableSpec, rows []records.Row) Baseline {
	b := Baseline{Table: spec.Name, Rows: int64(len(rows)), Sums: map[string]float64{}, At: time.Now().UTC()}
	for _, col := range spec.MeasureColumns() {
		fm, _ := spec.Mapping(col)
		if fm.Type != schema.TypeInteger && fm.Type != schema.TypeDecimal {
			continue
		}
		var sum float64
		for _, row := range rows {
			if f, ok := asFloat(row[col]); ok {
				sum += f
			}
		}
		b.Sums[col] = sum
	}
	return b
}

// RowKey renders a row's key values for issue reporting.
func RowKey(spec schema.TableSpec, row records.Row) string {
	if len(spec.Keys) == 0 {
		return ""
	}
	parts := make([]string, len(spec.Keys))
	for i, k := range spec.Keys {
		parts[i] = keyPart(row[k])
	}
	return strings.Join(parts, "|")
}

// keyHash fingerprints the composite key tuple. Parts are length-prefixed so
// ("ab","c") and ("a","bc") never collide.
func keyHash(spec schema.TableSpec, row records.Row) uint64 {
	var sb strings.Builder
	for _, k := range spec.Keys {
		part := keyPart(row[k])
		fmt.Fprintf(&sb, "%d:%s;", len(part), part)
	}
	return xxh3.HashString(sb.String())
}

func keyPart(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func deviation(cur, base float64) float64 {
	if base == 0 {
		return 0
	}
	d := (cur - base) / base
	if d < 0 {
		d = -d
	}
	return d
}
