// Package source extracts raw records from the configured sources. One
// extractor exists per source kind (paginated API, bulk/array API,
// spreadsheet grid, and derived records carved out of another table's raw
// data), selected by the TableSpec's source descriptor.
//
// Source-shape concerns live here: pagination, endpoint variants, and the
// reshaping of labels/series analytics payloads into flat per-index records.
// Target-shape concerns (column mapping, coercion) belong to the transformer.
package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

// ExtractionError is a table-scoped extraction failure. NonRetryable marks
// 4xx-style application errors where retrying cannot help; everything else
// already exhausted the client's backoff budget.
type ExtractionError struct {
	Table        string
	NonRetryable bool
	Checkpoint   Checkpoint // progress at failure, for a resumed attempt
	Cause        error
}

func (e *ExtractionError) Error() string {
	kind := "transient"
	if e.NonRetryable {
		kind = "non-retryable"
	}
	return fmt.Sprintf("extract %s: %s: %v", e.Table, kind, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Checkpoint is a resume cursor for restartable extraction: the number of
// pages already consumed.
type Checkpoint struct {
	Page int
}

// Window is the date range requested from date-filtered endpoints. A zero
// Window means the endpoint takes no date parameters.
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether no window applies.
func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// API is the narrow client surface extraction needs. *httpapi.Client
// satisfies it; tests substitute fakes.
type API interface {
	GetJSON(ctx context.Context, path string, query url.Values) (any, error)
}

// Grid is the narrow spreadsheet surface: a bounded rectangle of cells whose
// first row names the columns.
type Grid interface {
	ReadAll(ctx context.Context) ([][]string, error)
}

// RawLookup returns the raw records previously extracted for another table.
// Derived sources use it; it is nil outside an orchestrated run.
type RawLookup func(table string) ([]records.Record, bool)

// Extractor produces the complete raw record sequence for one table,
// restartable from a checkpoint.
type Extractor interface {
	Extract(ctx context.Context, spec schema.TableSpec, win Window, cp Checkpoint) ([]records.Record, error)
}

// Dispatcher selects the extractor matching a spec's source kind.
type Dispatcher struct {
	API    API
	Grids  map[string]Grid // sheet name -> grid
	Lookup RawLookup
	Clock  func() time.Time // nil means time.Now
}

// For returns the extractor for the spec's source kind.
func (d *Dispatcher) For(spec schema.TableSpec) (Extractor, error) {
	switch spec.Source.Kind {
	case schema.SourcePaginatedAPI:
		return &paginatedExtractor{api: d.API, lookup: d.Lookup}, nil
	case schema.SourceArrayAPI:
		return &arrayExtractor{api: d.API, lookup: d.Lookup}, nil
	case schema.SourceSheet:
		return &sheetExtractor{grids: d.Grids}, nil
	case schema.SourceDerived:
		return &derivedExtractor{lookup: d.Lookup}, nil
	}
	return nil, &ExtractionError{
		Table:        spec.Name,
		NonRetryable: true,
		Cause:        fmt.Errorf("unknown source kind %q", spec.Source.Kind),
	}
}

// WindowFor computes the date window of a spec from its days_back /
// days_forward options, relative to now. Specs without those options get a
// zero window.
func (d *Dispatcher) WindowFor(spec schema.TableSpec) Window {
	opts := options(spec.Source.Options)
	back, hasBack := opts.intOK("days_back")
	fwd, hasFwd := opts.intOK("days_forward")
	if !hasBack && !hasFwd {
		return Window{}
	}
	now := time.Now
	if d.Clock != nil {
		now = d.Clock
	}
	today := now().UTC().Truncate(24 * time.Hour)
	return Window{
		Start: today.AddDate(0, 0, -back),
		End:   today.AddDate(0, 0, fwd),
	}
}

// options is a tiny typed-access helper over the free-form source options
// map. JSON numbers arrive as float64; these accessors hide that.
type options map[string]any

func (o options) str(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func (o options) intVal(key string, def int) int {
	if n, ok := o.intOK(key); ok {
		return n
	}
	return def
}

func (o options) intOK(key string) (int, bool) {
	switch n := o[key].(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (o options) maps(key string) []map[string]any {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func (o options) strMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}
