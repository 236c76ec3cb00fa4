package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

// fakeAPI replays canned payloads. Requests are logged so tests can assert
// the exact endpoints and query parameters the extractor produced.
type fakeAPI struct {
	// respond maps "endpoint?query" to a payload; a missing key returns an
	// empty page so page loops terminate.
	respond  map[string]any
	err      error
	requests []string
}

func (f *fakeAPI) GetJSON(_ context.Context, path string, query url.Values) (any, error) {
	key := path
	if enc := query.Encode(); enc != "" {
		key += "?" + enc
	}
	f.requests = append(f.requests, key)
	if f.err != nil {
		return nil, f.err
	}
	if payload, ok := f.respond[key]; ok {
		return payload, nil
	}
	return map[string]any{"content": []any{}}, nil
}

func page(total int, ids ...string) map[string]any {
	items := make([]any, len(ids))
	for i, id := range ids {
		items[i] = map[string]any{"id": id}
	}
	p := map[string]any{"content": items}
	if total > 0 {
		p["totalPages"] = float64(total)
	}
	return p
}

func paginatedSpec(pageSize int, opts map[string]any) schema.TableSpec {
	return schema.TableSpec{
		Name: "Leden",
		Source: schema.Source{
			Kind:     schema.SourcePaginatedAPI,
			Endpoint: "/members",
			PageSize: pageSize,
			Options:  opts,
		},
	}
}

func extract(t *testing.T, api API, lookup RawLookup, spec schema.TableSpec, win Window, cp Checkpoint) []records.Record {
	t.Helper()
	d := &Dispatcher{API: api, Lookup: lookup}
	ex, err := d.For(spec)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	recs, err := ex.Extract(context.Background(), spec, win, cp)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	return recs
}

func TestPaginatedStopsOnShortPage(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{respond: map[string]any{
		"/members?page=1&size=2": page(0, "m1", "m2"),
		"/members?page=2&size=2": page(0, "m3"),
	}}
	recs := extract(t, api, nil, paginatedSpec(2, nil), Window{}, Checkpoint{})
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if len(api.requests) != 2 {
		t.Errorf("requests = %v, want 2 pages", api.requests)
	}
}

func TestPaginatedStopsOnReportedTotal(t *testing.T) {
	t.Parallel()

	// Both pages are full; totalPages is the only stop signal.
	api := &fakeAPI{respond: map[string]any{
		"/members?page=1&size=2": page(2, "m1", "m2"),
		"/members?page=2&size=2": page(2, "m3", "m4"),
	}}
	recs := extract(t, api, nil, paginatedSpec(2, nil), Window{}, Checkpoint{})
	if len(recs) != 4 || len(api.requests) != 2 {
		t.Fatalf("records=%d requests=%v", len(recs), api.requests)
	}
}

func TestPaginatedMaxPagesCap(t *testing.T) {
	t.Parallel()

	// Every page is full and the API never reports a total.
	api := &fakeAPI{respond: map[string]any{
		"/members?page=1&size=1": page(0, "m1"),
		"/members?page=2&size=1": page(0, "m2"),
		"/members?page=3&size=1": page(0, "m3"),
	}}
	recs := extract(t, api, nil, paginatedSpec(1, map[string]any{"max_pages": float64(2)}), Window{}, Checkpoint{})
	if len(recs) != 2 || len(api.requests) != 2 {
		t.Fatalf("records=%d requests=%v, want cap at 2 pages", len(recs), api.requests)
	}
}

func TestPaginatedResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{respond: map[string]any{
		"/members?page=3&size=2": page(0, "m5"),
	}}
	recs := extract(t, api, nil, paginatedSpec(2, nil), Window{}, Checkpoint{Page: 2})
	if len(recs) != 1 || recs[0]["id"] != "m5" {
		t.Fatalf("resumed records = %v", recs)
	}
	if api.requests[0] != "/members?page=3&size=2" {
		t.Errorf("first request = %q, want page 3", api.requests[0])
	}
}

func TestPaginatedFailureCarriesCheckpoint(t *testing.T) {
	t.Parallel()

	spec := paginatedSpec(2, nil)
	d := &Dispatcher{API: &fakeAPI{err: errors.New("boom")}}
	ex, _ := d.For(spec)
	_, err := ex.Extract(context.Background(), spec, Window{}, Checkpoint{Page: 4})
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
	if ee.Checkpoint.Page != 4 {
		t.Errorf("Checkpoint.Page = %d, want 4", ee.Checkpoint.Page)
	}
}

func TestArrayWindowParams(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Omzet",
		Source: schema.Source{
			Kind:     schema.SourceArrayAPI,
			Endpoint: "/revenue",
			Options:  map[string]any{"start_param": "from", "end_param": "till"},
		},
	}
	win := Window{
		Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
	}
	api := &fakeAPI{respond: map[string]any{
		"/revenue?from=2025-05-01&till=2025-05-31": []any{map[string]any{"amount": 1.5}},
	}}
	recs := extract(t, api, nil, spec, win, Checkpoint{})
	if want := "/revenue?from=2025-05-01&till=2025-05-31"; api.requests[0] != want {
		t.Fatalf("request = %q, want %q", api.requests[0], want)
	}
	if len(recs) != 1 || recs[0]["amount"] != 1.5 {
		t.Fatalf("records = %v", recs)
	}
}

func TestArrayVariantsAttachContext(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Abonnementen",
		Source: schema.Source{
			Kind:     schema.SourceArrayAPI,
			Endpoint: "/subscriptions",
			Options: map[string]any{
				"variants": []any{
					map[string]any{"paymentType": "PERIODIC"},
					map[string]any{"paymentType": "ONCE"},
				},
			},
		},
	}
	api := &fakeAPI{respond: map[string]any{
		"/subscriptions?paymentType=PERIODIC": []any{map[string]any{"id": "s1"}},
		"/subscriptions?paymentType=ONCE":     []any{map[string]any{"id": "s2"}},
	}}
	recs := extract(t, api, nil, spec, Window{}, Checkpoint{})
	if len(recs) != 2 {
		t.Fatalf("got %d records, want one per variant", len(recs))
	}
	types := map[any]any{}
	for _, rec := range recs {
		types[rec["id"]] = rec["paymentType"]
	}
	if types["s1"] != "PERIODIC" || types["s2"] != "ONCE" {
		t.Errorf("variant context not attached: %v", types)
	}
}

func TestArrayPerParentEndpointTemplate(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "LesDeelname",
		Source: schema.Source{
			Kind:     schema.SourceArrayAPI,
			Endpoint: "/classes/{classId}/attendees",
			Options: map[string]any{
				"per_parent": map[string]any{"table": "Lessen", "path": "id", "param": "classId"},
			},
		},
	}
	lookup := func(table string) ([]records.Record, bool) {
		if table != "Lessen" {
			return nil, false
		}
		return []records.Record{{"id": "c1"}, {"id": "c2"}, {"id": "c1"}}, true
	}
	api := &fakeAPI{respond: map[string]any{
		"/classes/c1/attendees": []any{map[string]any{"memberId": "m1"}},
		"/classes/c2/attendees": []any{map[string]any{"memberId": "m2"}},
	}}
	recs := extract(t, api, lookup, spec, Window{}, Checkpoint{})
	if len(api.requests) != 2 {
		t.Fatalf("requests = %v, want one per distinct parent", api.requests)
	}
	if len(recs) != 2 || recs[0]["classId"] != "c1" {
		t.Errorf("parent context missing: %v", recs)
	}
}

func TestArrayPerParentPastOnly(t *testing.T) {
	t.Parallel()

	future := time.Now().UTC().AddDate(0, 0, 7).Format(time.RFC3339)
	spec := schema.TableSpec{
		Name: "LesDeelname",
		Source: schema.Source{
			Kind:     schema.SourceArrayAPI,
			Endpoint: "/classes/{classId}/attendees",
			Options: map[string]any{
				"per_parent": map[string]any{
					"table": "Lessen", "path": "id", "param": "classId", "past_only": "startAt",
				},
			},
		},
	}
	lookup := func(string) ([]records.Record, bool) {
		return []records.Record{
			{"id": "held", "startAt": "2024-01-05T10:00:00Z"},
			{"id": "planned", "startAt": future},
		}, true
	}
	api := &fakeAPI{respond: map[string]any{
		"/classes/held/attendees": []any{map[string]any{"memberId": "m1"}},
	}}
	recs := extract(t, api, lookup, spec, Window{}, Checkpoint{})
	if len(api.requests) != 1 || len(recs) != 1 {
		t.Fatalf("requests=%v records=%v, future class must be skipped", api.requests, recs)
	}
}

func TestArrayPerDaySlicing(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "KassaStatistieken",
		Source: schema.Source{
			Kind:     schema.SourceArrayAPI,
			Endpoint: "/pos/stats",
			Options:  map[string]any{"per_day": true},
		},
	}
	win := Window{
		Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	api := &fakeAPI{respond: map[string]any{
		"/pos/stats?end_date=2025-05-02&start_date=2025-05-01": map[string]any{"total": 10.0},
		"/pos/stats?end_date=2025-05-03&start_date=2025-05-02": map[string]any{"total": 20.0},
	}}
	recs := extract(t, api, nil, spec, win, Checkpoint{})
	if len(recs) != 2 {
		t.Fatalf("got %d records, want one per day: %v", len(recs), api.requests)
	}
	if recs[0]["request_date"] != "2025-05-01" || recs[0]["total"] != 10.0 {
		t.Errorf("day one record = %v", recs[0])
	}
	if recs[1]["request_date"] != "2025-05-02" || recs[1]["total"] != 20.0 {
		t.Errorf("day two record = %v", recs[1])
	}
}

func TestArrayReshapeSeries(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "AbonnementStatistieken",
		Source: schema.Source{
			Kind:     schema.SourceArrayAPI,
			Endpoint: "/analytics/subscriptions",
			Options: map[string]any{
				"reshape": "series",
				"attach":  map[string]any{"category": "nieuw"},
			},
		},
	}
	api := &fakeAPI{respond: map[string]any{
		"/analytics/subscriptions": map[string]any{
			"labels": []any{"2025-05-01", "2025-05-02"},
			"series": []any{map[string]any{"data": []any{3.0, 5.0}}},
		},
	}}
	recs := extract(t, api, nil, spec, Window{}, Checkpoint{})
	if len(recs) != 2 {
		t.Fatalf("got %d records, want one per label", len(recs))
	}
	first := recs[0]
	if first["date"] != "2025-05-01" || first["count"] != 3.0 || first["category"] != "nieuw" {
		t.Errorf("flattened record = %v", first)
	}
}

func TestDispatcherWindowFor(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 13, 30, 0, 0, time.UTC)
	d := &Dispatcher{Clock: func() time.Time { return now }}

	spec := schema.TableSpec{Source: schema.Source{Options: map[string]any{
		"days_back": float64(30), "days_forward": float64(7),
	}}}
	win := d.WindowFor(spec)
	if got := win.Start.Format("2006-01-02"); got != "2025-05-16" {
		t.Errorf("Start = %s", got)
	}
	if got := win.End.Format("2006-01-02"); got != "2025-06-22" {
		t.Errorf("End = %s", got)
	}

	if win := d.WindowFor(schema.TableSpec{}); !win.IsZero() {
		t.Errorf("spec without range options must get a zero window, got %v", win)
	}
}

func TestDispatcherUnknownKind(t *testing.T) {
	t.Parallel()

	d := &Dispatcher{}
	_, err := d.For(schema.TableSpec{Name: "X", Source: schema.Source{Kind: "carrier_pigeon"}})
	var ee *ExtractionError
	if !errors.As(err, &ee) || !ee.NonRetryable {
		t.Fatalf("error = %v, want non-retryable ExtractionError", err)
	}
}

func TestWrapExtractErrClassification(t *testing.T) {
	t.Parallel()

	err := wrapExtractErr("Leden", retryableErr{retryable: false}, Checkpoint{Page: 1})
	var ee *ExtractionError
	if !errors.As(err, &ee) || !ee.NonRetryable {
		t.Fatalf("4xx-style error must be non-retryable: %v", err)
	}
	err = wrapExtractErr("Leden", retryableErr{retryable: true}, Checkpoint{})
	if !errors.As(err, &ee) || ee.NonRetryable {
		t.Fatalf("retryable error misclassified: %v", err)
	}
}

type retryableErr struct{ retryable bool }

func (e retryableErr) Error() string   { return fmt.Sprintf("status (retryable=%v)", e.retryable) }
func (e retryableErr) Retryable() bool { return e.retryable }
