package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gymsync/internal/schema"
	"gymsync/internal/transform"
	"gymsync/pkg/records"
)

// Recognized source option keys for API-backed tables:
//
//	data_path    - response key holding the record array ("content"/"data" tried by default)
//	params       - static query parameters
//	start_param / end_param - query parameter names for the date window
//	page_param / size_param / first_page - pagination controls
//	variants     - list of query-parameter sets; each variant's fields are
//	               attached to its records as context (payment_type etc.)
//	attach       - constant context fields attached to every record
//	reshape      - "series" flattens labels/series analytics payloads
//	per_parent   - {"table","path","param"}: one fetch per parent record value
//	max_pages    - safety bound on the page loop
const (
	reshapeSeries = "series"
)

// pageCap bounds the pagination loop regardless of what the API reports.
const pageCap = 1000

// paginatedExtractor pulls pages of fixed size until a short page or the
// reported last page, restartable from a page checkpoint.
type paginatedExtractor struct {
	api    API
	lookup RawLookup
}

func (p *paginatedExtractor) Extract(ctx context.Context, spec schema.TableSpec, win Window, cp Checkpoint) ([]records.Record, error) {
	return fanOut(ctx, spec, p.lookup, func(ctx context.Context, endpoint string, base url.Values, attach map[string]any) ([]records.Record, error) {
		return p.pages(ctx, spec, endpoint, base, attach, win, cp)
	})
}

func (p *paginatedExtractor) pages(ctx context.Context, spec schema.TableSpec, endpoint string, base url.Values, attach map[string]any, win Window, cp Checkpoint) ([]records.Record, error) {
	opts := options(spec.Source.Options)
	pageParam := opts.str("page_param", "page")
	sizeParam := opts.str("size_param", "size")
	firstPage := opts.intVal("first_page", 1)
	size := spec.Source.PageSize
	if size <= 0 {
		size = 100
	}
	maxPages := opts.intVal("max_pages", pageCap)

	var out []records.Record
	page := cp.Page
	for {
		query := cloneValues(base)
		applyWindow(query, opts, win)
		query.Set(pageParam, fmt.Sprint(firstPage+page))
		query.Set(sizeParam, fmt.Sprint(size))

		payload, err := p.api.GetJSON(ctx, endpoint, query)
		if err != nil {
			return nil, wrapExtractErr(spec.Name, err, Checkpoint{Page: page})
		}

		items, total := pageItems(payload, opts.str("data_path", ""))
		for _, item := range items {
			out = append(out, attachContext(item, attach))
		}

		page++
		if len(items) < size || len(items) == 0 {
			break
		}
		if total > 0 && page >= total {
			break
		}
		if page >= maxPages {
			break
		}
	}
	return out, nil
}

// arrayExtractor issues a single request (per variant / per parent) against
// endpoints returning arrays, bare objects, or labels/series analytics
// structures. Series reshaping happens here: zipping labels[i] with
// series[0].data[i] is a property of the source's shape, so the transformer
// only ever sees flat records.
type arrayExtractor struct {
	api    API
	lookup RawLookup
}

func (a *arrayExtractor) Extract(ctx context.Context, spec schema.TableSpec, win Window, cp Checkpoint) ([]records.Record, error) {
	opts := options(spec.Source.Options)

	// per_day slices the window into single-day requests and stamps each
	// record with the day it was fetched for, for endpoints that only report
	// a range total (POS statistics).
	if perDay, _ := opts["per_day"].(bool); perDay && !win.IsZero() {
		var out []records.Record
		for day := win.Start; !day.After(win.End); day = day.AddDate(0, 0, 1) {
			recs, err := a.extractWindow(ctx, spec, Window{Start: day, End: day.AddDate(0, 0, 1)},
				map[string]any{"request_date": day.Format("2006-01-02")})
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
		return out, nil
	}
	return a.extractWindow(ctx, spec, win, nil)
}

func (a *arrayExtractor) extractWindow(ctx context.Context, spec schema.TableSpec, win Window, extra map[string]any) ([]records.Record, error) {
	opts := options(spec.Source.Options)
	return fanOut(ctx, spec, a.lookup, func(ctx context.Context, endpoint string, base url.Values, attach map[string]any) ([]records.Record, error) {
		query := cloneValues(base)
		applyWindow(query, opts, win)

		payload, err := a.api.GetJSON(ctx, endpoint, query)
		if err != nil {
			return nil, wrapExtractErr(spec.Name, err, Checkpoint{})
		}

		items := bulkItems(payload, opts.str("data_path", ""))
		out := make([]records.Record, 0, len(items))
		for _, item := range items {
			rec := attachContext(attachContext(item, extra), attach)
			if opts.str("reshape", "") == reshapeSeries {
				out = append(out, reshapeSeriesRecord(rec)...)
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	})
}

// fanOut runs fetch once per endpoint variant and, when per_parent is set,
// once per parent record value, merging variant fields and parent context
// into the produced records.
func fanOut(ctx context.Context, spec schema.TableSpec, lookup RawLookup,
	fetch func(ctx context.Context, endpoint string, query url.Values, attach map[string]any) ([]records.Record, error),
) ([]records.Record, error) {
	opts := options(spec.Source.Options)

	static := url.Values{}
	for k, v := range opts.strMap("params") {
		static.Set(k, v)
	}
	baseAttach := map[string]any{}
	if m, ok := opts["attach"].(map[string]any); ok {
		for k, v := range m {
			baseAttach[k] = v
		}
	}

	variants := opts.maps("variants")
	if len(variants) == 0 {
		variants = []map[string]any{nil}
	}

	parents, parentParam, err := parentValues(spec, lookup)
	if err != nil {
		return nil, err
	}

	var out []records.Record
	for _, variant := range variants {
		query := cloneValues(static)
		attach := map[string]any{}
		for k, v := range baseAttach {
			attach[k] = v
		}
		for k, v := range variant {
			query.Set(k, fmt.Sprint(v))
			attach[k] = v
		}

		for _, parent := range parents {
			endpoint := spec.Source.Endpoint
			q := query
			att := attach
			if parentParam != "" {
				// A placeholder in the endpoint template consumes the parent
				// value; otherwise it rides along as a query parameter.
				placeholder := "{" + parentParam + "}"
				if strings.Contains(endpoint, placeholder) {
					endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(parent))
				} else {
					q = cloneValues(query)
					q.Set(parentParam, parent)
				}
				att = map[string]any{}
				for k, v := range attach {
					att[k] = v
				}
				att[parentParam] = parent
			}

			recs, err := fetch(ctx, endpoint, q, att)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}
	return out, nil
}

// parentValues resolves the per_parent option into the list of values to fan
// out over. Without the option it returns a single empty sentinel so the
// fetch runs exactly once.
func parentValues(spec schema.TableSpec, lookup RawLookup) ([]string, string, error) {
	opts := options(spec.Source.Options)
	per, ok := opts["per_parent"].(map[string]any)
	if !ok {
		return []string{""}, "", nil
	}

	po := options(per)
	fromTable := po.str("table", "")
	path := po.str("path", "id")
	param := po.str("param", "id")
	pastField := po.str("past_only", "")

	if lookup == nil {
		return nil, "", &ExtractionError{Table: spec.Name, NonRetryable: true,
			Cause: fmt.Errorf("per_parent source needs raw records of %q but none are available", fromTable)}
	}
	parentRecs, ok := lookup(fromTable)
	if !ok {
		return nil, "", &ExtractionError{Table: spec.Name, NonRetryable: true,
			Cause: fmt.Errorf("per_parent source: table %q has not been extracted", fromTable)}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seen := map[string]struct{}{}
	var vals []string
	for _, rec := range parentRecs {
		// past_only names a timestamp field; parents on or after today are
		// skipped (attendance only exists for lessons already held).
		if pastField != "" {
			tv := transform.Resolve(rec, pastField)
			if tv.Missing() {
				continue
			}
			ts, err := time.Parse(time.RFC3339, fmt.Sprint(tv.Raw))
			if err != nil || !ts.Before(today) {
				continue
			}
		}
		v := transform.Resolve(rec, path)
		if v.Missing() {
			continue
		}
		s := fmt.Sprint(v.Raw)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		vals = append(vals, s)
	}
	return vals, param, nil
}

// reshapeSeriesRecord flattens one analytics payload into per-index records:
// labels[i] pairs with series[0].data[i]. Context fields already attached to
// the payload (category, payment_type, membership id) are copied onto every
// flattened record.
func reshapeSeriesRecord(rec records.Record) []records.Record {
	labelsRaw, _ := rec["labels"].([]any)
	seriesRaw, _ := rec["series"].([]any)
	if len(labelsRaw) == 0 || len(seriesRaw) == 0 {
		return nil
	}
	first, _ := seriesRaw[0].(map[string]any)
	data, _ := first["data"].([]any)

	n := len(labelsRaw)
	if len(data) < n {
		n = len(data)
	}

	out := make([]records.Record, 0, n)
	for i := 0; i < n; i++ {
		flat := records.Record{
			"date":  labelsRaw[i],
			"count": data[i],
		}
		for k, v := range rec {
			if k == "labels" || k == "series" {
				continue
			}
			flat[k] = v
		}
		out = append(out, flat)
	}
	return out
}

// pageItems extracts the record array and total page count from a paginated
// response body.
func pageItems(payload any, dataPath string) (items []records.Record, totalPages int) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return toRecords(payload), 0
	}
	if tp, ok := obj["totalPages"].(float64); ok {
		totalPages = int(tp)
	}
	if dataPath != "" {
		return toRecords(obj[dataPath]), totalPages
	}
	if v, ok := obj["content"]; ok {
		return toRecords(v), totalPages
	}
	if v, ok := obj["data"]; ok {
		return toRecords(v), totalPages
	}
	return nil, totalPages
}

// bulkItems extracts records from an array/object response. A bare object
// becomes a single record.
func bulkItems(payload any, dataPath string) []records.Record {
	if dataPath != "" {
		if obj, ok := payload.(map[string]any); ok {
			return toRecords(obj[dataPath])
		}
	}
	switch t := payload.(type) {
	case []any:
		return toRecords(t)
	case map[string]any:
		return []records.Record{records.Record(t)}
	}
	return nil
}

func toRecords(v any) []records.Record {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]records.Record, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, records.Record(m))
		}
	}
	return out
}

func attachContext(rec records.Record, attach map[string]any) records.Record {
	if len(attach) == 0 {
		return rec
	}
	for k, v := range attach {
		rec[k] = v
	}
	return rec
}

func applyWindow(query url.Values, opts options, win Window) {
	if win.IsZero() {
		return
	}
	query.Set(opts.str("start_param", "start_date"), win.Start.Format("2006-01-02"))
	query.Set(opts.str("end_param", "end_date"), win.End.Format("2006-01-02"))
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vs := range v {
		for _, s := range vs {
			out.Add(k, s)
		}
	}
	return out
}

// wrapExtractErr classifies a client error into an ExtractionError. The
// httpapi client has already burned its retry budget on transient failures,
// so anything still failing here is fatal for the table.
func wrapExtractErr(table string, err error, cp Checkpoint) error {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	nonRetryable := false
	var se interface{ Retryable() bool }
	if errors.As(err, &se) {
		nonRetryable = !se.Retryable()
	}
	return &ExtractionError{Table: table, NonRetryable: nonRetryable, Checkpoint: cp, Cause: err}
}
