package source

import (
	"context"
	"fmt"

	"gymsync/internal/schema"
	"gymsync/internal/transform"
	"gymsync/pkg/records"
)

// derivedExtractor builds records out of another table's raw extraction
// instead of calling the API again. Each parent record is fanned out over a
// nested array ("items" option, e.g. a member's activeMemberships) and the
// result is shaped as {"parent": <parent record>, "item": <array element>}
// so field paths can address both sides.
//
// Source options:
//
//	from  - table whose raw records to derive from (required)
//	items - path to the nested array inside each parent; empty derives one
//	        record per parent with only the "parent" side populated
type derivedExtractor struct {
	lookup RawLookup
}

func (d *derivedExtractor) Extract(ctx context.Context, spec schema.TableSpec, _ Window, _ Checkpoint) ([]records.Record, error) {
	opts := options(spec.Source.Options)
	from := opts.str("from", "")
	itemsPath := opts.str("items", "")

	if d.lookup == nil {
		return nil, &ExtractionError{Table: spec.Name, NonRetryable: true,
			Cause: fmt.Errorf("derived source needs raw records of %q but none are available", from)}
	}
	parents, ok := d.lookup(from)
	if !ok {
		return nil, &ExtractionError{Table: spec.Name, NonRetryable: true,
			Cause: fmt.Errorf("derived source: table %q has not been extracted", from)}
	}

	var out []records.Record
	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return nil, &ExtractionError{Table: spec.Name, Cause: err}
		}
		if itemsPath == "" {
			out = append(out, records.Record{"parent": map[string]any(parent)})
			continue
		}
		v := transform.Resolve(parent, itemsPath)
		if v.Missing() {
			continue
		}
		arr, ok := v.Raw.([]any)
		if !ok {
			continue
		}
		for _, raw := range arr {
			out = append(out, records.Record{
				"parent": map[string]any(parent),
				"item":   normalizeItem(raw),
			})
		}
	}
	return out, nil
}

// normalizeItem lifts scalar array elements into an object with an "id" key,
// so specs address {"item": "abc"} and {"item": {"id": "abc"}} uniformly as
// item.id.
func normalizeItem(raw any) any {
	switch t := raw.(type) {
	case map[string]any:
		return t
	case string:
		return map[string]any{"id": t}
	default:
		return map[string]any{"id": fmt.Sprint(t)}
	}
}
