package source

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

// sheetExtractor reads a spreadsheet grid registered under the table's sheet
// name. The first non-empty row is the header; headers are normalized
// (diacritics stripped, lowercased, spaces collapsed to underscores) so specs
// can address "Trainingsdatum" and "trainingsdatum " with one path. Empty
// cells are left out of the record entirely, which the transformer reads as
// an absent field rather than an empty string.
type sheetExtractor struct {
	grids map[string]Grid
}

func (s *sheetExtractor) Extract(ctx context.Context, spec schema.TableSpec, _ Window, _ Checkpoint) ([]records.Record, error) {
	name := options(spec.Source.Options).str("sheet", spec.Name)
	grid, ok := s.grids[name]
	if !ok {
		return nil, &ExtractionError{Table: spec.Name, NonRetryable: true,
			Cause: fmt.Errorf("no grid registered for sheet %q", name)}
	}

	rows, err := grid.ReadAll(ctx)
	if err != nil {
		return nil, wrapExtractErr(spec.Name, err, Checkpoint{})
	}

	var headers []string
	var out []records.Record
	for _, row := range rows {
		if emptyRow(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, h := range row {
				headers[i] = NormalizeHeader(h)
			}
			continue
		}
		rec := records.Record{}
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			rec[headers[i]] = cell
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// NormalizeHeader folds a human-typed column header into a stable key:
// diacritics removed, lowercased, runs of whitespace replaced by a single
// underscore.
func NormalizeHeader(h string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), h)
	if err != nil {
		stripped = h
	}
	fields := strings.Fields(strings.ToLower(stripped))
	return strings.Join(fields, "_")
}
