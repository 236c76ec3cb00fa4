// Command sheetprobe samples a spreadsheet grid and proposes the field
// mappings a table spec would need for it: normalized header names and a
// guessed column type per header. Output is either a readable listing or the
// JSON fields block, ready to paste into a table spec.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gymsync/internal/schema"
	"gymsync/internal/source"
	"gymsync/internal/source/sheet"
)

var (
	flagURL  = flag.String("url", "", "URL of the CSV-exported sheet")
	flagPath = flag.String("path", "", "path of a local CSV file (ignored when -url is set)")
	flagRows = flag.Int("rows", 200, "number of data rows to sample per column")
	flagJSON = flag.Bool("json", false, "print the fields block as JSON instead of a listing")
)

func main() {
	flag.Parse()
	if *flagURL == "" && *flagPath == "" {
		fmt.Fprintln(os.Stderr, "sheetprobe: one of -url or -path is required")
		os.Exit(2)
	}

	grid := sheet.New(sheet.Config{URL: *flagURL, Path: *flagPath})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rows, err := grid.ReadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sheetprobe: %v\n", err)
		os.Exit(1)
	}

	fields, counts := probe(rows, *flagRows)
	if len(fields) == 0 {
		fmt.Fprintln(os.Stderr, "sheetprobe: no header row found")
		os.Exit(1)
	}

	if *flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fields); err != nil {
			fmt.Fprintf(os.Stderr, "sheetprobe: %v\n", err)
			os.Exit(1)
		}
		return
	}
	for i, fm := range fields {
		fmt.Printf("%-30s %-10s %d values\n", fm.Path, fm.Type, counts[i])
	}
}

// probe walks the grid the way the sheet extractor does: the first non-empty
// row is the header, empty cells do not count as samples. It returns one
// mapping per header plus the number of sampled values behind each guess.
func probe(rows [][]string, sampleLimit int) ([]schema.FieldMapping, []int) {
	var headers []string
	samples := map[int][]string{}

	for _, row := range rows {
		if emptyRow(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, h := range row {
				headers[i] = source.NormalizeHeader(h)
			}
			continue
		}
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" || len(samples[i]) >= sampleLimit {
				continue
			}
			samples[i] = append(samples[i], cell)
		}
	}

	var fields []schema.FieldMapping
	var counts []int
	for i, h := range headers {
		if h == "" {
			continue
		}
		fields = append(fields, schema.FieldMapping{
			Path:   h,
			Column: h,
			Type:   guessType(samples[i]),
		})
		counts = append(counts, len(samples[i]))
	}
	return fields, counts
}

// guessType picks the narrowest type every sampled value satisfies, falling
// back to string. Order matters: every integer also parses as a decimal, and
// every date as a datetime.
func guessType(samples []string) schema.FieldType {
	if len(samples) == 0 {
		return schema.TypeString
	}
	for _, guess := range []struct {
		t  schema.FieldType
		ok func(string) bool
	}{
		{schema.TypeBoolean, isBool},
		{schema.TypeInteger, isInt},
		{schema.TypeDecimal, isDecimal},
		{schema.TypeDate, isDate},
		{schema.TypeDatetime, isDatetime},
		{schema.TypeTime, isClock},
	} {
		all := true
		for _, s := range samples {
			if !guess.ok(s) {
				all = false
				break
			}
		}
		if all {
			return guess.t
		}
	}
	return schema.TypeString
}

func isBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "ja", "nee", "yes", "no":
		return true
	}
	return false
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isDecimal(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func isDatetime(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isClock(s string) bool {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
