package transform

import (
	"strconv"
	"strings"

	"gymsync/pkg/records"
)

// Resolve walks a dot/array-index path ("summary.totalNetAmount",
// "instructors[0].name") into a raw record. A flat key containing dots is
// tried verbatim first, so spreadsheet headers like "lid.nummer" still
// resolve. Missing keys and out-of-range indices yield Absent, never errors.
func Resolve(rec records.Record, path string) records.Value {
	if path == "" {
		return records.AbsentValue
	}
	if v, ok := rec[path]; ok {
		return records.Of(v)
	}

	var cur any = map[string]any(rec)
	for _, seg := range strings.Split(path, ".") {
		key, indices, ok := splitIndices(seg)
		if !ok {
			return records.AbsentValue
		}
		if key != "" {
			m, ok := asMap(cur)
			if !ok {
				return records.AbsentValue
			}
			cur, ok = m[key]
			if !ok {
				return records.AbsentValue
			}
		}
		for _, idx := range indices {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return records.AbsentValue
			}
			cur = arr[idx]
		}
	}
	return records.Of(cur)
}

// splitIndices splits "series[0]" into ("series", [0]). Multiple suffixed
// indices ("grid[1][2]") are supported.
func splitIndices(seg string) (key string, indices []int, ok bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, true
	}
	key = seg[:open]
	rest := seg[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return "", nil, false
		}
		n, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return "", nil, false
		}
		indices = append(indices, n)
		rest = rest[close+1:]
	}
	return key, indices, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case records.Record:
		return m, true
	}
	return nil, false
}
