// This file implements the chunked loader: it aligns transformed rows to the
// table's column order, splits them into fixed-size chunks, and drives the
// strategy-matching Repository method per chunk.
//
// Logging: on every committed chunk, a concise progress line is emitted with
// running totals and instantaneous rows/sec since the previous chunk.
package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

// LoadError reports a load failure with enough context to resume: Chunk is
// the zero-based index of the chunk that failed, so chunks before it are
// committed and stay committed.
type LoadError struct {
	Table string
	Chunk int
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: chunk %d: %v", e.Table, e.Chunk, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Result summarizes one table load.
type Result struct {
	Loaded          int64 // rows the backend reported written
	Chunks          int   // chunks attempted
	CommittedChunks int   // chunks committed before the first failure
}

// LoadRows persists one table's rows through repo using the spec's strategy.
//
// Upsert and merge_by_key commit chunk by chunk; a mid-load failure leaves
// the chunks before it committed and the Result says how many. Replace is
// atomic regardless of chunkSize: the Repository clears and refills the
// table in a single transaction.
func LoadRows(ctx context.Context, repo Repository, spec schema.TableSpec, rows []records.Row, chunkSize int) (Result, error) {
	if chunkSize <= 0 {
		return Result{}, fmt.Errorf("chunkSize must be > 0")
	}
	columns := spec.Columns()
	aligned := alignRows(columns, rows)

	if spec.Strategy == schema.Replace {
		n, err := repo.Replace(ctx, spec, columns, aligned)
		if err != nil {
			return Result{Chunks: 1}, &LoadError{Table: spec.Name, Chunk: 0, Cause: err}
		}
		log.Printf("loader: table=%s strategy=replace rows=%d", spec.Name, n)
		return Result{Loaded: n, Chunks: 1, CommittedChunks: 1}, nil
	}

	write := repo.UpsertChunk
	if spec.Strategy == schema.MergeByKey {
		write = repo.MergeChunk
	}

	var res Result
	start := time.Now()
	last := start
	for i := 0; i < len(aligned); i += chunkSize {
		end := i + chunkSize
		if end > len(aligned) {
			end = len(aligned)
		}
		chunk := aligned[i:end]
		res.Chunks++

		n, err := write(ctx, spec, columns, chunk)
		if err != nil {
			log.Printf("loader: table=%s chunk=%d failed committed_chunks=%d total=%d err=%v",
				spec.Name, res.Chunks-1, res.CommittedChunks, res.Loaded, err)
			return res, &LoadError{Table: spec.Name, Chunk: res.Chunks - 1, Cause: err}
		}
		res.Loaded += n
		res.CommittedChunks++

		now := time.Now()
		sinceLast := now.Sub(last)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(n) / sinceLast.Seconds()
		}
		log.Printf("chunk #%d: table=%s rps=%.0f written=%d total_written=%d elapsed=%s",
			res.Chunks, spec.Name, rps, n, res.Loaded, now.Sub(start).Truncate(time.Millisecond))
		last = now
	}
	return res, nil
}

// alignRows projects map rows onto the column order the backends expect.
// Columns a row does not carry become NULLs.
func alignRows(columns []string, rows []records.Row) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		row := make([]any, len(columns))
		for j, c := range columns {
			if v, ok := r[c]; ok {
				row[j] = v
			}
		}
		out = append(out, row)
	}
	return out
}
