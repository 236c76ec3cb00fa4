// Package run orchestrates a full sync: bounded-concurrency extraction in
// dependency waves, then serialized transform/validate/load per table in
// dependency order. A failed table never aborts the run; its dependents are
// skipped and everything else proceeds.
package run

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gymsync/internal/baseline"
	"gymsync/internal/config"
	"gymsync/internal/metrics"
	"gymsync/internal/schema"
	"gymsync/internal/source"
	"gymsync/internal/storage"
	"gymsync/internal/transform"
	"gymsync/internal/validate"
	"gymsync/pkg/records"
)

// Options select what a single run does.
type Options struct {
	// Tables restricts the run to the named tables (plus nothing else; the
	// caller is responsible for naming dependencies too when they matter).
	// Empty means every enabled table.
	Tables []string

	// DryRun extracts, transforms, and validates but writes nothing: no
	// loads, no baseline updates, no run report.
	DryRun bool

	// SkipHealthCheck starts the run without pinging the sink first.
	SkipHealthCheck bool

	// Window overrides the per-table date windows, for historical backfills.
	Window source.Window
}

// Runner wires the stages of a sync together. All fields except Cfg and Reg
// are optional; nil Store disables baselines and run history, nil Notifier
// falls back to LogNotifier.
type Runner struct {
	Cfg config.Config
	Reg *schema.Registry

	API   source.API
	Grids map[string]source.Grid

	Repo  storage.Repository
	Store *baseline.Store

	Notifier Notifier
	Clock    func() time.Time

	// lastExtract carries raw records from the extract phase to the load
	// phase of the same run.
	lastExtract *extracted
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

// Run executes one sync and returns its report. The returned error covers
// setup problems only (bad table selection, unreachable sink); per-table
// failures are reported through the run status instead.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	started := r.now()
	rep := Report{
		RunID:   uuid.NewString(),
		Job:     r.Cfg.Job,
		DryRun:  opts.DryRun,
		Started: started,
	}

	order, err := r.Reg.Order(opts.Tables)
	if err != nil {
		return rep, err
	}
	if len(order) == 0 {
		return rep, fmt.Errorf("run: no tables selected")
	}
	log.Printf("run %s: job=%s tables=%d dry_run=%v", rep.RunID, rep.Job, len(order), opts.DryRun)

	if t := r.Cfg.Runtime.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if !opts.SkipHealthCheck && !opts.DryRun {
		if err := r.Repo.Ping(ctx); err != nil {
			return rep, fmt.Errorf("run: sink health check: %w", err)
		}
	}
	if r.Cfg.Storage.DB.AutoCreate && !opts.DryRun {
		for _, name := range order {
			spec, _ := r.Reg.Table(name)
			if err := storage.EnsureTable(ctx, r.Cfg.Storage.Kind, r.Repo, r.Cfg.Storage.DB.Schema, spec); err != nil {
				return rep, fmt.Errorf("run: ensure table %s: %w", name, err)
			}
		}
	}

	outcomes := r.extract(ctx, order, opts)
	r.load(ctx, order, opts, outcomes)

	rep.Tables = make([]TableOutcome, 0, len(order))
	for _, name := range order {
		rep.Tables = append(rep.Tables, *outcomes[name])
	}
	rep.Finished = r.now()
	rep.Status = aggregate(rep.Tables)

	for _, t := range rep.Tables {
		metrics.RecordTable(rep.Job, t.Table, string(t.Status), t.Duration)
	}
	metrics.RecordRun(rep.Job, string(rep.Status), rep.Finished.Sub(rep.Started))

	if r.Store != nil && !opts.DryRun {
		if err := r.Store.RecordRun(ctx, rep.RunID, rep.Started, rep.Finished, string(rep.Status), rep); err != nil {
			log.Printf("run %s: record run report: %v", rep.RunID, err)
		}
	}

	notifier := r.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	notifier.Notify(ctx, rep)
	return rep, nil
}

// extracted holds a table's raw records between the two phases.
type extracted struct {
	mu   sync.Mutex
	raws map[string][]records.Record
}

// extract runs phase one: tables are grouped into dependency waves and each
// wave is extracted with at most Runtime.ExtractWorkers tables in flight.
// Raw records stay in memory for the load phase and for derived tables.
func (r *Runner) extract(ctx context.Context, order []string, opts Options) map[string]*TableOutcome {
	outcomes := make(map[string]*TableOutcome, len(order))
	for _, name := range order {
		spec, _ := r.Reg.Table(name)
		outcomes[name] = &TableOutcome{Table: name, Strategy: string(spec.Strategy), RowCount: -1}
	}

	ex := &extracted{raws: make(map[string][]records.Record, len(order))}
	disp := &source.Dispatcher{
		API:   r.API,
		Grids: r.Grids,
		Clock: r.Clock,
		Lookup: func(table string) ([]records.Record, bool) {
			ex.mu.Lock()
			defer ex.mu.Unlock()
			raw, ok := ex.raws[table]
			return raw, ok
		},
	}

	workers := r.Cfg.Runtime.ExtractWorkers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex // guards outcomes across goroutines
	failed := make(map[string]struct{})

	for _, wave := range waves(r.Reg, order) {
		var g errgroup.Group
		g.SetLimit(workers)

		for _, name := range wave {
			name := name
			spec, _ := r.Reg.Table(name)

			mu.Lock()
			if ctx.Err() != nil {
				out := outcomes[name]
				out.Status = TableSkipped
				out.Reason = ReasonRunTimeout
				mu.Unlock()
				log.Printf("extract: table=%s skipped, run deadline passed", name)
				continue
			}
			blocked := ""
			for _, dep := range spec.DependsOn {
				if _, bad := failed[dep]; bad {
					blocked = dep
					break
				}
			}
			if blocked != "" {
				out := outcomes[name]
				out.Status = TableSkipped
				out.Reason = ReasonDependencyFailed
				failed[name] = struct{}{}
				mu.Unlock()
				log.Printf("extract: table=%s skipped, dependency %s failed", name, blocked)
				continue
			}
			mu.Unlock()

			g.Go(func() error {
				t0 := time.Now()
				win := disp.WindowFor(spec)
				if !opts.Window.IsZero() {
					win = opts.Window
				}

				extractor, err := disp.For(spec)
				var raw []records.Record
				if err == nil {
					raw, err = extractor.Extract(ctx, spec, win, source.Checkpoint{})
				}

				mu.Lock()
				defer mu.Unlock()
				out := outcomes[name]
				out.Duration += time.Since(t0)
				if err != nil {
					if ctx.Err() != nil {
						// Run deadline expired mid-extract.
						out.Status = TableSkipped
						out.Reason = ReasonRunTimeout
						failed[name] = struct{}{}
						log.Printf("extract: table=%s skipped, run deadline passed", name)
						return nil
					}
					out.Status = TableFailed
					out.Error = err.Error()
					var se *source.ExtractionError
					if errors.As(err, &se) {
						out.ResumePage = se.Checkpoint.Page
					}
					failed[name] = struct{}{}
					log.Printf("extract: table=%s failed after %s: %v", name, time.Since(t0).Round(time.Millisecond), err)
					return nil
				}
				out.Extracted = len(raw)
				ex.mu.Lock()
				ex.raws[name] = raw
				ex.mu.Unlock()
				log.Printf("extract: table=%s records=%d elapsed=%s", name, len(raw), time.Since(t0).Round(time.Millisecond))
				return nil
			})
		}
		_ = g.Wait() // goroutines record failures in outcomes, never return errors
	}

	// Stash for the load phase.
	r.lastExtract = ex
	return outcomes
}

// load runs phase two serially in dependency order: transform, validate,
// load, verify, and advance the baseline per table.
func (r *Runner) load(ctx context.Context, order []string, opts Options, outcomes map[string]*TableOutcome) {
	tr := transform.Transformer{Now: r.Clock}
	v := validate.Validator{AnomalyThreshold: r.Cfg.Runtime.AnomalyThreshold}

	for _, name := range order {
		out := outcomes[name]
		if out.Status != "" { // failed or skipped during extraction
			continue
		}
		if ctx.Err() != nil {
			out.Status = TableSkipped
			out.Reason = ReasonRunTimeout
			continue
		}

		t0 := time.Now()
		spec, _ := r.Reg.Table(name)
		raw, _ := r.lastExtract.lookup(name)

		rows := make([]records.Row, 0, len(raw))
		var issues []validate.Issue
		for _, rec := range raw {
			row, err := tr.Transform(spec, rec)
			if err != nil {
				issues = append(issues, transformIssue(name, err))
				continue
			}
			rows = append(rows, row)
		}

		var prev *validate.Baseline
		if r.Store != nil {
			var err error
			if prev, err = r.Store.Load(ctx, name); err != nil {
				log.Printf("validate: table=%s baseline unavailable: %v", name, err)
			}
		}
		accepted, vIssues := v.Validate(spec, rows, prev)
		issues = append(issues, vIssues...)
		for _, iss := range issues {
			switch iss.Severity {
			case validate.SeverityReject:
				out.Rejected++
			default:
				out.Warnings++
			}
			log.Printf("validate: %s", iss)
		}

		metrics.RecordRows(r.Cfg.Job, name, "extracted", int64(out.Extracted))
		metrics.RecordRows(r.Cfg.Job, name, "rejected", int64(out.Rejected))

		if opts.DryRun {
			out.Status = TableCompleted
			out.Duration += time.Since(t0)
			log.Printf("load: table=%s dry run, would load %d rows", name, len(accepted))
			continue
		}

		res, err := storage.LoadRows(ctx, r.Repo, spec, accepted, r.Cfg.Runtime.ChunkSize)
		out.Loaded = res.Loaded
		out.Duration += time.Since(t0)
		if err != nil {
			out.Status = TableFailed
			out.Error = err.Error()
			r.skipDependents(name, order, outcomes)
			continue
		}
		metrics.RecordRows(r.Cfg.Job, name, "loaded", res.Loaded)

		if n, err := r.Repo.RowCount(ctx, spec); err != nil {
			log.Printf("load: table=%s row count check failed: %v", name, err)
		} else {
			out.RowCount = n
			if spec.Strategy == schema.Replace && n != int64(len(accepted)) {
				log.Printf("load: table=%s row count %d != loaded %d", name, n, len(accepted))
			}
		}

		if r.Store != nil {
			snap := validate.Snapshot(spec, accepted)
			snap.At = r.now()
			if err := r.Store.Save(ctx, snap); err != nil {
				log.Printf("baseline: table=%s save failed: %v", name, err)
			}
		}
		out.Status = TableCompleted
	}
}

// transformIssue reports a record the transformer dropped as a rejecting
// data-quality issue, so it is counted and logged alongside validation
// findings.
func transformIssue(table string, err error) validate.Issue {
	iss := validate.Issue{
		Table:    table,
		Kind:     validate.KindBadFormat,
		Severity: validate.SeverityReject,
		Detail:   err.Error(),
	}
	var te *transform.TransformError
	if errors.As(err, &te) {
		iss.Field = te.Column
		if te.Kind == transform.KindRequiredMissing {
			iss.Kind = validate.KindRequiredMissing
		}
	}
	return iss
}

// skipDependents marks every not-yet-loaded transitive dependent of name as
// skipped.
func (r *Runner) skipDependents(name string, order []string, outcomes map[string]*TableOutcome) {
	for _, dep := range r.Reg.Dependents(name, order) {
		out := outcomes[dep]
		if out.Status != "" {
			continue
		}
		out.Status = TableSkipped
		out.Reason = ReasonDependencyFailed
		log.Printf("load: table=%s skipped, dependency %s failed", dep, name)
	}
}

func (ex *extracted) lookup(table string) ([]records.Record, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	raw, ok := ex.raws[table]
	return raw, ok
}

// waves partitions the ordered tables into dependency levels: wave 0 has no
// dependencies within the run, wave n depends only on earlier waves.
func waves(reg *schema.Registry, order []string) [][]string {
	level := make(map[string]int, len(order))
	var out [][]string
	for _, n := range order {
		l := 0
		spec, _ := reg.Table(n)
		for _, dep := range spec.DependsOn {
			if dl, ok := level[dep]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[n] = l
		for len(out) <= l {
			out = append(out, nil)
		}
		out[l] = append(out[l], n)
	}
	return out
}
