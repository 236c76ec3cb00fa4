package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gymsync/internal/baseline"
	"gymsync/internal/config"
	"gymsync/internal/metrics"
	"gymsync/internal/metrics/datadog"
	"gymsync/internal/metrics/prompush"
	"gymsync/internal/run"
	"gymsync/internal/schedule"
	"gymsync/internal/source"
	"gymsync/internal/source/httpapi"
	"gymsync/internal/source/sheet"
	"gymsync/internal/storage"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "gymsync/internal/storage/all"
)

// Exit codes: 0 on a completed run, 1 on a failed or partially failed run,
// 2 on configuration or setup errors.
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 2
)

// main loads the config, wires the stages together, and executes one sync
// run, or keeps running on a cron schedule when one is configured.
func main() {
	var (
		cfgPath           string
		tablesFlg         string
		dryRun            bool
		validateOnly      bool
		skipHealth        bool
		scheduleFlg       string
		startFlg          string
		endFlg            string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
	)

	flag.StringVar(&cfgPath, "config", "configs/gymsync.json", "config JSON path")
	flag.StringVar(&tablesFlg, "tables", "", "comma-separated table subset to sync (default: all enabled)")
	flag.BoolVar(&dryRun, "dry-run", false, "extract, transform, and validate without writing anything")
	flag.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&skipHealth, "skip-health-check", false, "start without pinging the sink first")
	flag.StringVar(&scheduleFlg, "schedule", "", "cron expression; overrides the config's schedule")
	flag.StringVar(&startFlg, "start", "", "historical window start (YYYY-MM-DD); overrides per-table windows")
	flag.StringVar(&endFlg, "end", "", "historical window end (YYYY-MM-DD); defaults to today when -start is set")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend (pushgateway, datadog, none; default env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address for the datadog backend (overrides env DD_AGENT_ADDR)")
	timeoutFlg := flag.Duration("timeout", 0, "overall run deadline (overrides the config's timeout)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf(exitConfig, "load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fatalf(exitConfig, "configuration is invalid: %v", cfgPath)
	}
	if validateOnly {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(exitOK)
	}

	setupMetrics(metricsBackendFlg, pushGatewayURLFlg, statsdAddrFlg, cfg.Job, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	win, err := parseWindow(startFlg, endFlg)
	if err != nil {
		fatalf(exitConfig, "%v", err)
	}

	if *timeoutFlg > 0 {
		cfg.Runtime.TimeoutMinutes = int(timeoutFlg.Minutes())
		if cfg.Runtime.TimeoutMinutes < 1 {
			cfg.Runtime.TimeoutMinutes = 1
		}
	}

	reg, err := cfg.Registry()
	if err != nil {
		fatalf(exitConfig, "build table registry: %v", err)
	}

	var tables []string
	if tablesFlg != "" {
		for _, t := range strings.Split(tablesFlg, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := httpapi.NewClient(httpapi.Config{
		BaseURL:     cfg.API.BaseURL,
		Token:       cfg.API.BearerToken(),
		Timeout:     cfg.API.Timeout(),
		MaxRetries:  cfg.API.MaxRetries,
		MinInterval: cfg.API.MinInterval(),
	})

	grids := make(map[string]source.Grid, len(cfg.Sheets))
	for name, sc := range cfg.Sheets {
		grids[name] = sheet.New(sc)
	}

	var repo storage.Repository
	if !dryRun {
		repo, err = storage.New(ctx, storage.Config{
			Kind:          cfg.Storage.Kind,
			DSN:           cfg.Storage.DB.EffectiveDSN(),
			Schema:        cfg.Storage.DB.Schema,
			ManageIndexes: cfg.Storage.DB.ManageIndexes,
		})
		if err != nil {
			fatalf(exitConfig, "open storage: %v", err)
		}
		defer repo.Close()
	}

	store, err := baseline.Open(ctx, cfg.Baseline.Path)
	if err != nil {
		log.Printf("baseline: %v; continuing without baselines", err)
		store = nil
	} else {
		defer store.Close()
	}

	runner := &run.Runner{
		Cfg:   cfg,
		Reg:   reg,
		API:   api,
		Grids: grids,
		Repo:  repo,
		Store: store,
	}
	opts := run.Options{
		Tables:          tables,
		DryRun:          dryRun,
		SkipHealthCheck: skipHealth,
		Window:          win,
	}

	cronSpec := scheduleFlg
	if cronSpec == "" {
		cronSpec = cfg.Schedule
	}

	if cronSpec == "" {
		rep, err := runner.Run(ctx, opts)
		if err != nil {
			fatalf(exitConfig, "run: %v", err)
		}
		if *verbose {
			log.Printf("run %s finished in %s", rep.RunID, rep.Finished.Sub(rep.Started).Truncate(time.Millisecond))
		}
		if rep.Status != run.RunCompleted {
			os.Exit(exitRun)
		}
		return
	}

	err = schedule.Loop(ctx, cronSpec, func(ctx context.Context) {
		if _, err := runner.Run(ctx, opts); err != nil {
			log.Printf("run: %v", err)
		}
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		fatalf(exitConfig, "schedule: %v", err)
	}
}

// setupMetrics installs the selected metrics backend: flag → env → default.
func setupMetrics(backendName, gatewayURL, statsdAddr, job string, verbose bool) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if job == "" {
		job = "gymsync"
	}

	switch backendName {
	case "pushgateway":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init pushgateway backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=pushgateway url=%v job=%v", gatewayURL, job)
		metrics.SetBackend(b)

	case "datadog":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("DD_AGENT_ADDR")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: statsdAddr, Namespace: "gymsync."})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=datadog addr=%v", statsdAddr)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

// parseWindow turns -start/-end into a historical extraction window.
func parseWindow(start, end string) (source.Window, error) {
	if start == "" && end == "" {
		return source.Window{}, nil
	}
	if start == "" {
		return source.Window{}, fmt.Errorf("-end requires -start")
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return source.Window{}, fmt.Errorf("parse -start: %v", err)
	}
	e := time.Now().UTC().Truncate(24 * time.Hour)
	if end != "" {
		if e, err = time.Parse("2006-01-02", end); err != nil {
			return source.Window{}, fmt.Errorf("parse -end: %v", err)
		}
	}
	if e.Before(s) {
		return source.Window{}, fmt.Errorf("-end %s precedes -start %s", e.Format("2006-01-02"), s.Format("2006-01-02"))
	}
	return source.Window{Start: s, End: e}, nil
}

func fatalf(code int, format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(code)
}
