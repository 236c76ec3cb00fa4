// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"gymsync/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Config.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "tables[1].keys"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation / linting of a Config.
//
// It does not mutate the config. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and run reports",
		})
	}

	issues = append(issues, validateAPI(c.API)...)
	issues = append(issues, validateStorage(c.Storage)...)
	issues = append(issues, validateRuntime(c.Runtime)...)

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "schedule",
				Message:  fmt.Sprintf("not a valid cron expression: %v", err),
			})
		}
	}

	issues = append(issues, validateTables(c)...)
	return issues
}

func validateAPI(a APIConfig) []Issue {
	var issues []Issue

	if strings.TrimSpace(a.BaseURL) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "api.base_url",
			Message:  "api.base_url must not be empty",
		})
	}
	if a.BearerToken() == "" {
		msg := "no api token configured; set api.token or api.token_env"
		if a.TokenEnv != "" {
			msg = fmt.Sprintf("api.token_env names %q but that variable is empty", a.TokenEnv)
		}
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "api.token",
			Message:  msg,
		})
	}
	if a.TimeoutSeconds < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "api.timeout_seconds",
			Message:  "timeout_seconds must not be negative",
		})
	}
	if a.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "api.max_retries",
			Message:  "max_retries must not be negative",
		})
	}

	return issues
}

func validateStorage(s StorageConfig) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
		return issues
	}

	// Unknown kinds are warnings for forward compatibility; the factory
	// rejects them at run time.
	known := map[string]struct{}{
		"postgres": {},
		"mssql":    {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	if s.DB.EffectiveDSN() == "" {
		msg := "no connection string configured; set storage.db.dsn or storage.db.dsn_env"
		if s.DB.DSNEnv != "" {
			msg = fmt.Sprintf("storage.db.dsn_env names %q but that variable is empty", s.DB.DSNEnv)
		}
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  msg,
		})
	}

	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.ExtractWorkers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.extract_workers",
			Message:  "extract_workers must not be negative",
		})
	}
	if r.ChunkSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.chunk_size",
			Message:  "chunk_size must not be negative",
		})
	}
	if r.AnomalyThreshold < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.anomaly_threshold",
			Message:  "anomaly_threshold must not be negative",
		})
	}
	if r.TimeoutMinutes < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.timeout_minutes",
			Message:  "timeout_minutes must not be negative",
		})
	}

	return issues
}

// validateTables builds the effective registry so table-level mistakes
// (unknown types, missing keys, dependency cycles) surface as config issues
// rather than run-time failures. Sheet-sourced tables additionally need
// their sheet configured.
func validateTables(c Config) []Issue {
	var issues []Issue

	reg, err := c.Registry()
	if err != nil {
		path := "tables"
		var ce *schema.ConfigError
		if errors.As(err, &ce) && ce.Table != "" {
			path = fmt.Sprintf("tables[%s]", ce.Table)
		}
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path,
			Message:  err.Error(),
		})
		return issues
	}

	names, _ := reg.Order(nil)
	for _, name := range names {
		spec, _ := reg.Table(name)
		if spec.Source.Kind != schema.SourceSheet {
			continue
		}
		sheetName := spec.Name
		if opts, ok := spec.Source.Options["sheet"].(string); ok && opts != "" {
			sheetName = opts
		}
		sc, ok := c.Sheets[sheetName]
		if !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("sheets.%s", sheetName),
				Message:  fmt.Sprintf("table %q reads sheet %q but no sheet with that name is configured", spec.Name, sheetName),
			})
			continue
		}
		if sc.URL == "" && sc.Path == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("sheets.%s", sheetName),
				Message:  "sheet needs a url or a path",
			})
		}
	}

	return issues
}
