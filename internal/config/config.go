// Package config defines the JSON-serializable configuration model for the
// sync application. It is intentionally small, explicit, and dependency-free
// so that configurations can be loaded from disk and passed through the
// program without additional glue code.
//
// The table set is built in: a config file only has to say where the API,
// the spreadsheet exports, and the database live. Table definitions in the
// file override or extend the built-in set by name.
//
// Example (trimmed):
//
//	{
//	  "job": "gymsync",
//	  "api":     { "base_url": "https://api.example.com/v1", "token_env": "GYMLY_TOKEN" },
//	  "sheets":  { "PersonalTraining": { "url": "https://..." } },
//	  "storage": { "kind": "mssql", "db": { "dsn": "sqlserver://..." } },
//	  "runtime": { "chunk_size": 500, "anomaly_threshold": 0.5 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gymsync/internal/schema"
	"gymsync/internal/source/sheet"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// Job names the run for metrics labeling and run reports.
	Job string `json:"job"`

	API APIConfig `json:"api"`

	// Sheets maps sheet names (referenced by sheet-sourced tables) to their
	// location.
	Sheets map[string]sheet.Config `json:"sheets,omitempty"`

	Storage StorageConfig `json:"storage"`

	// Baseline locates the local state database holding per-table baselines
	// and run reports.
	Baseline BaselineConfig `json:"baseline"`

	Runtime RuntimeConfig `json:"runtime"`

	// Schedule is an optional cron expression; empty means run once and exit.
	Schedule string `json:"schedule,omitempty"`

	// Tables overrides or extends the built-in table set by name. A table
	// given here without an "enabled" key defaults to enabled.
	Tables []json.RawMessage `json:"tables,omitempty"`

	// Disable lists built-in tables to turn off without redefining them.
	Disable []string `json:"disable,omitempty"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL string `json:"base_url"`

	// Token is the bearer token. TokenEnv names an environment variable to
	// read it from instead; TokenEnv wins when both are set.
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	MaxRetries     int `json:"max_retries,omitempty"`
	MinIntervalMS  int `json:"min_interval_ms,omitempty"`
}

// BearerToken resolves the effective token.
func (a APIConfig) BearerToken() string {
	if a.TokenEnv != "" {
		if v := os.Getenv(a.TokenEnv); v != "" {
			return v
		}
	}
	return a.Token
}

// Timeout returns the per-request timeout, or zero to let the client pick
// its default.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MinInterval returns the minimum spacing between requests.
func (a APIConfig) MinInterval() time.Duration {
	return time.Duration(a.MinIntervalMS) * time.Millisecond
}

// StorageConfig selects the sink used to persist transformed rows.
type StorageConfig struct {
	// Kind selects the storage backend ("postgres", "mssql").
	Kind string `json:"kind"`

	DB DBConfig `json:"db"`
}

// DBConfig configures the database sink shared across backends.
type DBConfig struct {
	// DSN is the backend connection string (e.g. postgresql://... or
	// sqlserver://...). DSNEnv names an environment variable to read it from
	// instead; DSNEnv wins when both are set.
	DSN    string `json:"dsn,omitempty"`
	DSNEnv string `json:"dsn_env,omitempty"`

	// Schema optionally prefixes table names (e.g. "dbo", "public").
	Schema string `json:"schema,omitempty"`

	// ManageIndexes disables nonclustered indexes before a replace load and
	// rebuilds them afterwards, where the backend supports it.
	ManageIndexes bool `json:"manage_indexes,omitempty"`

	// AutoCreate creates missing target tables from their specs before the
	// first load.
	AutoCreate bool `json:"auto_create,omitempty"`
}

// EffectiveDSN resolves the connection string.
func (d DBConfig) EffectiveDSN() string {
	if d.DSNEnv != "" {
		if v := os.Getenv(d.DSNEnv); v != "" {
			return v
		}
	}
	return d.DSN
}

// BaselineConfig locates the local state database.
type BaselineConfig struct {
	Path string `json:"path,omitempty"`
}

// RuntimeConfig controls concurrency, batching, and anomaly detection.
type RuntimeConfig struct {
	// ExtractWorkers bounds how many tables extract concurrently.
	ExtractWorkers int `json:"extract_workers,omitempty"`

	// ChunkSize is the number of rows per load transaction.
	ChunkSize int `json:"chunk_size,omitempty"`

	// AnomalyThreshold is the relative deviation from the stored baseline
	// above which a table's row count or measure sums raise a warning.
	// Zero disables anomaly checks.
	AnomalyThreshold float64 `json:"anomaly_threshold,omitempty"`

	// TimeoutMinutes bounds a whole run; zero means no deadline.
	TimeoutMinutes int `json:"timeout_minutes,omitempty"`
}

// Timeout returns the run deadline, or zero for none.
func (r RuntimeConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMinutes) * time.Minute
}

// Load reads and decodes a config file and fills in defaults.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued runtime settings with workable defaults.
func (c *Config) ApplyDefaults() {
	if c.Job == "" {
		c.Job = "gymsync"
	}
	if c.Baseline.Path == "" {
		c.Baseline.Path = "gymsync.db"
	}
	if c.Runtime.ExtractWorkers <= 0 {
		c.Runtime.ExtractWorkers = 4
	}
	if c.Runtime.ChunkSize <= 0 {
		c.Runtime.ChunkSize = 500
	}
	if c.Runtime.AnomalyThreshold == 0 {
		c.Runtime.AnomalyThreshold = 0.5
	}
}

// TableSpecs decodes the config file's table overrides. A table without an
// explicit "enabled" key comes out enabled, so overriding a built-in never
// silently turns it off.
func (c Config) TableSpecs() ([]schema.TableSpec, error) {
	out := make([]schema.TableSpec, 0, len(c.Tables))
	for i, raw := range c.Tables {
		spec := schema.TableSpec{Enabled: true}
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("config: tables[%d]: %w", i, err)
		}
		out = append(out, spec)
	}
	return out, nil
}

// Registry builds the effective table registry: the built-in set, overridden
// and extended by the config file's tables, with Disable applied last.
func (c Config) Registry() (*schema.Registry, error) {
	specs := DefaultTables()
	overrides, err := c.TableSpecs()
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		replaced := false
		for i := range specs {
			if specs[i].Name == o.Name {
				specs[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			specs = append(specs, o)
		}
	}
	for _, name := range c.Disable {
		for i := range specs {
			if specs[i].Name == name {
				specs[i].Enabled = false
			}
		}
	}
	return schema.NewRegistry(specs)
}
