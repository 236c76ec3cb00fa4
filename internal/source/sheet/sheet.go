// Package sheet reads spreadsheet exports as CSV grids, either from a local
// file or from a published-sheet URL.
package sheet

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Config describes where a grid lives. Exactly one of URL and Path should be
// set; URL wins when both are.
type Config struct {
	URL     string        `json:"url,omitempty"`
	Path    string        `json:"path,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

type Grid struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Grid {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Grid{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// ReadAll fetches and parses the whole grid. Rows may have ragged lengths;
// the caller decides how to line cells up with headers.
func (g *Grid) ReadAll(ctx context.Context) ([][]string, error) {
	rc, err := g.open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("sheet: parse csv: %w", err)
	}
	return rows, nil
}

func (g *Grid) open(ctx context.Context) (io.ReadCloser, error) {
	if g.cfg.URL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("sheet: build request: %w", err)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sheet: fetch %s: %w", g.cfg.URL, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("sheet: fetch %s: unexpected status %d", g.cfg.URL, resp.StatusCode)
		}
		return resp.Body, nil
	}
	f, err := os.Open(g.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sheet: open %s: %w", g.cfg.Path, err)
	}
	return f, nil
}
