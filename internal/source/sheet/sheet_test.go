package sheet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const ptCSV = "Lid Nummer,Trainingsdatum,Duur\nm1,2025-05-01,60\nm2,2025-05-02,\"45, plus warming-up\"\n"

func TestReadAllFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pt.csv")
	if err := os.WriteFile(path, []byte(ptCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := New(Config{Path: path}).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "Lid Nummer" || rows[2][2] != "45, plus warming-up" {
		t.Errorf("rows = %v", rows)
	}
}

func TestReadAllFromURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(ptCSV))
	}))
	defer srv.Close()

	rows, err := New(Config{URL: srv.URL}).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "m1" {
		t.Errorf("rows = %v", rows)
	}
}

func TestReadAllURLErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).ReadAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v, want status 404", err)
	}
}

func TestReadAllRaggedRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ragged.csv")
	if err := os.WriteFile(path, []byte("a,b,c\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rows, err := New(Config{Path: path}).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ragged rows must parse, got %v", err)
	}
	if len(rows[1]) != 2 {
		t.Errorf("rows = %v", rows)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Path: filepath.Join(t.TempDir(), "nope.csv")}).ReadAll(context.Background())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
