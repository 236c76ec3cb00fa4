package metrics

import (
	"sync"
	"testing"
	"time"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	callsCounters   []counterCall
	callsHistograms []histCall
	flushCount      int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsCounters = append(f.callsCounters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsHistograms = append(f.callsHistograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func TestRecordTable(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordTable("gymsync", "Leden", "completed", 2*time.Second)
	RecordTable("gymsync", "Omzet", "failed", 1500*time.Millisecond)

	if len(fb.callsCounters) != 2 || len(fb.callsHistograms) != 2 {
		t.Fatalf("got %d counter and %d histogram calls, want 2 and 2",
			len(fb.callsCounters), len(fb.callsHistograms))
	}

	c0 := fb.callsCounters[0]
	if c0.name != "sync_table_total" || c0.delta != 1 {
		t.Fatalf("counter[0] = %#v; want name=sync_table_total, delta=1", c0)
	}
	if c0.labels["table"] != "Leden" || c0.labels["status"] != "completed" {
		t.Fatalf("counter[0] labels = %v", c0.labels)
	}

	h1 := fb.callsHistograms[1]
	if h1.name != "sync_table_duration_seconds" {
		t.Fatalf("hist[1].name = %q", h1.name)
	}
	if h1.value < 1.5-0.001 || h1.value > 1.5+0.001 {
		t.Fatalf("hist[1].value = %v; want ~1.5", h1.value)
	}
	if h1.labels["status"] != "failed" {
		t.Fatalf("hist[1].labels[status] = %q; want failed", h1.labels["status"])
	}
}

func TestRecordRowsIgnoresNonPositive(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordRows("gymsync", "Leden", "extracted", 120)
	RecordRows("gymsync", "Leden", "rejected", 0)
	RecordRows("gymsync", "Leden", "loaded", -1)

	if len(fb.callsCounters) != 1 {
		t.Fatalf("got %d counter calls, want 1", len(fb.callsCounters))
	}
	c := fb.callsCounters[0]
	if c.name != "sync_rows_total" || c.delta != 120 {
		t.Fatalf("counter = %#v; want name=sync_rows_total, delta=120", c)
	}
	if c.labels["kind"] != "extracted" {
		t.Fatalf("labels = %v; want kind=extracted", c.labels)
	}
}

func TestSetBackendAndFlush(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	SetBackend(fb)

	if backend != fb {
		t.Fatal("SetBackend did not replace global backend")
	}
	if err := Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("flushCount = %d, want 1", fb.flushCount)
	}

	// SetBackend(nil) should not nil out the backend.
	SetBackend(nil)
	if backend != fb {
		t.Fatal("SetBackend(nil) should not change backend")
	}
}
