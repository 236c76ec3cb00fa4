package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedTransport answers each request with the next scripted response and
// records what was asked.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []*http.Response
	errs      []error
	requests  []*http.Request
}

func (t *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := len(t.requests)
	t.requests = append(t.requests, req)
	if i < len(t.errs) && t.errs[i] != nil {
		return nil, t.errs[i]
	}
	if i >= len(t.responses) {
		return resp(http.StatusOK, `{}`, nil), nil
	}
	return t.responses[i], nil
}

func resp(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// testClient wires a scripted transport and replaces sleep with a recorder so
// retry timing is observable without waiting.
func testClient(cfg Config, rt *scriptedTransport) (*Client, *[]time.Duration) {
	cfg.Transport = rt
	c := NewClient(cfg)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestGetJSONSendsAuthAndQuery(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusOK, `{"content": [{"id": "m1"}]}`, nil),
	}}
	c, _ := testClient(Config{BaseURL: "https://api.example.test/v1/", Token: "s3cret"}, rt)

	got, err := c.GetJSON(context.Background(), "/members", url.Values{"page": {"1"}})
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	obj, ok := got.(map[string]any)
	if !ok || obj["content"] == nil {
		t.Errorf("decoded = %v", got)
	}

	req := rt.requests[0]
	if req.URL.String() != "https://api.example.test/v1/members?page=1" {
		t.Errorf("URL = %s", req.URL)
	}
	if req.Header.Get("Authorization") != "Bearer s3cret" {
		t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
	}
}

func TestGetJSONRetriesServerErrorsWithBackoff(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusBadGateway, "", nil),
		resp(http.StatusServiceUnavailable, "", nil),
		resp(http.StatusOK, `[1, 2]`, nil),
	}}
	c, slept := testClient(Config{
		BaseURL: "https://api.example.test", MaxRetries: 3,
		InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second,
	}, rt)

	got, err := c.GetJSON(context.Background(), "members", nil)
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 2 {
		t.Errorf("decoded = %v", got)
	}
	if len(rt.requests) != 3 {
		t.Errorf("attempts = %d, want 3", len(rt.requests))
	}
	// Exponential: 100ms then 200ms.
	if len(*slept) != 2 || (*slept)[0] != 100*time.Millisecond || (*slept)[1] != 200*time.Millisecond {
		t.Errorf("slept = %v", *slept)
	}
}

func TestGetJSONDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusBadRequest, `{"message": "bad filter"}`, nil),
	}}
	c, _ := testClient(Config{BaseURL: "https://api.example.test", MaxRetries: 3}, rt)

	_, err := c.GetJSON(context.Background(), "members", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Status != http.StatusBadRequest || se.Retryable() {
		t.Errorf("StatusError = %+v", se)
	}
	if !strings.Contains(se.Body, "bad filter") {
		t.Errorf("Body = %q", se.Body)
	}
	if len(rt.requests) != 1 {
		t.Errorf("attempts = %d, want no retries", len(rt.requests))
	}
}

func TestGetJSONHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusTooManyRequests, "", http.Header{"Retry-After": {"7"}}),
		resp(http.StatusOK, `{}`, nil),
	}}
	c, slept := testClient(Config{
		BaseURL: "https://api.example.test", MaxRetries: 1,
		InitialBackoff: 100 * time.Millisecond,
	}, rt)

	if _, err := c.GetJSON(context.Background(), "members", nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Errorf("slept = %v, want the server-requested 7s", *slept)
	}
}

func TestGetJSONRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{
		errs:      []error{errors.New("connection refused")},
		responses: []*http.Response{nil, resp(http.StatusOK, `{}`, nil)},
	}
	c, _ := testClient(Config{BaseURL: "https://api.example.test", MaxRetries: 1}, rt)
	if _, err := c.GetJSON(context.Background(), "members", nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(rt.requests) != 2 {
		t.Errorf("attempts = %d, want 2", len(rt.requests))
	}
}

func TestGetJSONExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusInternalServerError, "", nil),
		resp(http.StatusInternalServerError, "", nil),
	}}
	c, _ := testClient(Config{BaseURL: "https://api.example.test", MaxRetries: 1}, rt)

	_, err := c.GetJSON(context.Background(), "members", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Fatalf("error = %v, want the final 500", err)
	}
	if len(rt.requests) != 2 {
		t.Errorf("attempts = %d, want initial plus one retry", len(rt.requests))
	}
}

func TestGetJSONDecodeError(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusOK, `{not json`, nil),
	}}
	c, _ := testClient(Config{BaseURL: "https://api.example.test"}, rt)
	if _, err := c.GetJSON(context.Background(), "members", nil); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("error = %v, want decode failure", err)
	}
}

func TestPaceSpacesRequests(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{responses: []*http.Response{
		resp(http.StatusOK, `{}`, nil),
		resp(http.StatusOK, `{}`, nil),
	}}
	c, slept := testClient(Config{BaseURL: "https://api.example.test", MinInterval: time.Minute}, rt)

	if _, err := c.GetJSON(context.Background(), "a", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetJSON(context.Background(), "b", nil); err != nil {
		t.Fatal(err)
	}
	// The second request must wait out the remaining interval.
	if len(*slept) != 1 || (*slept)[0] <= 0 || (*slept)[0] > time.Minute {
		t.Errorf("slept = %v", *slept)
	}
}

// A single client is shared across the extract worker pool, so pacing must
// hold up under concurrent callers: each one reserves its own slot and only
// the first goes through without waiting.
func TestPaceConcurrentCallersStaySpaced(t *testing.T) {
	t.Parallel()

	rt := &scriptedTransport{}
	c := NewClient(Config{BaseURL: "https://api.example.test", MinInterval: time.Minute, Transport: rt})

	var mu sync.Mutex
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetJSON(context.Background(), "a", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	// One caller claims the immediate slot, the rest wait out at least one
	// full interval each.
	if len(slept) != callers-1 {
		t.Fatalf("slept %d times, want %d: %v", len(slept), callers-1, slept)
	}
	for _, d := range slept {
		if d <= time.Minute-time.Second {
			t.Errorf("sleep %v shorter than the interval", d)
		}
	}
}

func TestStatusErrorRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		se := &StatusError{Status: tt.status}
		if got := se.Retryable(); got != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestBackoffDuration(t *testing.T) {
	t.Parallel()

	if d := backoffDuration(100*time.Millisecond, 0, time.Second); d != 100*time.Millisecond {
		t.Errorf("attempt 0 = %v", d)
	}
	if d := backoffDuration(100*time.Millisecond, 3, time.Second); d != 800*time.Millisecond {
		t.Errorf("attempt 3 = %v", d)
	}
	if d := backoffDuration(100*time.Millisecond, 10, time.Second); d != time.Second {
		t.Errorf("clamped = %v", d)
	}
}
