package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"seriesfetcher/internal/fetcher"
	"seriesfetcher/internal/testutil"
)

const testBase = 5 * time.Millisecond

// recordingMetrics captures collector events for assertions
type recordingMetrics struct {
	mu       sync.Mutex
	attempts map[string][]string
	delays   map[string][]time.Duration
	results  []fetcher.Result
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		attempts: make(map[string][]string),
		delays:   make(map[string][]time.Duration),
	}
}

func (m *recordingMetrics) ObserveAttempt(series, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[series] = append(m.attempts[series], outcome)
}

func (m *recordingMetrics) ObserveRetry(series string, _ int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[series] = append(m.delays[series], delay)
}

func (m *recordingMetrics) ObserveResult(r fetcher.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

func request(name string) fetcher.Request {
	return fetcher.Request{Name: name, Source: "bcb", RemoteID: name}
}

func newTestCollector(f fetcher.Fetcher, m Metrics, opts ...Option) *Collector {
	base := []Option{
		WithMaxRetries(3),
		WithBaseDelay(testBase),
		WithCourtesyDelay(0),
		WithMetrics(m),
	}
	return New([]fetcher.Fetcher{f}, append(base, opts...)...)
}

func TestNew_Defaults(t *testing.T) {
	c := New([]fetcher.Fetcher{testutil.NewScriptedFetcher("bcb")})

	if c.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", c.maxRetries)
	}
	if c.baseDelay != time.Second || c.courtesyDelay != time.Second {
		t.Errorf("delays = %v/%v, want 1s/1s", c.baseDelay, c.courtesyDelay)
	}
	if c.firstTimeout != 15*time.Second || c.retryTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v, want 15s/30s", c.firstTimeout, c.retryTimeout)
	}
	if _, ok := c.fetchers["bcb"]; !ok {
		t.Error("fetcher not indexed by source")
	}
}

func TestCollect_RetriesThenSucceeds(t *testing.T) {
	rows := testutil.Monthly(2024, time.January, 0.42, 0.83, 0.16)
	f := testutil.NewScriptedFetcher("bcb").Script("ipca",
		testutil.Response{Err: fetcher.NewTimeoutError(context.DeadlineExceeded)},
		testutil.Response{Err: fetcher.NewTimeoutError(context.DeadlineExceeded)},
		testutil.Response{Points: rows},
	)
	m := newRecordingMetrics()

	report, err := newTestCollector(f, m).Collect(context.Background(), []fetcher.Request{request("ipca")})
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	res, ok := report.Get("ipca")
	if !ok {
		t.Fatal("report has no entry for ipca")
	}
	if res.Status != fetcher.StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Reason)
	}
	if diff := cmp.Diff(rows, res.Points); diff != "" {
		t.Errorf("Points mismatch (-want +got):\n%s", diff)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}

	want := []time.Duration{testBase, 2 * testBase}
	if diff := cmp.Diff(want, m.delays["ipca"]); diff != "" {
		t.Errorf("retry delays mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"timeout", "timeout", "success"}, m.attempts["ipca"]); diff != "" {
		t.Errorf("attempt outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect_TransientFailureExhaustsRetries(t *testing.T) {
	f := testutil.NewScriptedFetcher("bcb").Script("poupanca",
		testutil.Response{Err: fetcher.NewServerError(500)},
	)
	m := newRecordingMetrics()

	report, err := newTestCollector(f, m).Collect(context.Background(), []fetcher.Request{request("poupanca")})
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	res, _ := report.Get("poupanca")
	if res.Status != fetcher.StatusFailed {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
	if res.Reason != "HTTP 500" {
		t.Errorf("Reason = %q, want %q", res.Reason, "HTTP 500")
	}
	if got := f.Calls("poupanca"); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}

	var fe *fetcher.FetchError
	if !errors.As(res.Err, &fe) || fe.StatusCode != 500 {
		t.Errorf("Err = %v, want server FetchError", res.Err)
	}
}

func TestCollect_BackoffDoublesPerAttempt(t *testing.T) {
	f := testutil.NewScriptedFetcher("bcb").Script("credito_total",
		testutil.Response{Err: errors.New("connection reset by peer")},
	)
	m := newRecordingMetrics()

	_, err := newTestCollector(f, m, WithMaxRetries(4)).Collect(context.Background(), []fetcher.Request{request("credito_total")})
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	want := []time.Duration{testBase, 2 * testBase, 4 * testBase}
	if diff := cmp.Diff(want, m.delays["credito_total"]); diff != "" {
		t.Errorf("retry delays mismatch (-want +got):\n%s", diff)
	}
	if got := f.Calls("credito_total"); got != 4 {
		t.Errorf("fetch calls = %d, want 4", got)
	}
}

func TestCollect_PermanentFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name       string
		response   testutil.Response
		wantReason string
	}{
		{"empty payload error", testutil.Response{Err: fetcher.NewEmptyPayloadError()}, "empty payload"},
		{"zero rows without error", testutil.Response{}, "empty payload"},
		{"client error", testutil.Response{Err: fetcher.NewClientError(404)}, "HTTP 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewScriptedFetcher("bcb").Script("inadimplencia", tt.response)
			m := newRecordingMetrics()

			report, err := newTestCollector(f, m).Collect(context.Background(), []fetcher.Request{request("inadimplencia")})
			if err != nil {
				t.Fatalf("Collect() returned unexpected error: %v", err)
			}

			res, _ := report.Get("inadimplencia")
			if res.Status != fetcher.StatusFailed {
				t.Fatalf("Status = %q, want failed", res.Status)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if got := f.Calls("inadimplencia"); got != 1 {
				t.Errorf("fetch calls = %d, want 1", got)
			}
			if len(m.delays["inadimplencia"]) != 0 {
				t.Errorf("unexpected retry delays %v", m.delays["inadimplencia"])
			}
		})
	}
}

func TestCollect_MixedOutcomes(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			f := testutil.NewScriptedFetcher("bcb").
				Script("ipca", testutil.Response{Points: testutil.Monthly(2024, time.January, 0.42)}).
				Script("poupanca", testutil.Response{Err: fetcher.NewServerError(503)}).
				Script("credito_total", testutil.Response{Points: testutil.Monthly(2024, time.January, 1, 2)})

			requests := []fetcher.Request{request("ipca"), request("poupanca"), request("credito_total")}
			report, err := newTestCollector(f, newRecordingMetrics(), WithWorkers(workers)).Collect(context.Background(), requests)
			if err != nil {
				t.Fatalf("Collect() returned unexpected error: %v", err)
			}

			if report.Len() != 3 {
				t.Fatalf("Len() = %d, want 3", report.Len())
			}
			if got := len(report.Succeeded()); got != 2 {
				t.Errorf("Succeeded() = %d, want 2", got)
			}
			failed := report.Failed()
			if len(failed) != 1 || failed[0].Name != "poupanca" {
				t.Errorf("Failed() = %v, want [poupanca]", failed)
			}
			if diff := cmp.Diff([]string{"ipca", "poupanca", "credito_total"}, report.Names()); diff != "" {
				t.Errorf("Names() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollect_EveryRequestReported(t *testing.T) {
	f := testutil.NewScriptedFetcher("bcb")
	var requests []fetcher.Request
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("series_%02d", i)
		switch i % 3 {
		case 0:
			f.Script(name, testutil.Response{Points: testutil.Monthly(2020, time.March, float64(i))})
		case 1:
			f.Script(name, testutil.Response{Err: fetcher.NewClientError(400)})
		default:
			f.Script(name, testutil.Response{Err: fetcher.NewServerError(502)})
		}
		requests = append(requests, request(name))
	}

	report, err := newTestCollector(f, nil, WithWorkers(4), WithBaseDelay(time.Millisecond)).Collect(context.Background(), requests)
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	if report.Len() != len(requests) {
		t.Fatalf("Len() = %d, want %d", report.Len(), len(requests))
	}
	for _, req := range requests {
		if _, ok := report.Get(req.Name); !ok {
			t.Errorf("missing result for %s", req.Name)
		}
	}
	if got := len(report.Succeeded()) + len(report.Failed()); got != len(requests) {
		t.Errorf("succeeded+failed = %d, want %d", got, len(requests))
	}
}

func TestCollect_NormalizesRows(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	f := testutil.NewScriptedFetcher("bcb").Script("ipca", testutil.Response{Points: []fetcher.Point{
		{Date: feb, Value: 0.83, Valid: true},
		{Date: jan, Value: 0.42, Valid: true},
		{Date: feb, Value: 0.80, Valid: true},
	}})

	report, err := newTestCollector(f, nil).Collect(context.Background(), []fetcher.Request{request("ipca")})
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	res, _ := report.Get("ipca")
	want := []fetcher.Point{
		{Date: jan, Value: 0.42, Valid: true},
		{Date: feb, Value: 0.80, Valid: true},
	}
	if diff := cmp.Diff(want, res.Points); diff != "" {
		t.Errorf("Points mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect_ConfigErrors(t *testing.T) {
	ok := request("ipca")
	tests := []struct {
		name     string
		requests []fetcher.Request
		opts     []Option
	}{
		{"empty list", nil, nil},
		{"blank name", []fetcher.Request{{Source: "bcb", RemoteID: "433"}}, nil},
		{"duplicate name", []fetcher.Request{ok, ok}, nil},
		{"unknown source", []fetcher.Request{{Name: "x", Source: "fgv", RemoteID: "1"}}, nil},
		{"zero retries", []fetcher.Request{ok}, []Option{WithMaxRetries(0)}},
		{"negative delay", []fetcher.Request{ok}, []Option{WithBaseDelay(-time.Second)}},
		{"inverted range", []fetcher.Request{{
			Name: "x", Source: "bcb", RemoteID: "1",
			Range: fetcher.DateRange{
				Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewScriptedFetcher("bcb")
			report, err := newTestCollector(f, nil, tt.opts...).Collect(context.Background(), tt.requests)
			if err == nil {
				t.Fatal("Collect() expected error, got nil")
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("error %T is not a ConfigError", err)
			}
			if report != nil {
				t.Error("report should be nil on configuration error")
			}
			for _, r := range tt.requests {
				if f.Calls(r.Name) != 0 {
					t.Errorf("fetcher called for %q despite configuration error", r.Name)
				}
			}
		})
	}
}

func TestCollect_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	slow := &testutil.MockFetcher{
		SourceName: "bcb",
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	requests := []fetcher.Request{request("ipca"), request("poupanca")}
	report, err := newTestCollector(slow, nil).Collect(ctx, requests)
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	if report.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", report.Len())
	}
	for _, res := range report.Results() {
		if res.Status != fetcher.StatusFailed {
			t.Errorf("%s: Status = %q, want failed", res.Name, res.Status)
		}
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("%s: Err = %v, want context.Canceled", res.Name, res.Err)
		}
	}
	if res, _ := report.Get("poupanca"); res.Attempts != 0 {
		t.Errorf("poupanca Attempts = %d, want 0", res.Attempts)
	}
}

func TestCollect_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	f := &testutil.MockFetcher{
		SourceName: "bcb",
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return testutil.Monthly(2024, time.January, 1), nil
		},
	}
	m := newRecordingMetrics()

	c := newTestCollector(f, m, WithAttemptTimeouts(20*time.Millisecond, time.Second))
	report, err := c.Collect(context.Background(), []fetcher.Request{request("ipca")})
	if err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	res, _ := report.Get("ipca")
	if !res.OK() {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Reason)
	}
	if diff := cmp.Diff([]string{"timeout", "success"}, m.attempts["ipca"]); diff != "" {
		t.Errorf("attempt outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect_CourtesyDelay(t *testing.T) {
	f := testutil.NewScriptedFetcher("bcb").
		Script("a", testutil.Response{Points: testutil.Monthly(2024, time.January, 1)}).
		Script("b", testutil.Response{Err: fetcher.NewEmptyPayloadError()}).
		Script("c", testutil.Response{Points: testutil.Monthly(2024, time.January, 1)})

	c := newTestCollector(f, nil, WithCourtesyDelay(30*time.Millisecond))

	start := time.Now()
	if _, err := c.Collect(context.Background(), []fetcher.Request{request("a"), request("b"), request("c")}); err != nil {
		t.Fatalf("Collect() returned unexpected error: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("3 series took %v, want at least two courtesy delays (60ms)", elapsed)
	}
}
