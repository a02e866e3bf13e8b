package testutil

import (
	"context"
	"sync"
	"time"

	"seriesfetcher/internal/fetcher"
)

// MockFetcher is a mock implementation of the Fetcher interface for testing
type MockFetcher struct {
	FetchFunc  func(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error)
	SourceName string
}

// Fetch implements the Fetcher interface
func (m *MockFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, req)
	}
	return nil, nil
}

// Source implements the Fetcher interface
func (m *MockFetcher) Source() string {
	if m.SourceName != "" {
		return m.SourceName
	}
	return "mock"
}

// Response is one scripted outcome of a fetch attempt
type Response struct {
	Points []fetcher.Point
	Err    error
}

// ScriptedFetcher replays scripted responses per series name. The last
// response of a script repeats once the script is exhausted. It is safe
// for concurrent use and records how many attempts each series received.
type ScriptedFetcher struct {
	SourceName string

	mu      sync.Mutex
	scripts map[string][]Response
	calls   map[string]int
}

// NewScriptedFetcher creates an empty ScriptedFetcher for the given source
func NewScriptedFetcher(source string) *ScriptedFetcher {
	return &ScriptedFetcher{
		SourceName: source,
		scripts:    make(map[string][]Response),
		calls:      make(map[string]int),
	}
}

// Script sets the responses returned for a series, in order
func (s *ScriptedFetcher) Script(name string, responses ...Response) *ScriptedFetcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = responses
	return s
}

// Fetch implements the Fetcher interface
func (s *ScriptedFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
	s.mu.Lock()
	n := s.calls[req.Name]
	s.calls[req.Name] = n + 1
	script := s.scripts[req.Name]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(script) == 0 {
		return nil, fetcher.NewEmptyPayloadError()
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].Points, script[n].Err
}

// Source implements the Fetcher interface
func (s *ScriptedFetcher) Source() string {
	return s.SourceName
}

// Calls returns how many attempts a series received
func (s *ScriptedFetcher) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Monthly builds n valid monthly points starting at the given month
func Monthly(year int, month time.Month, values ...float64) []fetcher.Point {
	points := make([]fetcher.Point, len(values))
	for i, v := range values {
		points[i] = fetcher.Point{
			Date:  time.Date(year, month+time.Month(i), 1, 0, 0, 0, 0, time.UTC),
			Value: v,
			Valid: true,
		}
	}
	return points
}

// NewMockFetcher creates a simple mock fetcher returning fixed values
func NewMockFetcher(source string, points []fetcher.Point, err error) fetcher.Fetcher {
	return &MockFetcher{
		FetchFunc: func(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
			return points, err
		},
		SourceName: source,
	}
}
