package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"seriesfetcher/internal/fetcher"
	"seriesfetcher/internal/ratelimit"
)

const (
	defaultMaxRetries    = 3
	defaultBaseDelay     = 1 * time.Second
	defaultCourtesyDelay = 1 * time.Second
	defaultFirstTimeout  = 15 * time.Second
	defaultRetryTimeout  = 30 * time.Second

	// maxBackoffInterval only guards against overflow for absurd retry counts
	maxBackoffInterval = 24 * time.Hour
)

// ConfigError reports an invalid collection call. It is returned before any
// network activity takes place.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid collection: " + e.Reason
}

// Metrics receives collection events. Implementations must be safe for
// concurrent use when the collector runs more than one worker.
type Metrics interface {
	ObserveAttempt(series, outcome string, duration time.Duration)
	ObserveRetry(series string, attempt int, delay time.Duration)
	ObserveResult(result fetcher.Result)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(string, string, time.Duration) {}
func (noopMetrics) ObserveRetry(string, int, time.Duration)      {}
func (noopMetrics) ObserveResult(fetcher.Result)                 {}

// Collector fetches series through their sources, retrying transient
// failures with exponential backoff.
type Collector struct {
	fetchers map[string]fetcher.Fetcher

	maxRetries    int
	baseDelay     time.Duration
	courtesyDelay time.Duration
	firstTimeout  time.Duration
	retryTimeout  time.Duration
	workers       int

	logger  *slog.Logger
	metrics Metrics
	limiter *ratelimit.Limiter
}

// Option configures a Collector
type Option func(*Collector)

// WithMaxRetries sets the total number of attempts per series
func WithMaxRetries(n int) Option {
	return func(c *Collector) { c.maxRetries = n }
}

// WithBaseDelay sets the first backoff delay; each later delay doubles it
func WithBaseDelay(d time.Duration) Option {
	return func(c *Collector) { c.baseDelay = d }
}

// WithCourtesyDelay sets the pause between two series handled by the same worker
func WithCourtesyDelay(d time.Duration) Option {
	return func(c *Collector) { c.courtesyDelay = d }
}

// WithAttemptTimeouts sets the timeout of the first attempt and of every retry.
// Zero disables the per-attempt timeout.
func WithAttemptTimeouts(first, retry time.Duration) Option {
	return func(c *Collector) {
		c.firstTimeout = first
		c.retryTimeout = retry
	}
}

// WithWorkers sets how many series are collected in parallel. 1 is sequential.
func WithWorkers(n int) Option {
	return func(c *Collector) { c.workers = n }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(c *Collector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLimiter throttles attempts per source
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Collector) { c.limiter = l }
}

// New creates a Collector over the given fetchers, indexed by their Source.
func New(fetchers []fetcher.Fetcher, opts ...Option) *Collector {
	c := &Collector{
		fetchers:      make(map[string]fetcher.Fetcher, len(fetchers)),
		maxRetries:    defaultMaxRetries,
		baseDelay:     defaultBaseDelay,
		courtesyDelay: defaultCourtesyDelay,
		firstTimeout:  defaultFirstTimeout,
		retryTimeout:  defaultRetryTimeout,
		workers:       1,
		logger:        slog.Default(),
		metrics:       noopMetrics{},
	}
	for _, f := range fetchers {
		c.fetchers[f.Source()] = f
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fetches every requested series and returns a report with exactly
// one result per request. Individual series failures are recorded in the
// report; only an invalid request list or collector setup returns an error.
func (c *Collector) Collect(ctx context.Context, requests []fetcher.Request) (*Report, error) {
	if err := c.validate(requests); err != nil {
		return nil, err
	}

	workers := c.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	c.logger.Info("collection started",
		"series", len(requests),
		"workers", workers,
		"max_retries", c.maxRetries,
		"base_delay", c.baseDelay)

	results := make([]fetcher.Result, len(requests))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			first := true
			for i := range jobs {
				if !first {
					c.pause(ctx)
				}
				first = false
				results[i] = c.collectOne(ctx, requests[i])
			}
		}()
	}

	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	report := NewReport(results...)

	c.logger.Info("collection finished",
		"series", report.Len(),
		"succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()))

	return report, nil
}

func (c *Collector) validate(requests []fetcher.Request) error {
	if len(requests) == 0 {
		return &ConfigError{Reason: "no series requested"}
	}
	if c.maxRetries < 1 {
		return &ConfigError{Reason: fmt.Sprintf("max retries must be at least 1, got %d", c.maxRetries)}
	}
	if c.baseDelay < 0 || c.courtesyDelay < 0 {
		return &ConfigError{Reason: "delays must not be negative"}
	}

	seen := make(map[string]struct{}, len(requests))
	for i, req := range requests {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return &ConfigError{Reason: fmt.Sprintf("request %d has no name", i)}
		}
		if _, dup := seen[req.Name]; dup {
			return &ConfigError{Reason: fmt.Sprintf("duplicate series name %q", req.Name)}
		}
		seen[req.Name] = struct{}{}

		if _, ok := c.fetchers[req.Source]; !ok {
			return &ConfigError{Reason: fmt.Sprintf("series %q: no fetcher for source %q", req.Name, req.Source)}
		}
		if !req.Range.Start.IsZero() && !req.Range.End.IsZero() && req.Range.End.Before(req.Range.Start) {
			return &ConfigError{Reason: fmt.Sprintf("series %q: date range %s ends before it starts", req.Name, req.Range)}
		}
	}
	return nil
}

// collectOne runs the attempt/backoff loop for one series and never fails;
// every outcome is folded into the returned Result.
func (c *Collector) collectOne(ctx context.Context, req fetcher.Request) fetcher.Result {
	result := fetcher.Result{
		Name:   req.Name,
		Source: req.Source,
		Status: fetcher.StatusFailed,
	}

	log := c.logger.With("series", req.Name, "source", req.Source, "remote_id", req.RemoteID)

	if err := context.Cause(ctx); err != nil {
		result.Err = err
		result.Reason = err.Error()
		log.Warn("series skipped", "reason", result.Reason)
		c.metrics.ObserveResult(result)
		return result
	}

	f := c.fetchers[req.Source]
	attempt := 0

	operation := func() ([]fetcher.Point, error) {
		attempt++
		points, err := c.attempt(ctx, f, req, attempt)
		if err == nil {
			return points, nil
		}

		log.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", c.maxRetries,
			"error", err)

		if !fetcher.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	points, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			c.metrics.ObserveRetry(req.Name, attempt, next)
			log.Info("waiting before next attempt", "attempt", attempt, "wait", next)
		}))

	result.Attempts = attempt

	// Retry only strips the permanent marker when tries remain
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	if err != nil {
		result.Err = err
		result.Reason = err.Error()
		log.Error("series failed", "attempts", attempt, "reason", result.Reason)
		c.metrics.ObserveResult(result)
		return result
	}

	result.Status = fetcher.StatusSuccess
	result.Points = fetcher.Normalize(points)

	log.Info("series collected",
		"attempts", attempt,
		"rows", len(result.Points),
		"from", result.Points[0].Date.Format(time.DateOnly),
		"to", result.Points[len(result.Points)-1].Date.Format(time.DateOnly))
	c.metrics.ObserveResult(result)

	return result
}

// attempt performs one fetch under the per-attempt timeout
func (c *Collector) attempt(ctx context.Context, f fetcher.Fetcher, req fetcher.Request, n int) ([]fetcher.Point, error) {
	if err := c.limiter.Wait(ctx, req.Source); err != nil {
		return nil, err
	}

	timeout := c.firstTimeout
	if n > 1 {
		timeout = c.retryTimeout
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	points, err := f.Fetch(attemptCtx, req)

	if err == nil && len(points) == 0 {
		err = fetcher.NewEmptyPayloadError()
	}
	// the attempt's own deadline is a transient timeout, not a cancellation
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fetcher.ClassifyTransportError(err)
	}

	c.metrics.ObserveAttempt(req.Name, outcome(err), time.Since(start))
	return points, err
}

// newBackOff returns base*2^i between attempt i and i+1, without jitter
func (c *Collector) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxBackoffInterval,
	}
}

// pause applies the courtesy delay between two series
func (c *Collector) pause(ctx context.Context) {
	if c.courtesyDelay <= 0 {
		return
	}
	t := time.NewTimer(c.courtesyDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return string(fe.Type)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return string(fetcher.ErrorTypeUnknown)
}
