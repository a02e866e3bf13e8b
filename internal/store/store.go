package store

import (
	"context"
	"errors"
	"fmt"

	"seriesfetcher/internal/collector"
	"seriesfetcher/internal/fetcher"
)

// Sink receives successfully collected series.
type Sink interface {
	WriteSeries(ctx context.Context, res fetcher.Result) error
	Close() error
}

// RunRecorder is implemented by sinks that also keep the outcome of every
// series, failed ones included.
type RunRecorder interface {
	RecordRun(ctx context.Context, res fetcher.Result) error
}

// Persist writes every successful series of the report to each sink and
// records every outcome on sinks that support it. A failing sink does not
// stop the others; all errors are joined.
func Persist(ctx context.Context, report *collector.Report, sinks ...Sink) error {
	var errs []error

	for _, res := range report.Results() {
		for _, sink := range sinks {
			if res.OK() {
				if err := sink.WriteSeries(ctx, res); err != nil {
					errs = append(errs, fmt.Errorf("write %s: %w", res.Name, err))
				}
			}
			if rec, ok := sink.(RunRecorder); ok {
				if err := rec.RecordRun(ctx, res); err != nil {
					errs = append(errs, fmt.Errorf("record run %s: %w", res.Name, err))
				}
			}
		}
	}

	return errors.Join(errs...)
}
