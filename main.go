package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"seriesfetcher/internal/analysis"
	"seriesfetcher/internal/bcb"
	"seriesfetcher/internal/collector"
	"seriesfetcher/internal/config"
	"seriesfetcher/internal/fetcher"
	"seriesfetcher/internal/ipea"
	"seriesfetcher/internal/metrics"
	"seriesfetcher/internal/ratelimit"
	"seriesfetcher/internal/store"
)

const (
	exitOK    = 0
	exitError = 1
)

func main() {
	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Warn("received interrupt signal, stopping collection")
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// run executes one collection and returns the process exit status. Series
// failures alone never make it non-zero; configuration and persistence
// failures do.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("seriesfetcher", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitError
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	slog.SetDefault(logger)

	recorder := metrics.New()
	c := collector.New(
		[]fetcher.Fetcher{
			bcb.NewSeriesFetcher(cfg.BCBBaseURL),
			ipea.NewSeriesFetcher(cfg.IPEABaseURL),
		},
		collector.WithMaxRetries(cfg.MaxRetries),
		collector.WithBaseDelay(cfg.BaseDelay),
		collector.WithCourtesyDelay(cfg.CourtesyDelay),
		collector.WithAttemptTimeouts(cfg.FirstTimeout, cfg.RetryTimeout),
		collector.WithWorkers(cfg.Workers),
		collector.WithLimiter(ratelimit.New(cfg.RateLimits)),
		collector.WithLogger(logger),
		collector.WithMetrics(recorder),
	)

	start := time.Now()
	report, err := c.Collect(ctx, cfg.Requests())
	if err != nil {
		logger.Error("collection not started", "error", err)
		return exitError
	}

	status := exitOK
	if err := persist(ctx, cfg, report); err != nil {
		logger.Error("persistence failed", "error", err)
		status = exitError
	}
	if err := writeAnalysis(cfg, report, logger); err != nil {
		logger.Error("analysis failed", "error", err)
		status = exitError
	}

	summarize(logger, report, time.Since(start))

	if cfg.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("metrics export failed", "error", err)
			status = exitError
		}
	}

	return status
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func persist(ctx context.Context, cfg *config.Config, report *collector.Report) error {
	sinks := []store.Sink{store.NewCSVSink(cfg.OutputDir, cfg.Window())}

	if cfg.SQLitePath != "" {
		db, err := store.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		sinks = append(sinks, db)
	}

	return store.Persist(ctx, report, sinks...)
}

// writeAnalysis derives the indicator tables from the successful series
func writeAnalysis(cfg *config.Config, report *collector.Report, logger *slog.Logger) error {
	dir := filepath.Join(cfg.OutputDir, "analysis")

	succeeded := report.Succeeded()
	if len(succeeded) == 0 {
		logger.Warn("no series collected, skipping analysis")
		return nil
	}

	var errs []error

	series := make(map[string][]fetcher.Point, len(succeeded))
	for _, res := range succeeded {
		series[res.Name] = res.Points
	}
	header, rows := analysis.MergeByDate(series).Table()
	if err := store.WriteTable(filepath.Join(dir, "indicadores_mensais.csv"), header, rows); err != nil {
		errs = append(errs, err)
	}

	inflation, ok := report.Get(cfg.InflationSeries)
	if !ok || !inflation.OK() {
		logger.Warn("inflation series unavailable, skipping inflation impact", "series", cfg.InflationSeries)
		return errors.Join(errs...)
	}

	header, rows = analysis.ImpactTable(analysis.InflationImpact(inflation.Points))
	if err := store.WriteTable(filepath.Join(dir, "impacto_inflacao.csv"), header, rows); err != nil {
		errs = append(errs, err)
	}

	if cfg.IncomeClassesPath != "" {
		if err := writeRealIncome(cfg, inflation.Points, dir); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func writeRealIncome(cfg *config.Config, inflation []fetcher.Point, dir string) error {
	classes, err := analysis.LoadIncomeClasses(cfg.IncomeClassesPath)
	if err != nil {
		return err
	}

	rows, err := analysis.RealIncome(classes, analysis.AnnualInflation(inflation), cfg.BaseYear)
	if err != nil {
		return fmt.Errorf("real income: %w", err)
	}

	header, table := analysis.RealIncomeTable(rows)
	return store.WriteTable(filepath.Join(dir, "renda_real_classes.csv"), header, table)
}

func summarize(logger *slog.Logger, report *collector.Report, elapsed time.Duration) {
	for _, res := range report.Results() {
		if res.OK() {
			logger.Info("series summary",
				"series", res.Name,
				"status", res.Status,
				"rows", len(res.Points),
				"attempts", res.Attempts)
			continue
		}
		logger.Warn("series summary",
			"series", res.Name,
			"status", res.Status,
			"attempts", res.Attempts,
			"reason", res.Reason)
	}

	logger.Info("collection summary",
		"series", report.Len(),
		"succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()),
		"elapsed", elapsed.Round(time.Millisecond))
}
