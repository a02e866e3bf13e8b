package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"seriesfetcher/internal/fetcher"
)

// CSVHeader is the header row of every series file
var CSVHeader = []string{"data", "valor"}

// CSVSink writes one flat file per series named after the collection window.
type CSVSink struct {
	dir    string
	window fetcher.DateRange
}

// NewCSVSink creates a sink writing into dir. The window years name the
// files; a zero window falls back to the years of the data itself.
func NewCSVSink(dir string, window fetcher.DateRange) *CSVSink {
	return &CSVSink{dir: dir, window: window}
}

// Path returns the file a series is written to
func (s *CSVSink) Path(res fetcher.Result) string {
	start, end := s.window.Start, s.window.End
	if len(res.Points) > 0 {
		if start.IsZero() {
			start = res.Points[0].Date
		}
		if end.IsZero() {
			end = res.Points[len(res.Points)-1].Date
		}
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d_%d.csv", res.Name, start.Year(), end.Year()))
}

// WriteSeries writes the rows of a successful series
func (s *CSVSink) WriteSeries(_ context.Context, res fetcher.Result) error {
	rows := make([][]string, 0, len(res.Points))
	for _, p := range res.Points {
		rows = append(rows, []string{p.Date.Format(time.DateOnly), FormatValue(p.Value, p.Valid)})
	}
	return WriteTable(s.Path(res), CSVHeader, rows)
}

// Close is a no-op; every file is closed after it is written
func (s *CSVSink) Close() error {
	return nil
}

// FormatValue renders a value cell, empty when missing
func FormatValue(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteTable writes a header and rows as CSV, creating parent directories.
func WriteTable(path string, header []string, rows [][]string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
