package fetcher

import (
	"fmt"
	"time"
)

// DateRange is an inclusive window of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, comparing dates only.
func (r DateRange) Contains(t time.Time) bool {
	d := truncateDay(t)
	if !r.Start.IsZero() && d.Before(truncateDay(r.Start)) {
		return false
	}
	if !r.End.IsZero() && d.After(truncateDay(r.End)) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Request names one remote series to collect.
type Request struct {
	// Name identifies the series within a run and must be unique
	Name string

	// Source selects the Fetcher (bcb, ipea)
	Source string

	// RemoteID is the source-specific key, e.g. an SGS code
	RemoteID string

	Range DateRange
}

// Point is one (date, value) row. Valid is false when the source value
// could not be coerced to a number.
type Point struct {
	Date  time.Time
	Value float64
	Valid bool
}

// Status is the outcome of collecting one series.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result represents the outcome of collecting a single series.
// Results are built once by the collector and never modified afterwards.
type Result struct {
	Name   string
	Source string

	// Points is sorted ascending by date with no duplicate dates.
	// Empty unless Status is StatusSuccess.
	Points []Point

	Status Status

	// Reason is a short description of the last error for failed series,
	// e.g. "HTTP 500" or "empty payload".
	Reason string

	// Attempts is the number of fetch attempts made
	Attempts int

	// Err is the last error returned by the fetcher, if any
	Err error
}

// OK reports whether the series was collected successfully.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
