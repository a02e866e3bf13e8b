package collector

import (
	"fmt"

	"seriesfetcher/internal/fetcher"
)

// Report maps every requested series name to exactly one result.
type Report struct {
	results map[string]fetcher.Result
	order   []string
}

// NewReport builds a report from results, for callers that assemble one
// outside a collection run. Result names must be unique.
func NewReport(results ...fetcher.Result) *Report {
	r := newReport(len(results))
	for _, res := range results {
		r.add(res)
	}
	return r
}

func newReport(capacity int) *Report {
	return &Report{
		results: make(map[string]fetcher.Result, capacity),
		order:   make([]string, 0, capacity),
	}
}

func (r *Report) add(res fetcher.Result) {
	if _, dup := r.results[res.Name]; dup {
		// names are validated unique before any fetch
		panic(fmt.Sprintf("collector: duplicate result for series %q", res.Name))
	}
	r.results[res.Name] = res
	r.order = append(r.order, res.Name)
}

// Len returns the number of series in the report
func (r *Report) Len() int {
	return len(r.results)
}

// Get returns the result for a series name
func (r *Report) Get(name string) (fetcher.Result, bool) {
	res, ok := r.results[name]
	return res, ok
}

// Names returns the series names in request order
func (r *Report) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Results returns all results in request order
func (r *Report) Results() []fetcher.Result {
	out := make([]fetcher.Result, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.results[name])
	}
	return out
}

// Succeeded returns the successful results in request order
func (r *Report) Succeeded() []fetcher.Result {
	return r.filter(fetcher.StatusSuccess)
}

// Failed returns the failed results in request order
func (r *Report) Failed() []fetcher.Result {
	return r.filter(fetcher.StatusFailed)
}

func (r *Report) filter(status fetcher.Status) []fetcher.Result {
	var out []fetcher.Result
	for _, name := range r.order {
		if res := r.results[name]; res.Status == status {
			out = append(out, res)
		}
	}
	return out
}
