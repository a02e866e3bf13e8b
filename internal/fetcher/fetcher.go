package fetcher

import "context"

// Fetcher is the core interface that every remote series source implements.
// A Fetcher performs exactly one network attempt per call; retrying is the
// caller's job.
type Fetcher interface {
	// Fetch retrieves the rows of one series for the request's date range.
	// Returned errors should be *FetchError values so the caller can tell
	// transient failures from permanent ones.
	Fetch(ctx context.Context, req Request) ([]Point, error)

	// Source returns the identifier requests use to select this fetcher.
	// Examples:
	//   - bcb
	//   - ipea
	Source() string
}
