package fetcher

import (
	"log/slog"

	"resty.dev/v3"
)

const userAgent = "seriesfetcher/1.0"

// NewHTTPClient creates the HTTP client shared by the remote sources.
// Retries stay disabled here: the collector owns the retry and backoff policy
// so that attempts can be counted per series.
func NewHTTPClient(baseURL string) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetRetryCount(0).
		AddResponseMiddleware(responseLogger)

	return client
}

// responseLogger logs every response for observability
func responseLogger(_ *resty.Client, r *resty.Response) error {
	slog.Debug("http response",
		"url", r.Request.URL,
		"status_code", r.StatusCode(),
		"duration", r.Duration())
	return nil
}
