package ipea

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"seriesfetcher/internal/fetcher"
)

// Source is the identifier requests use to select the ipeadata fetcher
const Source = "ipea"

// ValueRow represents one observation of the OData ValoresSerie entity set.
// Older exports name the code column CODIGO instead of SERCODIGO; both are
// accepted and neither is interpreted.
type ValueRow struct {
	SerCodigo string             `json:"SERCODIGO"`
	Codigo    string             `json:"CODIGO"`
	ValData   string             `json:"VALDATA"`
	ValValor  fetcher.FlexNumber `json:"VALVALOR"`
}

// Code returns the series code regardless of which column carried it
func (r ValueRow) Code() string {
	if r.SerCodigo != "" {
		return r.SerCodigo
	}
	return r.Codigo
}

// ValuesResponse represents the ipeadata OData response envelope
type ValuesResponse struct {
	Value []ValueRow `json:"value"`
}

// SeriesFetcher fetches time series from the ipeadata OData API
type SeriesFetcher struct {
	client *resty.Client
}

// NewSeriesFetcher creates a new ipeadata series fetcher
func NewSeriesFetcher(baseURL string) *SeriesFetcher {
	return &SeriesFetcher{
		client: fetcher.NewHTTPClient(baseURL),
	}
}

// Source implements fetcher.Fetcher
func (f *SeriesFetcher) Source() string {
	return Source
}

// Fetch retrieves one ipeadata series. The API has no date bounds on this
// entity set, so the request window is applied to the returned rows.
func (f *SeriesFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
	code := strings.TrimSpace(req.RemoteID)
	if code == "" {
		return nil, fetcher.NewValidationError("missing ipeadata series code")
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/ValoresSerie(SERCODIGO='%s')", code))

	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	var result ValuesResponse
	if err := json.Unmarshal(resp.Bytes(), &result); err != nil {
		return nil, fetcher.NewDecodeError(err)
	}

	if len(result.Value) == 0 {
		return nil, fetcher.NewEmptyPayloadError()
	}

	points := make([]fetcher.Point, 0, len(result.Value))
	parsed := 0
	for _, row := range result.Value {
		date, ok := parseDate(row.ValData)
		if !ok {
			continue
		}
		parsed++
		if !req.Range.Contains(date) {
			continue
		}
		points = append(points, fetcher.Point{
			Date:  date,
			Value: row.ValValor.Value,
			Valid: row.ValValor.Valid,
		})
	}

	if parsed == 0 {
		return nil, fetcher.NewValidationError(fmt.Sprintf("no parseable dates in %d rows", len(result.Value)))
	}
	if len(points) == 0 {
		return nil, fetcher.NewEmptyPayloadError()
	}

	return points, nil
}

// parseDate accepts the OData timestamp (with offset) or a bare date and
// keeps the local calendar date the source meant.
func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
