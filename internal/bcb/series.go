package bcb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"seriesfetcher/internal/fetcher"
)

// Source is the identifier requests use to select the SGS fetcher
const Source = "bcb"

// dateLayout is the dd/MM/yyyy format used by SGS for both query
// parameters and response rows
const dateLayout = "02/01/2006"

// SGSRow represents one row of the SGS "dados" endpoint.
// encoding/json matches keys case-insensitively, so "DATA" and "Data"
// variants seen from some mirrors land in the same fields.
type SGSRow struct {
	Data  string             `json:"data"`
	Valor fetcher.FlexNumber `json:"valor"`
}

// SeriesFetcher fetches time series from the central bank SGS API
type SeriesFetcher struct {
	client *resty.Client
}

// NewSeriesFetcher creates a new SGS series fetcher
func NewSeriesFetcher(baseURL string) *SeriesFetcher {
	return &SeriesFetcher{
		client: fetcher.NewHTTPClient(baseURL),
	}
}

// Source implements fetcher.Fetcher
func (f *SeriesFetcher) Source() string {
	return Source
}

// Fetch retrieves one SGS series for the request's date range
func (f *SeriesFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]fetcher.Point, error) {
	code := strings.TrimSpace(req.RemoteID)
	if code == "" {
		return nil, fetcher.NewValidationError("missing SGS series code")
	}

	params := map[string]string{"formato": "json"}
	if !req.Range.Start.IsZero() {
		params["dataInicial"] = req.Range.Start.Format(dateLayout)
	}
	if !req.Range.End.IsZero() {
		params["dataFinal"] = req.Range.End.Format(dateLayout)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(fmt.Sprintf("/bcdata.sgs.%s/dados", code))

	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	var rows []SGSRow
	if err := json.Unmarshal(resp.Bytes(), &rows); err != nil {
		return nil, fetcher.NewDecodeError(err)
	}

	return parseRows(rows)
}

func parseRows(rows []SGSRow) ([]fetcher.Point, error) {
	if len(rows) == 0 {
		return nil, fetcher.NewEmptyPayloadError()
	}

	points := make([]fetcher.Point, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(dateLayout, strings.TrimSpace(row.Data))
		if err != nil {
			continue
		}
		points = append(points, fetcher.Point{
			Date:  date,
			Value: row.Valor.Value,
			Valid: row.Valor.Valid,
		})
	}

	if len(points) == 0 {
		return nil, fetcher.NewValidationError(fmt.Sprintf("no parseable dates in %d rows", len(rows)))
	}

	return points, nil
}
