package analysis

import (
	"sort"
	"strconv"
	"time"

	"seriesfetcher/internal/fetcher"
)

// ImpactRow is the cumulative effect of monthly inflation up to Date.
type ImpactRow struct {
	Date    time.Time
	Monthly float64
	Valid   bool

	// Cumulative is the compounded inflation since the first row, as a fraction
	Cumulative float64
	// Loss is the purchasing power lost since the first row, as a fraction
	Loss float64
}

// LossPercent returns Loss as a percentage
func (r ImpactRow) LossPercent() float64 {
	return r.Loss * 100
}

// InflationImpact compounds monthly percentage rates into a cumulative index
// and the matching loss of purchasing power. Missing months count as zero
// inflation and keep Valid false.
func InflationImpact(points []fetcher.Point) []ImpactRow {
	rows := make([]ImpactRow, 0, len(points))
	factor := 1.0

	for _, p := range points {
		if p.Valid {
			factor *= 1 + p.Value/100
		}
		cum := factor - 1
		rows = append(rows, ImpactRow{
			Date:       p.Date,
			Monthly:    p.Value,
			Valid:      p.Valid,
			Cumulative: cum,
			Loss:       1 - 1/(1+cum),
		})
	}
	return rows
}

// ImpactTable renders impact rows for a CSV writer
func ImpactTable(rows []ImpactRow) ([]string, [][]string) {
	header := []string{"data", "valor", "ipca_acumulado", "perda_poder_compra", "perda_poder_compra_pct"}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Date.Format(time.DateOnly),
			formatCell(r.Monthly, r.Valid),
			formatFloat(r.Cumulative),
			formatFloat(r.Loss),
			formatFloat(r.LossPercent()),
		})
	}
	return header, out
}

// YearRate is the compounded inflation of one calendar year.
type YearRate struct {
	Year    int
	Percent float64
	// Months counts the valid monthly observations compounded
	Months int
}

// AnnualInflation compounds monthly percentage rates into yearly rates,
// sorted by year. Years without any valid month are omitted.
func AnnualInflation(points []fetcher.Point) []YearRate {
	factors := make(map[int]float64)
	months := make(map[int]int)

	for _, p := range points {
		if !p.Valid {
			continue
		}
		y := p.Date.Year()
		if _, ok := factors[y]; !ok {
			factors[y] = 1
		}
		factors[y] *= 1 + p.Value/100
		months[y]++
	}

	out := make([]YearRate, 0, len(factors))
	for y, f := range factors {
		out = append(out, YearRate{Year: y, Percent: (f - 1) * 100, Months: months[y]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatCell(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return formatFloat(v)
}
