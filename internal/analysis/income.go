package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"seriesfetcher/internal/fetcher"
)

const (
	classColumn  = "classe_social"
	incomeColumn = "renda_media_mensal"
)

// IncomeClass is a social class with its nominal monthly income.
type IncomeClass struct {
	Name   string
	Income float64
}

// RealIncomeRow is the income of one class in one year, deflated to the base year.
type RealIncomeRow struct {
	Year      int
	Class     string
	Nominal   float64
	Real      float64
	Inflation float64
	// LossPercent is the change of Real against the base year, in percent
	LossPercent float64
}

// ErrNoBaseYear is returned when the annual rates do not cover the base year
var ErrNoBaseYear = errors.New("annual inflation does not cover the base year")

// RealIncome deflates every class's nominal income by the inflation
// accumulated from baseYear on. The base year's own inflation is part of
// its factor. Rows are ordered by year, then by class order.
func RealIncome(classes []IncomeClass, annual []YearRate, baseYear int) ([]RealIncomeRow, error) {
	years := make([]YearRate, 0, len(annual))
	for _, a := range annual {
		if a.Year >= baseYear {
			years = append(years, a)
		}
	}
	sort.Slice(years, func(i, j int) bool { return years[i].Year < years[j].Year })
	if len(years) == 0 || years[0].Year != baseYear {
		return nil, fmt.Errorf("%w: %d", ErrNoBaseYear, baseYear)
	}

	base := make(map[string]float64, len(classes))
	rows := make([]RealIncomeRow, 0, len(classes)*len(years))
	factor := 1.0

	for _, y := range years {
		factor *= 1 + y.Percent/100
		for _, c := range classes {
			deflated := c.Income / factor
			if y.Year == baseYear {
				base[c.Name] = deflated
			}
			row := RealIncomeRow{
				Year:      y.Year,
				Class:     c.Name,
				Nominal:   c.Income,
				Real:      deflated,
				Inflation: y.Percent,
			}
			if b := base[c.Name]; b != 0 {
				row.LossPercent = (deflated - b) / b * 100
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// RealIncomeTable renders real income rows for a CSV writer
func RealIncomeTable(rows []RealIncomeRow) ([]string, [][]string) {
	header := []string{"ano", classColumn, incomeColumn, "renda_real", "ipca_variacao_anual", "perda_percentual"}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			strconv.Itoa(r.Year),
			r.Class,
			formatFloat(r.Nominal),
			formatFloat(r.Real),
			formatFloat(r.Inflation),
			formatFloat(r.LossPercent),
		})
	}
	return header, out
}

// LoadIncomeClasses reads a CSV with classe_social and renda_media_mensal
// columns, in any order. Incomes may use a comma as decimal separator.
func LoadIncomeClasses(path string) ([]IncomeClass, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open income classes: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read income classes header: %w", err)
	}

	classIdx, incomeIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case classColumn:
			classIdx = i
		case incomeColumn:
			incomeIdx = i
		}
	}
	if classIdx < 0 || incomeIdx < 0 {
		return nil, fmt.Errorf("income classes: columns %s and %s are required", classColumn, incomeColumn)
	}

	var classes []IncomeClass
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read income classes: %w", err)
		}

		income, ok := fetcher.ParseNumber(record[incomeIdx])
		if !ok {
			return nil, fmt.Errorf("income classes line %d: invalid income %q", line, record[incomeIdx])
		}
		classes = append(classes, IncomeClass{
			Name:   strings.TrimSpace(record[classIdx]),
			Income: income,
		})
	}
	return classes, nil
}
