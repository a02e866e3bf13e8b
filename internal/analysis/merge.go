package analysis

import (
	"sort"
	"time"

	"seriesfetcher/internal/fetcher"
)

// Cell is one value of a merged row
type Cell struct {
	Value float64
	Valid bool
}

// MergedRow holds the values of every series on one date, in Names order.
type MergedRow struct {
	Date  time.Time
	Cells []Cell
}

// Merged is an outer join of several series on date.
type Merged struct {
	Names []string
	Rows  []MergedRow
}

// MergeByDate outer-joins series on their dates. Names are sorted, rows are
// in date order and a series without an observation on a date has an
// invalid cell there.
func MergeByDate(series map[string][]fetcher.Point) Merged {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	byDate := make(map[time.Time][]Cell)
	for col, name := range names {
		for _, p := range series[name] {
			key := p.Date.UTC()
			cells, ok := byDate[key]
			if !ok {
				cells = make([]Cell, len(names))
				byDate[key] = cells
			}
			cells[col] = Cell{Value: p.Value, Valid: p.Valid}
		}
	}

	rows := make([]MergedRow, 0, len(byDate))
	for d, cells := range byDate {
		rows = append(rows, MergedRow{Date: d, Cells: cells})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	return Merged{Names: names, Rows: rows}
}

// Table renders the merged rows for a CSV writer
func (m Merged) Table() ([]string, [][]string) {
	header := append([]string{"data"}, m.Names...)
	out := make([][]string, 0, len(m.Rows))
	for _, r := range m.Rows {
		row := make([]string, 0, len(r.Cells)+1)
		row = append(row, r.Date.Format(time.DateOnly))
		for _, c := range r.Cells {
			row = append(row, formatCell(c.Value, c.Valid))
		}
		out = append(out, row)
	}
	return header, out
}
