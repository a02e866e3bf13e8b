package fetcher

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Normalize returns the points sorted ascending by date. When a date appears
// more than once the last occurrence wins, since sources append revisions.
// The input slice is not modified.
func Normalize(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}

	byDate := make(map[int64]int, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		key := truncateDay(p.Date).Unix()
		if i, ok := byDate[key]; ok {
			out[i] = p
			continue
		}
		byDate[key] = len(out)
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ParseNumber coerces a raw source value to a float. Both "." and ","
// decimal separators are accepted. ok is false for blank or malformed input.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return 0, false
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FlexNumber decodes a JSON value that may be a number, a numeric string, or
// null. Anything that cannot be coerced leaves Valid false instead of failing
// the whole payload.
type FlexNumber struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler
func (n *FlexNumber) UnmarshalJSON(b []byte) error {
	*n = FlexNumber{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		s = string(b)
	}

	n.Value, n.Valid = ParseNumber(s)
	return nil
}
