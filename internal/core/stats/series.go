package stats

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Case Series
// =============================================================================

// DefaultYear is assumed for CSV dates given without a year ("25-Jan").
const DefaultYear = 2020

// CaseSeries is a daily case-count series ordered newest first: index 0 is
// the most recent observation. All analysis windows are positional, so the
// ordering is an invariant, enforced at construction.
type CaseSeries struct {
	dates []time.Time
	cases []float64
}

// NewCaseSeries creates a case series from parallel date and value slices.
func NewCaseSeries(dates []time.Time, cases []float64) (*CaseSeries, error) {
	if len(dates) != len(cases) {
		return nil, ErrLengthMismatch
	}
	if len(dates) == 0 {
		return nil, ErrNoData
	}
	for i := 0; i < len(dates)-1; i++ {
		if !dates[i].After(dates[i+1]) {
			return nil, ErrNotDescending
		}
	}
	return &CaseSeries{dates: dates, cases: cases}, nil
}

// Len returns the number of observations.
func (s *CaseSeries) Len() int {
	return len(s.cases)
}

// Newest returns the most recent observation date.
func (s *CaseSeries) Newest() time.Time {
	return s.dates[0]
}

// Oldest returns the earliest observation date.
func (s *CaseSeries) Oldest() time.Time {
	return s.dates[len(s.dates)-1]
}

// Dates returns the observation dates, newest first.
func (s *CaseSeries) Dates() []time.Time {
	return s.dates
}

// Cases returns the observed case counts, newest first.
func (s *CaseSeries) Cases() []float64 {
	return s.cases
}

// =============================================================================
// CSV Parsing
// =============================================================================

// ParseCaseSeries parses case-count CSV into a CaseSeries.
// This is a pure function - no I/O, no side effects.
//
// The CSV needs a header row with Date and Cases columns. Dates may carry a
// year ("25-Jan-2020", "2020-01-25") or omit it ("25-Jan"), in which case
// DefaultYear is assumed. Rows must be ordered newest first.
func ParseCaseSeries(csvContent string) (*CaseSeries, error) {
	if strings.TrimSpace(csvContent) == "" {
		return nil, ErrEmptyCSV
	}

	reader := csv.NewReader(strings.NewReader(csvContent))
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, NewParseError(0, "invalid CSV syntax", ErrInvalidCSV)
	}
	if len(records) < 2 {
		return nil, ErrNoData
	}

	dateCol, casesCol := -1, -1
	for i, h := range records[0] {
		switch strings.TrimSpace(h) {
		case "Date":
			dateCol = i
		case "Cases":
			casesCol = i
		}
	}
	if dateCol < 0 || casesCol < 0 {
		return nil, ErrMissingColumns
	}

	dates := make([]time.Time, 0, len(records)-1)
	cases := make([]float64, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := i + 2 // 1-based, after header

		date, err := parseDate(strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, NewParseError(row, "invalid date: "+rec[dateCol], err)
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(rec[casesCol]), 64)
		if err != nil {
			return nil, NewParseError(row, "invalid case count: "+rec[casesCol], err)
		}

		dates = append(dates, date)
		cases = append(cases, value)
	}

	return NewCaseSeries(dates, cases)
}

// parseDate parses a single CSV date cell.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2-Jan-2006", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2-Jan", s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(DefaultYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// =============================================================================
// Derived Series
// =============================================================================

// Point is one dated value in a derived series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a derived time series, newest first.
type Series []Point

// Values returns just the values, newest first.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}
