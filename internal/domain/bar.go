package domain

import (
	"sort"
	"time"
)

// Bar is one daily OHLCV row. Dates are timezone-naive calendar days kept at
// UTC midnight.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	AdjClose *float64  `json:"adj_close,omitempty"`
}

// BarSeries is a per-asset daily history, ascending by date, date-unique.
type BarSeries []Bar

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Closes extracts the close column.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Lows extracts the low column.
func (s BarSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// LastDate returns the most recent bar date, or the zero time for an empty
// series.
func (s BarSeries) LastDate() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Date
}

// Tail returns the trailing n bars (the whole series when shorter).
func (s BarSeries) Tail(n int) BarSeries {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Since filters to bars on or after the cutoff day.
func (s BarSeries) Since(cutoff time.Time) BarSeries {
	cutoff = Day(cutoff)
	i := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(cutoff) })
	return s[i:]
}

// Merge folds newer bars into the series, last write wins on duplicate dates,
// and returns the result sorted ascending.
func (s BarSeries) Merge(newer BarSeries) BarSeries {
	if len(newer) == 0 {
		return s
	}
	byDate := make(map[time.Time]Bar, len(s)+len(newer))
	for _, b := range s {
		b.Date = Day(b.Date)
		byDate[b.Date] = b
	}
	for _, b := range newer {
		b.Date = Day(b.Date)
		byDate[b.Date] = b
	}
	merged := make(BarSeries, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	return merged
}
