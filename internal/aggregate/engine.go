// Package aggregate derives the dashboard views from stored readings: the
// day selector options, the per-day maximum gauge and the month by day
// heatmap. Every function here is pure and total: missing data yields zero
// values or empty slices, never an error.
package aggregate

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/noise.report/internal/db"
)

// DayOption is one entry of the day selector.
type DayOption struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// DayOptions returns one option per distinct day of month present in
// readings, in order of first appearance.
func DayOptions(readings []db.Reading) []DayOption {
	seen := make(map[int]bool)
	out := []DayOption{}
	for _, r := range readings {
		if seen[r.Day] {
			continue
		}
		seen[r.Day] = true
		out = append(out, DayOption{Label: DayLabel(r.Day), Value: r.Day})
	}
	return out
}

func DayLabel(day int) string     { return fmt.Sprintf("Day %d", day) }
func MonthLabel(month int) string { return fmt.Sprintf("Month %d", month) }

// ReconcileSelection keeps current if it is still among options and clears
// it otherwise.
func ReconcileSelection(options []DayOption, current *int) *int {
	if current == nil {
		return nil
	}
	for _, o := range options {
		if o.Value == *current {
			day := *current
			return &day
		}
	}
	return nil
}

// GaugeValue returns the loudest level recorded on selectedDay, or 0 when
// nothing matches or no day is selected.
func GaugeValue(readings []db.Reading, selectedDay *int) float64 {
	if selectedDay == nil {
		return 0
	}
	found := false
	max := 0.0
	for _, r := range readings {
		if r.Day != *selectedDay {
			continue
		}
		if !found || r.DBLevel > max {
			max = r.DBLevel
			found = true
		}
	}
	return max
}

// Heatmap is a month by day grid of maximum levels. Rows follow Months and
// columns follow Days, both ascending.
type Heatmap struct {
	Matrix      [][]float64 `json:"matrix"`
	Months      []int       `json:"months"`
	Days        []int       `json:"days"`
	MonthLabels []string    `json:"month_labels"`
	DayLabels   []string    `json:"day_labels"`
}

// Empty reports whether no reading qualified.
func (h Heatmap) Empty() bool {
	return len(h.Months) == 0
}

type monthDay struct {
	month, day int
}

// HeatmapMatrix keeps readings at or above minDb, takes the maximum per
// (month, day) and lays the result out on axes built from the filtered set
// alone. A cell whose day qualified only in other months holds 0. A NaN
// minDb admits nothing.
func HeatmapMatrix(readings []db.Reading, minDb float64) Heatmap {
	maxima := make(map[monthDay]float64)
	months := make(map[int]bool)
	days := make(map[int]bool)
	for _, r := range readings {
		if !(r.DBLevel >= minDb) {
			continue
		}
		k := monthDay{r.Month, r.Day}
		if cur, ok := maxima[k]; !ok || r.DBLevel > cur {
			maxima[k] = r.DBLevel
		}
		months[r.Month] = true
		days[r.Day] = true
	}

	h := Heatmap{
		Matrix:      [][]float64{},
		Months:      sortedKeys(months),
		Days:        sortedKeys(days),
		MonthLabels: []string{},
		DayLabels:   []string{},
	}
	for _, m := range h.Months {
		h.MonthLabels = append(h.MonthLabels, MonthLabel(m))
		row := make([]float64, len(h.Days))
		for j, d := range h.Days {
			row[j] = maxima[monthDay{m, d}]
		}
		h.Matrix = append(h.Matrix, row)
	}
	for _, d := range h.Days {
		h.DayLabels = append(h.DayLabels, DayLabel(d))
	}
	return h
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// DaySummary describes the readings recorded on one day of month.
type DaySummary struct {
	Day   int     `json:"day"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	P95   float64 `json:"p95"`
}

// SummariseDay computes count, mean, max and 95th percentile of the levels
// recorded on day. An absent day yields a zero summary.
func SummariseDay(readings []db.Reading, day int) DaySummary {
	var levels []float64
	for _, r := range readings {
		if r.Day == day {
			levels = append(levels, r.DBLevel)
		}
	}
	s := DaySummary{Day: day, Count: len(levels)}
	if len(levels) == 0 {
		return s
	}
	slices.Sort(levels)
	s.Mean = round1(stat.Mean(levels, nil))
	s.Max = levels[len(levels)-1]
	s.P95 = stat.Quantile(0.95, stat.Empirical, levels, nil)
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
