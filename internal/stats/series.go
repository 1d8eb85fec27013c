package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

// Bucket is the width of a series period
type Bucket string

const (
	Quarter Bucket = "quarter"
	Month   Bucket = "month"
)

// ParseBucket reads a bucket name, defaulting to Quarter
func ParseBucket(s string) Bucket {
	if Bucket(s) == Month {
		return Month
	}
	return Quarter
}

// Window bounds a series to [Start, End]. A zero side is open.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Marker is a dated annotation on a series
type Marker struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
}

// AdministrationChanges are drawn over the representation series
var AdministrationChanges = []Marker{
	{Date: time.Date(2017, 1, 20, 0, 0, 0, 0, time.UTC), Label: "Trump Administration"},
	{Date: time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC), Label: "Biden Administration"},
	{Date: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), Label: "Trump Administration II"},
}

type SeriesPoint struct {
	Period      string    `json:"period"`
	Date        time.Time `json:"date"`
	Total       int       `json:"total_cases"`
	Represented int       `json:"represented_cases"`
	Rate        float64   `json:"representation_rate"`
}

type Series struct {
	Bucket  Bucket        `json:"bucket"`
	Points  []SeriesPoint `json:"points"`
	Markers []Marker      `json:"markers"`
}

// RepresentationSeries buckets rows by their combined date and reports the
// represented share of each bucket as a fraction. Rows without a date or
// outside the window are dropped; empty buckets are absent.
func RepresentationSeries(rows []database.AnalysisRow, bucket Bucket, window Window) Series {
	type acc struct {
		start       time.Time
		total       int
		represented int
	}
	buckets := map[string]*acc{}

	for _, r := range rows {
		if r.CombinedDate == nil || !window.contains(*r.CombinedDate) {
			continue
		}
		key, start := bucketOf(*r.CombinedDate, bucket)
		a := buckets[key]
		if a == nil {
			a = &acc{start: start}
			buckets[key] = a
		}
		a.total++
		if r.HasLegalRep == database.RepHas {
			a.represented++
		}
	}

	s := Series{
		Bucket:  bucket,
		Points:  make([]SeriesPoint, 0, len(buckets)),
		Markers: append([]Marker{}, AdministrationChanges...),
	}
	for key, a := range buckets {
		s.Points = append(s.Points, SeriesPoint{
			Period:      key,
			Date:        a.start,
			Total:       a.total,
			Represented: a.represented,
			Rate:        Round(float64(a.represented)/float64(a.total), 4),
		})
	}
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Date.Before(s.Points[j].Date) })

	return s
}

func bucketOf(t time.Time, bucket Bucket) (string, time.Time) {
	t = t.UTC()
	if bucket == Month {
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01"), start
	}
	q := (int(t.Month())-1)/3 + 1
	start := time.Date(t.Year(), time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return fmt.Sprintf("%dQ%d", t.Year(), q), start
}

// PeriodCount is the number of records in one month
type PeriodCount struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// MonthlyCounts counts dates per calendar month and keeps the last n months
// that have data, oldest first. n <= 0 keeps every month.
func MonthlyCounts(dates []*time.Time, n int) []PeriodCount {
	counts := map[string]int{}
	for _, d := range dates {
		if d == nil {
			continue
		}
		key, _ := bucketOf(*d, Month)
		counts[key]++
	}

	out := make([]PeriodCount, 0, len(counts))
	for period, c := range counts {
		out = append(out, PeriodCount{Period: period, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })

	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
