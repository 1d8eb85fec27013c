// Package stats holds the pure aggregation functions behind the reports.
// Every function accepts an empty table and returns a complete zero value.
package stats

import (
	"fmt"
	"sort"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

// Crosstab is a two-way frequency table with row-normalised percentages
type Crosstab struct {
	Rows        []string                      `json:"rows"`
	Columns     []string                      `json:"columns"`
	Counts      map[string]map[string]int     `json:"counts"`
	Percentages map[string]map[string]float64 `json:"percentages"`
}

// NewCrosstab counts rows by the two keys. Labels are sorted; rows and
// columns only appear if some row carries them.
func NewCrosstab(rows []database.AnalysisRow, rowKey, colKey func(database.AnalysisRow) string) Crosstab {
	counts := map[string]map[string]int{}
	cols := map[string]bool{}

	for _, r := range rows {
		rk, ck := rowKey(r), colKey(r)
		if counts[rk] == nil {
			counts[rk] = map[string]int{}
		}
		counts[rk][ck]++
		cols[ck] = true
	}

	ct := Crosstab{
		Rows:        make([]string, 0, len(counts)),
		Columns:     make([]string, 0, len(cols)),
		Counts:      counts,
		Percentages: make(map[string]map[string]float64, len(counts)),
	}
	for rk := range counts {
		ct.Rows = append(ct.Rows, rk)
	}
	for ck := range cols {
		ct.Columns = append(ct.Columns, ck)
	}
	sort.Strings(ct.Rows)
	sort.Strings(ct.Columns)

	for _, rk := range ct.Rows {
		total := 0
		for _, n := range counts[rk] {
			total += n
		}
		ct.Percentages[rk] = make(map[string]float64, len(ct.Columns))
		for _, ck := range ct.Columns {
			ct.Percentages[rk][ck] = rowShare(counts[rk][ck], total)
		}
	}

	return ct
}

// RepresentationOutcome tabulates representation status against binary outcome
func RepresentationOutcome(rows []database.AnalysisRow) Crosstab {
	return NewCrosstab(rows,
		func(r database.AnalysisRow) string { return r.HasLegalRep },
		func(r database.AnalysisRow) string { return r.BinaryOutcome },
	)
}

// EraRepresentation tabulates policy era against representation status
func EraRepresentation(rows []database.AnalysisRow) Crosstab {
	return NewCrosstab(rows,
		func(r database.AnalysisRow) string { return r.PolicyEra },
		func(r database.AnalysisRow) string { return r.HasLegalRep },
	)
}

func (c Crosstab) Count(row, col string) int {
	return c.Counts[row][col]
}

func (c Crosstab) Percentage(row, col string) float64 {
	return c.Percentages[row][col]
}

// Share is the unrounded row-normalised percentage of a cell
func (c Crosstab) Share(row, col string) float64 {
	total := 0
	for _, n := range c.Counts[row] {
		total += n
	}
	return share(c.Counts[row][col], total)
}

func (c Crosstab) Total() int {
	total := 0
	for _, cols := range c.Counts {
		for _, n := range cols {
			total += n
		}
	}
	return total
}

// Matrix returns the counts in Rows x Columns order
func (c Crosstab) Matrix() [][]float64 {
	m := make([][]float64, len(c.Rows))
	for i, rk := range c.Rows {
		m[i] = make([]float64, len(c.Columns))
		for j, ck := range c.Columns {
			m[i][j] = float64(c.Counts[rk][ck])
		}
	}
	return m
}

func share(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

func rowShare(n, total int) float64 {
	return Round(share(n, total), 2)
}

// ChartSeries is one stacked bar series
type ChartSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
	Labels []string  `json:"labels"`
}

// BarChart is chart-ready data; rendering is left to the client
type BarChart struct {
	Title      string        `json:"title"`
	XAxis      string        `json:"x_axis"`
	YAxis      string        `json:"y_axis"`
	LogScale   bool          `json:"log_scale"`
	Categories []string      `json:"categories"`
	Series     []ChartSeries `json:"series"`
}

var outcomeOrder = []string{database.OutcomeFavorable, database.OutcomeUnfavorable}

// OutcomeChart stacks outcome counts per representation status, labelled
// with each outcome's share of its status
func OutcomeChart(ct Crosstab) BarChart {
	chart := BarChart{
		Title:      "Case Outcomes by Legal Representation Status",
		XAxis:      "Legal Representation",
		YAxis:      "Count",
		LogScale:   true,
		Categories: append([]string{}, ct.Rows...),
		Series:     []ChartSeries{},
	}
	for _, outcome := range outcomeOrder {
		s := ChartSeries{Name: outcome, Values: []float64{}, Labels: []string{}}
		for _, rk := range ct.Rows {
			s.Values = append(s.Values, float64(ct.Count(rk, outcome)))
			s.Labels = append(s.Labels, percentLabel(ct.Share(rk, outcome)))
		}
		chart.Series = append(chart.Series, s)
	}
	return chart
}

// OutcomePercentChart stacks the row-normalised percentages of every outcome
func OutcomePercentChart(ct Crosstab) BarChart {
	chart := BarChart{
		Title:      "Case Outcome Percentages by Legal Representation Status",
		XAxis:      "Legal Representation",
		YAxis:      "Percentage",
		Categories: append([]string{}, ct.Rows...),
		Series:     []ChartSeries{},
	}
	for _, outcome := range ct.Columns {
		s := ChartSeries{Name: outcome, Values: []float64{}, Labels: []string{}}
		for _, rk := range ct.Rows {
			s.Values = append(s.Values, ct.Percentage(rk, outcome))
			s.Labels = append(s.Labels, percentLabel(ct.Share(rk, outcome)))
		}
		chart.Series = append(chart.Series, s)
	}
	return chart
}

func percentLabel(p float64) string {
	return fmt.Sprintf("%.1f%%", Round(p, 1))
}
