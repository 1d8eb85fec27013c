package stats

import (
	"math"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

// Summary is the headline figures of a (filtered) analysis table
type Summary struct {
	TotalCases                   int     `json:"total_cases"`
	RepresentationRate           float64 `json:"representation_rate"`
	SuccessWithRepresentation    float64 `json:"success_with_representation"`
	SuccessWithoutRepresentation float64 `json:"success_without_representation"`
	YearsOfData                  int     `json:"years_of_data"`
}

// Summarize computes the headline figures. Years of data counts the distinct
// years of each row's latest hearing, or its combined date when that is missing.
func Summarize(rows []database.AnalysisRow) Summary {
	s := Summary{TotalCases: len(rows)}
	if len(rows) == 0 {
		return s
	}

	ct := RepresentationOutcome(rows)
	s.SuccessWithRepresentation = Round(ct.Share(database.RepHas, database.OutcomeFavorable), 1)
	s.SuccessWithoutRepresentation = Round(ct.Share(database.RepNone, database.OutcomeFavorable), 1)

	represented := 0
	years := map[int]bool{}
	for _, r := range rows {
		if r.HasLegalRep == database.RepHas {
			represented++
		}
		switch {
		case r.LatestHearing != nil:
			years[r.LatestHearing.Year()] = true
		case r.CombinedDate != nil:
			years[r.CombinedDate.Year()] = true
		}
	}
	s.RepresentationRate = Percent(represented, len(rows))
	s.YearsOfData = len(years)

	return s
}

// BasicStats feeds the data page cards
type BasicStats struct {
	SuccessWithRepresentation    float64 `json:"success_with_representation"`
	SuccessWithoutRepresentation float64 `json:"success_without_representation"`
	BarriersPercentage           float64 `json:"barriers_percentage"`
	TotalCasesAnalyzed           int     `json:"total_cases_analyzed"`
	RepresentationRate           float64 `json:"representation_rate"`
}

// emptyBarriers is reported when there is nothing to analyse
const emptyBarriers = 75

// Basic computes the data page figures. The barriers percentage is the
// unrepresented share, floored at 70.
func Basic(rows []database.AnalysisRow) BasicStats {
	if len(rows) == 0 {
		return BasicStats{BarriersPercentage: emptyBarriers}
	}

	s := Summarize(rows)

	represented := 0
	for _, r := range rows {
		if r.HasLegalRep == database.RepHas {
			represented++
		}
	}
	rate := float64(represented) * 100 / float64(len(rows))

	return BasicStats{
		SuccessWithRepresentation:    s.SuccessWithRepresentation,
		SuccessWithoutRepresentation: s.SuccessWithoutRepresentation,
		BarriersPercentage:           Round(math.Max(70, 100-rate), 0),
		TotalCasesAnalyzed:           len(rows),
		RepresentationRate:           s.RepresentationRate,
	}
}
