package stats

import (
	"sort"
	"time"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

const (
	topNationalities = 10
	trendMonths      = 12
)

// CategoryCount is one value of a categorical column and its frequency
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Demographics struct {
	ByGender   []CategoryCount `json:"by_gender"`
	ByCustody  []CategoryCount `json:"by_custody"`
	ByCaseType []CategoryCount `json:"by_case_type"`
}

type Trends struct {
	MonthlyCases []PeriodCount `json:"monthly_cases"`
}

// Overview describes the raw case population
type Overview struct {
	TotalCases              int             `json:"total_cases"`
	AverageAge              *float64        `json:"average_age"`
	RepresentationRate      float64         `json:"representation_rate"`
	TopNationalities        []CategoryCount `json:"top_nationalities"`
	Demographics            Demographics    `json:"demographic_breakdown"`
	RepresentationBreakdown []CategoryCount `json:"representation_breakdown"`
	LanguageBreakdown       []CategoryCount `json:"language_breakdown"`
	Trends                  Trends          `json:"trends"`
}

// BuildOverview summarises the case and assignment tables. A case counts as
// represented when any of its assignments carries a representation level.
// Ages are measured at now.
func BuildOverview(cases []database.CaseRecord, reps []database.RepAssignment, now time.Time) Overview {
	ov := Overview{
		TotalCases:              len(cases),
		TopNationalities:        []CategoryCount{},
		RepresentationBreakdown: []CategoryCount{},
		LanguageBreakdown:       []CategoryCount{},
		Demographics: Demographics{
			ByGender:   []CategoryCount{},
			ByCustody:  []CategoryCount{},
			ByCaseType: []CategoryCount{},
		},
		Trends: Trends{MonthlyCases: []PeriodCount{}},
	}
	if len(cases) == 0 {
		return ov
	}

	nat := map[string]int{}
	lang := map[string]int{}
	custody := map[string]int{}
	caseType := map[string]int{}
	gender := map[string]int{}
	known := make(map[int64]bool, len(cases))

	hearings := make([]*time.Time, 0, len(cases))
	ageSum, ageN := 0.0, 0

	for _, c := range cases {
		countValue(nat, c.Nationality)
		countValue(lang, c.Language)
		countValue(custody, c.Custody)
		countValue(caseType, c.CaseType)
		countValue(gender, c.Sex)
		known[c.CaseID] = true
		hearings = append(hearings, c.LatestHearing)

		if c.BirthDate != nil {
			ageSum += now.Sub(*c.BirthDate).Hours() / 24 / 365.25
			ageN++
		}
	}

	represented := map[int64]bool{}
	attorneyTypes := map[string]int{}
	for _, r := range reps {
		if !known[r.CaseID] {
			continue
		}
		if r.Level != "" {
			represented[r.CaseID] = true
		}
		countValue(attorneyTypes, r.Type)
	}

	if ageN > 0 {
		avg := Round(ageSum/float64(ageN), 1)
		ov.AverageAge = &avg
	}

	ov.RepresentationRate = Percent(len(represented), len(cases))
	ov.TopNationalities = topN(nat, topNationalities)
	ov.LanguageBreakdown = topN(lang, 0)
	ov.Demographics = Demographics{
		ByGender:   topN(gender, 0),
		ByCustody:  topN(custody, 0),
		ByCaseType: topN(caseType, 0),
	}
	ov.RepresentationBreakdown = topN(attorneyTypes, 0)
	ov.Trends.MonthlyCases = MonthlyCounts(hearings, trendMonths)

	return ov
}

// FilteredOverview is the findings page summary for a filtered table
type FilteredOverview struct {
	Summary
	Trends Trends `json:"trends"`
}

// BuildFilteredOverview summarises filtered analysis rows with a monthly
// trend of their combined dates
func BuildFilteredOverview(rows []database.AnalysisRow) FilteredOverview {
	dates := make([]*time.Time, 0, len(rows))
	for _, r := range rows {
		dates = append(dates, r.CombinedDate)
	}
	return FilteredOverview{
		Summary: Summarize(rows),
		Trends:  Trends{MonthlyCases: MonthlyCounts(dates, trendMonths)},
	}
}

// NationalityStats is one country's share of the analysis table
type NationalityStats struct {
	Nationality        string  `json:"nationality"`
	TotalCases         int     `json:"total_cases"`
	Represented        int     `json:"represented_cases"`
	Favorable          int     `json:"favorable_cases"`
	RepresentationRate float64 `json:"representation_rate"`
	FavorableRate      float64 `json:"favorable_rate"`
}

// Nationalities ranks nationalities by case volume and keeps the top n.
// n <= 0 keeps all. Rows without a nationality are skipped.
func Nationalities(rows []database.AnalysisRow, n int) []NationalityStats {
	byNat := map[string]*NationalityStats{}
	for _, r := range rows {
		if r.Nationality == "" {
			continue
		}
		s := byNat[r.Nationality]
		if s == nil {
			s = &NationalityStats{Nationality: r.Nationality}
			byNat[r.Nationality] = s
		}
		s.TotalCases++
		if r.HasLegalRep == database.RepHas {
			s.Represented++
		}
		if r.BinaryOutcome == database.OutcomeFavorable {
			s.Favorable++
		}
	}

	out := make([]NationalityStats, 0, len(byNat))
	for _, s := range byNat {
		s.RepresentationRate = Percent(s.Represented, s.TotalCases)
		s.FavorableRate = Percent(s.Favorable, s.TotalCases)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCases != out[j].TotalCases {
			return out[i].TotalCases > out[j].TotalCases
		}
		return out[i].Nationality < out[j].Nationality
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func countValue(m map[string]int, v string) {
	if v != "" {
		m[v]++
	}
}

// topN sorts counts descending, ties by name, keeping n (all when n <= 0)
func topN(m map[string]int, n int) []CategoryCount {
	out := make([]CategoryCount, 0, len(m))
	for name, c := range m {
		out = append(out, CategoryCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
