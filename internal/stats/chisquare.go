package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

// DefaultSignificance is the p-value threshold used when none is configured
const DefaultSignificance = 0.05

// ChiSquareResult is the outcome of a chi-square independence test
type ChiSquareResult struct {
	ChiSquare        float64 `json:"chi_square"`
	PValue           float64 `json:"p_value"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
	CramerV          float64 `json:"cramer_v"`
	Significant      bool    `json:"significant"`
}

// Degenerate is returned for tables no test can be run on
var Degenerate = ChiSquareResult{ChiSquare: 0, PValue: 1, DegreesOfFreedom: 0, CramerV: 0, Significant: false}

// ChiSquare runs Pearson's test of independence on a contingency table. With
// one degree of freedom the Yates continuity correction is applied. Empty
// tables, a zero total, a single row or column, or a zero expected frequency
// give the Degenerate result.
func ChiSquare(table [][]float64, alpha float64) ChiSquareResult {
	if alpha <= 0 {
		alpha = DefaultSignificance
	}

	rows := len(table)
	if rows < 2 {
		return Degenerate
	}
	cols := len(table[0])
	if cols < 2 {
		return Degenerate
	}

	rowSums := make([]float64, rows)
	colSums := make([]float64, cols)
	total := 0.0
	for i, r := range table {
		if len(r) != cols {
			return Degenerate
		}
		for j, v := range r {
			rowSums[i] += v
			colSums[j] += v
			total += v
		}
	}
	if total <= 0 {
		return Degenerate
	}

	dof := (rows - 1) * (cols - 1)

	chi2 := 0.0
	for i := range table {
		for j, observed := range table[i] {
			expected := rowSums[i] * colSums[j] / total
			if expected == 0 {
				return Degenerate
			}
			if dof == 1 {
				diff := expected - observed
				observed += math.Copysign(math.Min(0.5, math.Abs(diff)), diff)
			}
			d := observed - expected
			chi2 += d * d / expected
		}
	}

	p := distuv.ChiSquared{K: float64(dof)}.Survival(chi2)

	k := math.Min(float64(rows), float64(cols)) - 1
	cramer := math.Sqrt(chi2 / (total * k))

	return ChiSquareResult{
		ChiSquare:        Round(chi2, 2),
		PValue:           p,
		DegreesOfFreedom: dof,
		CramerV:          Round(cramer, 3),
		Significant:      p < alpha,
	}
}

// OddsRatio is (a*d)/(b*c) over the representation x outcome table, where a
// is represented-favorable, b represented-unfavorable, c unrepresented-
// favorable and d unrepresented-unfavorable. A zero denominator gives 0.
func OddsRatio(ct Crosstab) float64 {
	a := float64(ct.Count(database.RepHas, database.OutcomeFavorable))
	b := float64(ct.Count(database.RepHas, database.OutcomeUnfavorable))
	c := float64(ct.Count(database.RepNone, database.OutcomeFavorable))
	d := float64(ct.Count(database.RepNone, database.OutcomeUnfavorable))

	if b == 0 || c == 0 {
		return 0
	}
	return Round(a*d/(b*c), 2)
}

// RatePair holds the favorable and unfavorable shares of one status
type RatePair struct {
	Favorable   float64 `json:"favorable"`
	Unfavorable float64 `json:"unfavorable"`
}

type OutcomePercentages struct {
	Data                  map[string]map[string]float64 `json:"data"`
	WithRepresentation    RatePair                      `json:"with_representation"`
	WithoutRepresentation RatePair                      `json:"without_representation"`
}

type EraTest struct {
	ChiSquareResult
	ContingencyTable map[string]map[string]int `json:"contingency_table"`
}

type OutcomeTest struct {
	ChiSquareResult
	OddsRatio        float64                   `json:"odds_ratio"`
	ContingencyTable map[string]map[string]int `json:"contingency_table"`
	Percentages      OutcomePercentages        `json:"percentages"`
}

// ChiSquareReport bundles the era and outcome tests
type ChiSquareReport struct {
	Message                  string      `json:"message,omitempty"`
	RepresentationByEra      EraTest     `json:"representation_by_era"`
	OutcomesByRepresentation OutcomeTest `json:"outcomes_by_representation"`
}

// ChiSquareAnalysis tests representation against policy era and against outcome
func ChiSquareAnalysis(rows []database.AnalysisRow, alpha float64) ChiSquareReport {
	report := ChiSquareReport{
		RepresentationByEra: EraTest{
			ChiSquareResult:  Degenerate,
			ContingencyTable: map[string]map[string]int{},
		},
		OutcomesByRepresentation: OutcomeTest{
			ChiSquareResult:  Degenerate,
			ContingencyTable: map[string]map[string]int{},
			Percentages: OutcomePercentages{
				Data: map[string]map[string]float64{},
			},
		},
	}
	if len(rows) == 0 {
		report.Message = "No analysis data available"
		return report
	}

	era := EraRepresentation(rows)
	report.RepresentationByEra = EraTest{
		ChiSquareResult:  ChiSquare(era.Matrix(), alpha),
		ContingencyTable: era.Counts,
	}

	outcome := RepresentationOutcome(rows)
	report.OutcomesByRepresentation = OutcomeTest{
		ChiSquareResult:  ChiSquare(outcome.Matrix(), alpha),
		OddsRatio:        OddsRatio(outcome),
		ContingencyTable: outcome.Counts,
		Percentages: OutcomePercentages{
			Data:                  outcome.Percentages,
			WithRepresentation:    ratePair(outcome, database.RepHas),
			WithoutRepresentation: ratePair(outcome, database.RepNone),
		},
	}

	return report
}

func ratePair(ct Crosstab, rep string) RatePair {
	return RatePair{
		Favorable:   Round(ct.Share(rep, database.OutcomeFavorable), 1),
		Unfavorable: Round(ct.Share(rep, database.OutcomeUnfavorable), 1),
	}
}
