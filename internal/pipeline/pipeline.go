package pipeline

import (
	"fmt"
	"time"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

// MergedCase is one (case, proceeding, assignment) row of the left join chain
// with its derived fields
type MergedCase struct {
	CaseID              int64
	Nationality         string
	Language            string
	CaseType            string
	Custody             string
	Sex                 string
	BirthDate           *time.Time
	LatestHearing       *time.Time
	CompletionDate      *time.Time
	DecisionCode        string
	DecisionDescription string
	RepresentationLevel string
	CombinedDate        *time.Time
	AgeAtEvent          *float64
	PolicyEra           string
	HasLegalRep         string
	BinaryOutcome       string
	CaseOutcome         string
}

// MergeError wraps a failure recovered while merging
type MergeError struct {
	Cause interface{}
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed: %v", e.Cause)
}

// Builder turns raw tables into the merged and analysis tables
type Builder struct {
	logger *logger.Logger
	now    func() time.Time
}

func NewBuilder(log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{logger: log, now: time.Now}
}

// WithClock fixes the reference time used to bound the current era
func (b *Builder) WithClock(now func() time.Time) *Builder {
	return &Builder{logger: b.logger, now: now}
}

// Build merges the raw tables. A failure never reaches the caller: it is
// logged and both tables come back empty (non-nil).
func (b *Builder) Build(raw *database.RawTables) (merged []MergedCase, analysis []database.AnalysisRow) {
	defer func() {
		if r := recover(); r != nil {
			err := &MergeError{Cause: r}
			b.logger.Error("Serving empty analysis table", "error", err)
			merged = []MergedCase{}
			analysis = []database.AnalysisRow{}
		}
	}()

	if raw == nil {
		panic("raw tables are nil")
	}

	merged = b.merge(raw)
	analysis = Analysis(merged)

	b.logger.Info("Analysis data processed",
		"merged_rows", len(merged),
		"analysis_rows", len(analysis),
	)
	b.logSummary(merged)

	return merged, analysis
}

func (b *Builder) merge(raw *database.RawTables) []MergedCase {
	now := b.now()

	descriptions := make(map[string]string, len(raw.Decisions))
	for _, d := range raw.Decisions {
		if _, seen := descriptions[d.Code]; !seen {
			descriptions[d.Code] = d.Description
		}
	}

	proceedings := make(map[int64][]database.ProceedingRecord)
	for _, p := range raw.Proceedings {
		proceedings[p.CaseID] = append(proceedings[p.CaseID], p)
	}

	levels := make(map[int64][]string)
	for _, r := range raw.Reps {
		levels[r.CaseID] = append(levels[r.CaseID], r.Level)
	}

	merged := make([]MergedCase, 0, len(raw.Cases))
	for _, c := range raw.Cases {
		procs := proceedings[c.CaseID]
		if len(procs) == 0 {
			// Keep the case with empty proceeding fields.
			procs = []database.ProceedingRecord{{CaseID: c.CaseID}}
		}

		reps := levels[c.CaseID]
		if len(reps) == 0 {
			reps = []string{""}
		}

		for _, p := range procs {
			for _, level := range reps {
				if level == "" {
					level = database.NoRepresentationLevel
				}
				merged = append(merged, derive(c, p, level, descriptions, now))
			}
		}
	}

	return merged
}

func derive(c database.CaseRecord, p database.ProceedingRecord, level string, descriptions map[string]string, now time.Time) MergedCase {
	combined := p.CompletionDate
	if combined == nil {
		combined = c.LatestHearing
	}

	description := ""
	if p.DecisionCode != "" {
		description = descriptions[p.DecisionCode]
	}

	return MergedCase{
		CaseID:              c.CaseID,
		Nationality:         c.Nationality,
		Language:            c.Language,
		CaseType:            c.CaseType,
		Custody:             c.Custody,
		Sex:                 c.Sex,
		BirthDate:           c.BirthDate,
		LatestHearing:       c.LatestHearing,
		CompletionDate:      p.CompletionDate,
		DecisionCode:        p.DecisionCode,
		DecisionDescription: description,
		RepresentationLevel: level,
		CombinedDate:        combined,
		AgeAtEvent:          AgeAt(c.BirthDate, combined),
		PolicyEra:           PolicyEra(combined, now),
		HasLegalRep:         RepresentationLabel(level),
		BinaryOutcome:       ClassifyOutcome(p.DecisionCode),
		CaseOutcome:         description,
	}
}

// Analysis keeps the rows with a known representation status and a
// Favorable/Unfavorable outcome
func Analysis(merged []MergedCase) []database.AnalysisRow {
	rows := make([]database.AnalysisRow, 0, len(merged))
	for _, m := range merged {
		if m.HasLegalRep == database.RepUnknown {
			continue
		}
		if m.BinaryOutcome == database.OutcomeUnknown || m.BinaryOutcome == database.OutcomeOther {
			continue
		}
		rows = append(rows, database.AnalysisRow{
			CaseID:              m.CaseID,
			CombinedDate:        m.CombinedDate,
			CompletionDate:      m.CompletionDate,
			LatestHearing:       m.LatestHearing,
			BirthDate:           m.BirthDate,
			Sex:                 m.Sex,
			Nationality:         m.Nationality,
			Language:            m.Language,
			CaseType:            m.CaseType,
			Custody:             m.Custody,
			AgeAtEvent:          m.AgeAtEvent,
			PolicyEra:           m.PolicyEra,
			HasLegalRep:         m.HasLegalRep,
			RepresentationLevel: m.RepresentationLevel,
			DecisionCode:        m.DecisionCode,
			CaseOutcome:         m.CaseOutcome,
			BinaryOutcome:       m.BinaryOutcome,
		})
	}
	return rows
}

func (b *Builder) logSummary(merged []MergedCase) {
	eras := map[string]int{}
	reps := map[string]int{}
	withAge := 0
	for _, m := range merged {
		eras[m.PolicyEra]++
		reps[m.HasLegalRep]++
		if m.AgeAtEvent != nil {
			withAge++
		}
	}
	b.logger.Debug("Merged dataset summary",
		"rows_with_age", withAge,
		"policy_eras", eras,
		"representation", reps,
	)
}
