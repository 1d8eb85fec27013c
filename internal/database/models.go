package database

import (
	"time"

	"gorm.io/gorm"
)

// Representation labels derived from the raw representation level
const (
	RepHas     = "Has Legal Representation"
	RepNone    = "No Legal Representation"
	RepUnknown = "Unknown"

	// NoRepresentationLevel fills the representation level of cases that were
	// never assigned representation
	NoRepresentationLevel = "no_representation"
)

// Binary outcome labels derived from decision codes
const (
	OutcomeFavorable   = "Favorable"
	OutcomeUnfavorable = "Unfavorable"
	OutcomeOther       = "Other"
	OutcomeUnknown     = "Unknown"
)

// Policy era labels
const (
	EraTrumpI  = "Trump Era I"
	EraBiden   = "Biden Era"
	EraTrumpII = "Trump Era II"
	EraOther   = "other"
)

// CaseRecord is one row of the juvenile cases table
type CaseRecord struct {
	ID            uint       `json:"-" gorm:"primaryKey"`
	CaseID        int64      `json:"case_id" gorm:"column:idncase;index"`
	Nationality   string     `json:"nationality" gorm:"column:nat"`
	Language      string     `json:"language" gorm:"column:lang"`
	Custody       string     `json:"custody"`
	CaseType      string     `json:"case_type"`
	LatestCalType string     `json:"latest_cal_type"`
	Sex           string     `json:"sex"`
	BirthDate     *time.Time `json:"birth_date"`
	LatestHearing *time.Time `json:"latest_hearing"`
	DateOfEntry   *time.Time `json:"date_of_entry"`
	DateDetained  *time.Time `json:"date_detained"`
	DateReleased  *time.Time `json:"date_released"`
}

// ProceedingRecord is one adjudicative event of a case
type ProceedingRecord struct {
	ID             uint       `json:"-" gorm:"primaryKey"`
	ProceedingID   *int64     `json:"proceeding_id" gorm:"column:idnproceeding"`
	CaseID         int64      `json:"case_id" gorm:"column:idncase;index"`
	CompletionDate *time.Time `json:"completion_date" gorm:"column:comp_date"`
	OSCDate        *time.Time `json:"osc_date"`
	InputDate      *time.Time `json:"input_date"`
	DecisionCode   string     `json:"decision_code" gorm:"column:dec_code"`
	Absentia       string     `json:"absentia"`
	Nationality    string     `json:"nationality" gorm:"column:nat"`
	Language       string     `json:"language" gorm:"column:lang"`
	CaseType       string     `json:"case_type"`
}

// RepAssignment is one representation assignment of a case
type RepAssignment struct {
	ID            uint       `json:"-" gorm:"primaryKey"`
	RepAssignedID *int64     `json:"rep_assigned_id" gorm:"column:idnrepsassigned"`
	CaseID        int64      `json:"case_id" gorm:"column:idncase;index"`
	Level         string     `json:"level" gorm:"column:strattylevel"`
	Type          string     `json:"type" gorm:"column:strattytype"`
	E28Date       *time.Time `json:"e28_date" gorm:"column:e_28_date"`
	E27Date       *time.Time `json:"e27_date" gorm:"column:e_27_date"`
}

// DecisionCode maps a decision code to its description
type DecisionCode struct {
	ID          uint   `json:"-" gorm:"primaryKey"`
	Code        string `json:"code" gorm:"column:str_code;index"`
	Description string `json:"description" gorm:"column:str_description"`
}

// HistoryRecord is one row of the optional juvenile history table
type HistoryRecord struct {
	ID           uint   `json:"-" gorm:"primaryKey"`
	HistoryID    *int64 `json:"history_id" gorm:"column:idn_juvenile_history"`
	CaseID       *int64 `json:"case_id" gorm:"column:idncase"`
	ProceedingID *int64 `json:"proceeding_id" gorm:"column:idnproceeding"`
	JuvenileCode string `json:"juvenile_code" gorm:"column:idn_juvenile"`
}

// JuvenileLookup is one row of the optional juvenile sub-lookup
type JuvenileLookup struct {
	ID          uint   `json:"-" gorm:"primaryKey"`
	Code        string `json:"code" gorm:"column:idn_juvenile"`
	Description string `json:"description" gorm:"column:str_description"`
}

// AnalysisRow is one fully derived (case, proceeding) row with a known
// representation status and a Favorable/Unfavorable outcome
type AnalysisRow struct {
	ID                  uint       `json:"-" gorm:"primaryKey"`
	CaseID              int64      `json:"case_id" gorm:"column:idncase;index"`
	CombinedDate        *time.Time `json:"hearing_date_combined" gorm:"column:hearing_date_combined"`
	CompletionDate      *time.Time `json:"completion_date" gorm:"column:comp_date"`
	LatestHearing       *time.Time `json:"latest_hearing"`
	BirthDate           *time.Time `json:"birth_date"`
	Sex                 string     `json:"sex"`
	Nationality         string     `json:"nationality" gorm:"column:nat"`
	Language            string     `json:"language" gorm:"column:lang"`
	CaseType            string     `json:"case_type"`
	Custody             string     `json:"custody"`
	AgeAtEvent          *float64   `json:"age_at_filing" gorm:"column:age_at_filing"`
	PolicyEra           string     `json:"policy_era"`
	HasLegalRep         string     `json:"has_legal_rep"`
	RepresentationLevel string     `json:"representation_level"`
	DecisionCode        string     `json:"decision_code" gorm:"column:dec_code"`
	CaseOutcome         string     `json:"case_outcome"`
	BinaryOutcome       string     `json:"binary_outcome"`
}

// LoadRun records one attempt to load the dataset
type LoadRun struct {
	gorm.Model
	RunID        string    `json:"run_id" gorm:"index"`
	Source       string    `json:"source"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message"`
	Cases        int       `json:"cases"`
	Proceedings  int       `json:"proceedings"`
	Reps         int       `json:"reps"`
	AnalysisRows int       `json:"analysis_rows"`
	StartedAt    time.Time `json:"started_at"`
	Duration     string    `json:"duration"`
}

// RawTables holds every source table of one load
type RawTables struct {
	Cases          []CaseRecord
	Proceedings    []ProceedingRecord
	Reps           []RepAssignment
	Decisions      []DecisionCode
	History        []HistoryRecord
	JuvenileLookup []JuvenileLookup
}

// Counts returns the row count of every table keyed by its table name
func (r *RawTables) Counts() map[string]int {
	if r == nil {
		return map[string]int{}
	}
	return map[string]int{
		"juvenile_cases":   len(r.Cases),
		"proceedings":      len(r.Proceedings),
		"reps_assigned":    len(r.Reps),
		"lookup_decisions": len(r.Decisions),
		"juvenile_history": len(r.History),
		"lookup_juvenile":  len(r.JuvenileLookup),
	}
}

func (CaseRecord) TableName() string {
	return "juvenile_cases"
}

func (ProceedingRecord) TableName() string {
	return "proceedings"
}

func (RepAssignment) TableName() string {
	return "reps_assigned"
}

func (DecisionCode) TableName() string {
	return "lookup_decisions"
}

func (HistoryRecord) TableName() string {
	return "juvenile_history"
}

func (JuvenileLookup) TableName() string {
	return "lookup_juvenile"
}

func (AnalysisRow) TableName() string {
	return "analysis_rows"
}

func (LoadRun) TableName() string {
	return "load_runs"
}
