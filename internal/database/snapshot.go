package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// batchSize keeps each INSERT well under SQLite's bound-variable limit
const batchSize = 200

// ErrEmptySnapshot is returned when the snapshot holds no usable dataset
var ErrEmptySnapshot = errors.New("snapshot is empty")

// Snapshot persists loaded tables so later processes can skip raw parsing
type Snapshot struct {
	db *gorm.DB
}

func NewSnapshot(db *gorm.DB) *Snapshot {
	return &Snapshot{db: db}
}

// SaveRaw replaces every raw table in the snapshot
func (s *Snapshot) SaveRaw(ctx context.Context, raw *RawTables) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replace(tx, &CaseRecord{}, raw.Cases); err != nil {
			return fmt.Errorf("juvenile_cases: %w", err)
		}
		if err := replace(tx, &ProceedingRecord{}, raw.Proceedings); err != nil {
			return fmt.Errorf("proceedings: %w", err)
		}
		if err := replace(tx, &RepAssignment{}, raw.Reps); err != nil {
			return fmt.Errorf("reps_assigned: %w", err)
		}
		if err := replace(tx, &DecisionCode{}, raw.Decisions); err != nil {
			return fmt.Errorf("lookup_decisions: %w", err)
		}
		if err := replace(tx, &HistoryRecord{}, raw.History); err != nil {
			return fmt.Errorf("juvenile_history: %w", err)
		}
		if err := replace(tx, &JuvenileLookup{}, raw.JuvenileLookup); err != nil {
			return fmt.Errorf("lookup_juvenile: %w", err)
		}
		return nil
	})
}

// LoadRaw reads every raw table. It fails with ErrEmptySnapshot unless the
// required tables all have rows.
func (s *Snapshot) LoadRaw(ctx context.Context) (*RawTables, error) {
	db := s.db.WithContext(ctx)
	raw := &RawTables{}

	if err := db.Order("id").Find(&raw.Cases).Error; err != nil {
		return nil, fmt.Errorf("failed to read juvenile_cases: %w", err)
	}
	if err := db.Order("id").Find(&raw.Proceedings).Error; err != nil {
		return nil, fmt.Errorf("failed to read proceedings: %w", err)
	}
	if err := db.Order("id").Find(&raw.Decisions).Error; err != nil {
		return nil, fmt.Errorf("failed to read lookup_decisions: %w", err)
	}
	if len(raw.Cases) == 0 || len(raw.Proceedings) == 0 || len(raw.Decisions) == 0 {
		return nil, ErrEmptySnapshot
	}

	if err := db.Order("id").Find(&raw.Reps).Error; err != nil {
		return nil, fmt.Errorf("failed to read reps_assigned: %w", err)
	}
	if err := db.Order("id").Find(&raw.History).Error; err != nil {
		return nil, fmt.Errorf("failed to read juvenile_history: %w", err)
	}
	if err := db.Order("id").Find(&raw.JuvenileLookup).Error; err != nil {
		return nil, fmt.Errorf("failed to read lookup_juvenile: %w", err)
	}

	return raw, nil
}

// SaveAnalysis replaces the derived analysis table
func (s *Snapshot) SaveAnalysis(ctx context.Context, rows []AnalysisRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replace(tx, &AnalysisRow{}, rows)
	})
}

// LoadAnalysis reads the derived analysis table; an empty table is not an error
func (s *Snapshot) LoadAnalysis(ctx context.Context) ([]AnalysisRow, error) {
	rows := []AnalysisRow{}
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read analysis_rows: %w", err)
	}
	return rows, nil
}

// MarkAnalysisRows stores the analysis table size on the latest successful run
func (s *Snapshot) MarkAnalysisRows(ctx context.Context, n int) error {
	db := s.db.WithContext(ctx)
	latest := db.Model(&LoadRun{}).Select("MAX(id)").Where("success = ?", true)
	return db.Model(&LoadRun{}).Where("id = (?)", latest).Update("analysis_rows", n).Error
}

// RecordRun appends a load attempt to the load history
func (s *Snapshot) RecordRun(ctx context.Context, run *LoadRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// LastRun returns the most recent load attempt, or nil when none was recorded
func (s *Snapshot) LastRun(ctx context.Context) (*LoadRun, error) {
	var run LoadRun
	err := s.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Clear drops every table's rows but keeps the load history
func (s *Snapshot) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&CaseRecord{}, &ProceedingRecord{}, &RepAssignment{}, &DecisionCode{},
			&HistoryRecord{}, &JuvenileLookup{}, &AnalysisRow{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func replace[T any](tx *gorm.DB, model *T, rows []T) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	// Insert copies so the caller's rows keep their zero primary keys.
	batch := make([]T, len(rows))
	copy(batch, rows)
	return tx.CreateInBatches(batch, batchSize).Error
}
