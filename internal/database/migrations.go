package database

import (
	"fmt"

	"gorm.io/gorm"
)

// RunMigrations executes all database migrations
func RunMigrations(db *gorm.DB) error {
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes creates database indexes
func createIndexes(db *gorm.DB) error {
	// Index for era and representation breakdowns
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_rows_breakdown
		ON analysis_rows(policy_era, has_legal_rep, binary_outcome)
	`).Error; err != nil {
		return err
	}

	// Index for time bucketing
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_rows_date
		ON analysis_rows(hearing_date_combined)
	`).Error; err != nil {
		return err
	}

	// Index for load history
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_load_runs_started
		ON load_runs(started_at)
	`).Error; err != nil {
		return err
	}

	return nil
}
