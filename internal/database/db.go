package database

import (
	"os"
	"path/filepath"

	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize creates and returns a database connection
func Initialize(dbPath string) (*gorm.DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	// Open SQLite database
	db, err := gorm.Open(sqlite.Open(dbPath), gormConfig)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return db, nil
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Classification{},
		&models.JobRecord{},
		&models.ReviewEntry{},
		&models.SyncRun{},
		&models.TrainingSample{},
		&models.PipelineSettings{},
		&models.Log{},
	); err != nil {
		return err
	}

	// A run left in "running" by a crash can never finish; mark it failed so
	// the single-flight check and the history endpoint stay truthful.
	db.Model(&models.SyncRun{}).
		Where("status = ?", models.SyncRunRunning).
		Updates(map[string]interface{}{"status": models.SyncRunError, "error": "interrupted by restart"})

	return nil
}
