package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/models"
)

// ConnectPostgres opens the PostgreSQL database. Driver errors are translated so that unique
// violations surface as gorm.ErrDuplicatedKey.
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the classroom tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.Activity{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
