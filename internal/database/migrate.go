package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// Migrate creates or updates the trade tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Trade{}, &models.ReplicationFailure{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
