package db

import (
	"fmt"

	"github.com/modelrelay/modelrelay/internal/models"

	"gorm.io/gorm"
)

// Migrate runs automigrations for all gateway tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Account{},
		&models.APIKey{},
		&models.Model{},
		&models.Deployment{},
		&models.ModelAlias{},
	)
}
