package models

import "time"

// ModelAlias maps an alternative model string onto a canonical model.
type ModelAlias struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID uint64 `gorm:"not null;index"` // Canonical model ID (models.id).

	Alias string `gorm:"type:text;not null;uniqueIndex"` // Alias string requested by callers.

	Active bool `gorm:"not null;default:true"` // Whether the alias resolves.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
