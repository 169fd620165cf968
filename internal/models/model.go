package models

import (
	"time"

	"gorm.io/datatypes"
)

// Model represents a logical model identifier served by the gateway.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID     string `gorm:"type:text;not null;uniqueIndex"` // Canonical model identifier string.
	Name        string `gorm:"type:text;not null"`             // Display name.
	Description string `gorm:"type:text"`                      // Human-readable description.

	Specs datatypes.JSON `gorm:"type:jsonb"` // Capability metadata (context window, modalities, ...).

	Active bool `gorm:"not null;default:true"` // Whether the model is served.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
