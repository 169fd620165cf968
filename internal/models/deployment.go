package models

import (
	"time"

	"gorm.io/datatypes"
)

// Deployment represents one concrete upstream endpoint for a model.
type Deployment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID uint64 `gorm:"not null;index;uniqueIndex:idx_deployments_model_provider_name,priority:1"` // Owning model ID (models.id).

	ProviderName   string `gorm:"type:text;not null;uniqueIndex:idx_deployments_model_provider_name,priority:2"` // Upstream provider name.
	DeploymentName string `gorm:"type:text;not null;uniqueIndex:idx_deployments_model_provider_name,priority:3"` // Model name the upstream knows.

	Config datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Provider config; sensitive keys prefixed encrypted_.

	Active bool `gorm:"not null;default:true"` // Whether the deployment is selectable.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
