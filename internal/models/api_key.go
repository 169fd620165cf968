package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MetadataKeyType is the metadata field distinguishing key kinds.
const MetadataKeyType = "type"

// KeyTypeSubscription marks keys billed against a prepaid subscription quota.
const KeyTypeSubscription = "subscription"

// APIKey represents an API key issued under an account.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyName  string `gorm:"type:text;not null"` // Masked display name.
	KeyAlias string `gorm:"type:text"`          // Optional caller-facing alias.

	APIKeyHash string `gorm:"type:text;not null;uniqueIndex"` // Lowercase hex SHA-256 of the token.

	AccountID uint64   `gorm:"not null;index"`                                   // Owning account ID.
	Account   *Account `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"` // Owning account record.

	Active bool `gorm:"not null;default:true"` // Whether the key is enabled.

	BudgetLimit *decimal.Decimal `gorm:"type:decimal(20,10)"`                    // Per-key spend ceiling; nil = unlimited.
	BudgetUsed  decimal.Decimal  `gorm:"type:decimal(20,10);not null;default:0"` // Per-key settled spend.

	RateLimitRPM *int `gorm:"type:bigint"` // Requests-per-minute override.
	RateLimitTPM *int `gorm:"type:bigint"` // Tokens-per-minute override.

	Metadata datatypes.JSONMap `gorm:"type:jsonb"` // Opaque key metadata; recognized flag: type = "subscription".

	LastUsedAt *time.Time // Last successful authentication time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsSubscription reports whether the key carries the subscription metadata flag.
func (k *APIKey) IsSubscription() bool {
	if k == nil || k.Metadata == nil {
		return false
	}
	v, ok := k.Metadata[MetadataKeyType].(string)
	return ok && v == KeyTypeSubscription
}

// OverBudget reports whether per-key settled spend has reached the key ceiling.
func (k *APIKey) OverBudget() bool {
	if k == nil || k.BudgetLimit == nil {
		return false
	}
	return k.BudgetUsed.GreaterThanOrEqual(*k.BudgetLimit)
}
