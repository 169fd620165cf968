package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TierEnterprise marks accounts exempt from request rate limiting.
const TierEnterprise = "ENTERPRISE"

// Account represents a billing account owning one or more API keys.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique contact email.

	Tier string `gorm:"type:text;not null;default:''"` // Account tier; "ENTERPRISE" is a sentinel.

	BudgetLimit *decimal.Decimal `gorm:"type:decimal(20,10)"`                    // Hard spend ceiling; nil = unlimited.
	BudgetUsed  decimal.Decimal  `gorm:"type:decimal(20,10);not null;default:0"` // Lifetime settled spend; never decreases.
	Credits     decimal.Decimal  `gorm:"type:decimal(30,10);not null;default:0"` // Remaining credit units.

	RateLimitRPM *int `gorm:"type:bigint"` // Requests-per-minute override.
	RateLimitTPM *int `gorm:"type:bigint"` // Tokens-per-minute override.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// OverBudget reports whether settled spend has reached the account ceiling.
func (a *Account) OverBudget() bool {
	if a == nil || a.BudgetLimit == nil {
		return false
	}
	return a.BudgetUsed.GreaterThanOrEqual(*a.BudgetLimit)
}
