package spend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UpdateAccountBudgets applies aggregated costs to account budget counters
// in a single multi-row UPDATE: budget_used grows by the cost and credits
// shrink by cost times the credit multiplier.
func UpdateAccountBudgets(ctx context.Context, db *gorm.DB, sums map[uint64]decimal.Decimal, creditsPerCostUnit decimal.Decimal) error {
	if len(sums) == 0 {
		return nil
	}
	ids := sortedIDs(sums)

	var usedCase, creditsCase strings.Builder
	args := make([]any, 0, len(ids)*4+1)

	usedCase.WriteString("CASE id")
	for _, id := range ids {
		usedCase.WriteString(" WHEN ? THEN ?")
		args = append(args, id, sums[id])
	}
	usedCase.WriteString(" ELSE 0 END")

	creditsCase.WriteString("CASE id")
	for _, id := range ids {
		creditsCase.WriteString(" WHEN ? THEN ?")
		args = append(args, id, sums[id].Mul(creditsPerCostUnit))
	}
	creditsCase.WriteString(" ELSE 0 END")

	query := fmt.Sprintf(
		"UPDATE accounts SET budget_used = budget_used + %s, credits = credits - %s, updated_at = ? WHERE id IN ?",
		usedCase.String(), creditsCase.String(),
	)
	args = append(args, time.Now().UTC(), ids)

	if errExec := db.WithContext(ctx).Exec(query, args...).Error; errExec != nil {
		return fmt.Errorf("spend: update account budgets: %w", errExec)
	}
	return nil
}

// UpdateKeyBudgets applies aggregated costs to per-key budget counters in a
// single multi-row UPDATE.
func UpdateKeyBudgets(ctx context.Context, db *gorm.DB, sums map[uint64]decimal.Decimal) error {
	if len(sums) == 0 {
		return nil
	}
	ids := sortedIDs(sums)

	var usedCase strings.Builder
	args := make([]any, 0, len(ids)*2+1)

	usedCase.WriteString("CASE id")
	for _, id := range ids {
		usedCase.WriteString(" WHEN ? THEN ?")
		args = append(args, id, sums[id])
	}
	usedCase.WriteString(" ELSE 0 END")

	query := fmt.Sprintf(
		"UPDATE api_keys SET budget_used = budget_used + %s, updated_at = ? WHERE id IN ?",
		usedCase.String(),
	)
	args = append(args, time.Now().UTC(), ids)

	if errExec := db.WithContext(ctx).Exec(query, args...).Error; errExec != nil {
		return fmt.Errorf("spend: update key budgets: %w", errExec)
	}
	return nil
}

func sortedIDs(sums map[uint64]decimal.Decimal) []uint64 {
	ids := make([]uint64, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
