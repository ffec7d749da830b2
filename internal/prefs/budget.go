package prefs

import (
	"context"
	"maps"
	"math"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/persist"

	"go.uber.org/zap"
)

// MonthLayout is the layout of budget keys.
const MonthLayout = "2006-01"

// MonthKey returns the budget key for the month containing t.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

// ParseMonth validates a budget key.
func ParseMonth(month string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, month)
	if err != nil {
		return time.Time{}, &auth.ValidationError{Field: "month", Message: "must look like 2025-03"}
	}
	return t, nil
}

type budgetState struct {
	Budgets map[string]float64 `json:"budgets"`
}

// BudgetStore is the persisted monthly budget map.
type BudgetStore struct {
	slice *persist.Slice[budgetState]
}

// NewBudgetStore creates the store over kv. Call Hydrate before use.
func NewBudgetStore(kv persist.KV, logger *zap.Logger) (*BudgetStore, error) {
	slice, err := persist.NewSlice(kv, persist.KeyBudget, budgetState{Budgets: map[string]float64{}}, logger)
	if err != nil {
		return nil, err
	}
	return &BudgetStore{slice: slice}, nil
}

// Hydrate loads stored budgets.
func (b *BudgetStore) Hydrate(ctx context.Context) {
	b.slice.Hydrate(ctx)
}

// SetBudget sets the budget for a month key.
func (b *BudgetStore) SetBudget(month string, amount float64) error {
	if _, err := ParseMonth(month); err != nil {
		return err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return &auth.ValidationError{Field: "amount", Message: "must be a number"}
	}
	if amount < 0 {
		return &auth.ValidationError{Field: "amount", Message: "must not be negative"}
	}
	b.slice.Update(func(s budgetState) budgetState {
		next := make(map[string]float64, len(s.Budgets)+1)
		maps.Copy(next, s.Budgets)
		next[month] = amount
		return budgetState{Budgets: next}
	})
	return nil
}

// GetBudget returns the budget for a month, 0 when unset.
func (b *BudgetStore) GetBudget(month string) float64 {
	return b.slice.Get().Budgets[month]
}

// Budgets returns a copy of every stored budget.
func (b *BudgetStore) Budgets() map[string]float64 {
	return maps.Clone(b.slice.Get().Budgets)
}

// Close stops persisting changes.
func (b *BudgetStore) Close() { b.slice.Close() }
