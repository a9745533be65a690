package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/coordex/pkg/models"
)

const budgetColumns = `id, period, period_start, budget_limit, spent, created_at`

func scanBudgetPeriod(row interface{ Scan(...any) error }) (*models.BudgetPeriod, error) {
	var b models.BudgetPeriod
	var period, createdAt string
	if err := row.Scan(&b.ID, &period, &b.PeriodStart, &b.BudgetLimit, &b.Spent, &createdAt); err != nil {
		return nil, err
	}
	b.Period = models.BudgetPeriodKind(period)
	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBudgetPeriod returns the row for (period, periodStart), or nil if absent.
func GetBudgetPeriod(ctx context.Context, tx *sql.Tx, period models.BudgetPeriodKind, periodStart string) (*models.BudgetPeriod, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budget_tracking WHERE period = ? AND period_start = ?`,
		string(period), periodStart)
	b, err := scanBudgetPeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget period: %w", err)
	}
	return b, nil
}

// UpsertBudgetSpend adds amount to the spent total for (period, periodStart),
// creating the row (with budgetLimit) if absent, and returns the new total.
func UpsertBudgetSpend(ctx context.Context, tx *sql.Tx, period models.BudgetPeriodKind, periodStart string, budgetLimit, amount float64) (*models.BudgetPeriod, error) {
	if amount < 0 {
		return nil, fmt.Errorf("upsert budget spend: amount must be non-negative, got %v", amount)
	}

	existing, err := GetBudgetPeriod(ctx, tx, period, periodStart)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		b := &models.BudgetPeriod{
			ID:          uuid.New().String(),
			Period:      period,
			PeriodStart: periodStart,
			BudgetLimit: budgetLimit,
			Spent:       amount,
			CreatedAt:   now(),
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO budget_tracking (id, period, period_start, budget_limit, spent, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, string(b.Period), b.PeriodStart, b.BudgetLimit, b.Spent, formatTime(b.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("insert budget period: %w", err)
		}
		return b, nil
	}

	existing.Spent += amount
	_, err = tx.ExecContext(ctx,
		`UPDATE budget_tracking SET spent = ? WHERE id = ?`, existing.Spent, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("update budget period: %w", err)
	}
	return existing, nil
}
