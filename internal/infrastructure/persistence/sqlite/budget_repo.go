package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
)

// BudgetRepository implements port.BudgetRepository
type BudgetRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *DB, logger *zap.Logger) *BudgetRepository {
	return &BudgetRepository{
		db:     db,
		logger: logger,
	}
}

// LoadUsage returns the units spent on day, zero when nothing was recorded
func (r *BudgetRepository) LoadUsage(ctx context.Context, day string) (int, error) {
	var used int
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT used FROM budget_usage WHERE day = ?`, day).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		r.logger.Error("Failed to load budget usage", zap.String("day", day), zap.Error(err))
		return 0, fmt.Errorf("failed to load budget usage: %w", err)
	}
	return used, nil
}

// SaveUsage records the units spent on day
func (r *BudgetRepository) SaveUsage(ctx context.Context, day string, used int) error {
	query := `
		INSERT INTO budget_usage (day, used) VALUES (?, ?)
		ON CONFLICT(day) DO UPDATE SET used = excluded.used, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.getExecutor(ctx).ExecContext(ctx, query, day, used); err != nil {
		r.logger.Error("Failed to save budget usage", zap.String("day", day), zap.Error(err))
		return fmt.Errorf("failed to save budget usage: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.BudgetRepository = (*BudgetRepository)(nil)
