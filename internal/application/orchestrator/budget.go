package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/observability"
)

// DefaultDailyBudget is the default number of workflow runs allowed per UTC day
const DefaultDailyBudget = 50

// DailyBudget caps cloud workflow runs per UTC day. One unit is charged per
// candidate admitted to the workflow. Usage is optionally persisted so a
// restart keeps counting.
type DailyBudget struct {
	mu     sync.Mutex
	limit  int
	used   int
	day    string
	repo   port.BudgetRepository
	now    func() time.Time
	logger *zap.Logger
}

// BudgetOption configures the daily budget
type BudgetOption func(*DailyBudget)

// WithBudgetRepository persists usage through repo
func WithBudgetRepository(repo port.BudgetRepository) BudgetOption {
	return func(b *DailyBudget) {
		b.repo = repo
	}
}

// WithBudgetClock overrides the clock (tests)
func WithBudgetClock(now func() time.Time) BudgetOption {
	return func(b *DailyBudget) {
		b.now = now
	}
}

// NewDailyBudget creates a budget of limit units per UTC day
func NewDailyBudget(limit int, logger *zap.Logger, opts ...BudgetOption) *DailyBudget {
	b := &DailyBudget{
		limit:  limit,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.day = dayKey(b.now())
	return b
}

// Load restores today's usage from the repository, if one is configured
func (b *DailyBudget) Load(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	day := dayKey(b.now())
	used, err := b.repo.LoadUsage(ctx, day)
	if err != nil {
		return err
	}

	b.day = day
	b.used = used
	observability.BudgetUsed.Set(float64(used))
	return nil
}

// TryAcquire charges one unit if any remain. When the budget is spent it
// returns false and the time until the next UTC midnight.
func (b *DailyBudget) TryAcquire(ctx context.Context) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollover(now)

	if b.used >= b.limit {
		return false, untilNextUTCMidnight(now)
	}

	b.used++
	observability.BudgetUsed.Set(float64(b.used))

	if b.repo != nil {
		if err := b.repo.SaveUsage(ctx, b.day, b.used); err != nil {
			b.logger.Warn("Failed to persist budget usage",
				zap.String("day", b.day),
				zap.Int("used", b.used),
				zap.Error(err))
		}
	}

	return true, 0
}

// Snapshot returns today's limit, usage and reset time
func (b *DailyBudget) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollover(now)

	remaining := b.limit - b.used
	if remaining < 0 {
		remaining = 0
	}

	return BudgetSnapshot{
		Day:       b.day,
		Limit:     b.limit,
		Used:      b.used,
		Remaining: remaining,
		ResetsAt:  now.UTC().Add(untilNextUTCMidnight(now)),
	}
}

// BudgetSnapshot is a point-in-time view of the daily budget
type BudgetSnapshot struct {
	Day       string    `json:"day"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

func (b *DailyBudget) rollover(now time.Time) {
	if day := dayKey(now); day != b.day {
		b.day = day
		b.used = 0
		observability.BudgetUsed.Set(0)
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(utc)
}
