package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryBudgetRepo struct {
	usage   map[string]int
	saveErr error
}

func (r *memoryBudgetRepo) LoadUsage(ctx context.Context, day string) (int, error) {
	return r.usage[day], nil
}

func (r *memoryBudgetRepo) SaveUsage(ctx context.Context, day string, used int) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.usage[day] = used
	return nil
}

func TestDailyBudget_TryAcquire(t *testing.T) {
	now := time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)
	budget := NewDailyBudget(2, zap.NewNop(), WithBudgetClock(func() time.Time { return now }))

	ok, _ := budget.TryAcquire(context.Background())
	assert.True(t, ok)
	ok, _ = budget.TryAcquire(context.Background())
	assert.True(t, ok)

	ok, retryAfter := budget.TryAcquire(context.Background())
	assert.False(t, ok)
	assert.Equal(t, time.Hour, retryAfter)

	snap := budget.Snapshot()
	assert.Equal(t, 2, snap.Used)
	assert.Equal(t, 0, snap.Remaining)
	assert.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), snap.ResetsAt)

	// Next UTC day resets usage
	now = now.Add(2 * time.Hour)
	ok, _ = budget.TryAcquire(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "2025-01-16", budget.Snapshot().Day)
}

func TestDailyBudget_Persistence(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	repo := &memoryBudgetRepo{usage: map[string]int{"2025-01-15": 49}}
	budget := NewDailyBudget(DefaultDailyBudget, zap.NewNop(),
		WithBudgetRepository(repo),
		WithBudgetClock(func() time.Time { return now }))

	require.NoError(t, budget.Load(context.Background()))

	ok, _ := budget.TryAcquire(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 50, repo.usage["2025-01-15"])

	ok, _ = budget.TryAcquire(context.Background())
	assert.False(t, ok)
}

func TestDailyBudget_SaveFailureKeepsCounting(t *testing.T) {
	repo := &memoryBudgetRepo{usage: map[string]int{}, saveErr: errors.New("disk full")}
	budget := NewDailyBudget(1, zap.NewNop(), WithBudgetRepository(repo))

	ok, _ := budget.TryAcquire(context.Background())
	assert.True(t, ok)
	ok, _ = budget.TryAcquire(context.Background())
	assert.False(t, ok)
}

func TestDailyBudget_ConcurrentAcquireNeverOverspends(t *testing.T) {
	budget := NewDailyBudget(10, zap.NewNop())

	results := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			ok, _ := budget.TryAcquire(context.Background())
			results <- ok
		}()
	}

	granted := 0
	for i := 0; i < 100; i++ {
		if <-results {
			granted++
		}
	}
	assert.Equal(t, 10, granted)
}
