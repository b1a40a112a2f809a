package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/domain/entity"
	"github.com/garyjia/lotus/migrations"
	"github.com/garyjia/lotus/pkg/database"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zap.NewNop()

	pdb, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "lotus.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pdb.Close() })

	require.NoError(t, database.NewMigrator(pdb, logger).RunMigrationsFS(context.Background(), migrations.FS))
	return NewDB(pdb.DB, logger)
}

func sampleTask(title, sourceID string) entity.InferredTask {
	priority := 2
	due := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	return entity.InferredTask{
		Title:       title,
		Description: "Send the report to finance.",
		Context:     "Can you send the Q4 report to finance by tomorrow?",
		Confidence:  80,
		NeedsReview: false,
		Priority:    &priority,
		SourceType:  entity.SourceSlackDM,
		SourceID:    sourceID,
		CandidateID: "cand-" + title,
		DueDate:     &due,
		CreatedAt:   time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestTaskRepository_SaveListSignatures(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t), zap.NewNop())

	first := sampleTask("Send Q4 report", "D1")
	second := sampleTask("Book room", "D1")
	second.Priority = nil
	second.DueDate = nil
	second.NeedsReview = true

	ids, err := repo.SaveTasks(ctx, []entity.InferredTask{first, second})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	sigs, err := repo.Signatures(ctx)
	require.NoError(t, err)
	assert.Contains(t, sigs, entity.Signature("Send Q4 report", "D1"))
	assert.Contains(t, sigs, entity.Signature("Book room", "D1"))

	records, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	got := records[1]
	assert.Equal(t, ids[0], got.ID)
	assert.Equal(t, port.TaskStatusTodo, got.Status)
	assert.Equal(t, first.Title, got.Title)
	assert.Equal(t, first.Context, got.Context)
	assert.Equal(t, entity.SourceSlackDM, got.SourceType)
	require.NotNil(t, got.Priority)
	assert.Equal(t, 2, *got.Priority)
	require.NotNil(t, got.DueDate)
	assert.True(t, first.DueDate.Equal(*got.DueDate))
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	assert.Nil(t, records[0].Priority)
	assert.Nil(t, records[0].DueDate)
	assert.True(t, records[0].NeedsReview)
}

func TestTaskRepository_SaveDuplicateSignatureKeepsExistingID(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t), zap.NewNop())

	ids, err := repo.SaveTasks(ctx, []entity.InferredTask{sampleTask("Send Q4 report", "D1")})
	require.NoError(t, err)

	again, err := repo.SaveTasks(ctx, []entity.InferredTask{sampleTask("send q4 REPORT!", "D1")})
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	records, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTaskRepository_StatusFilterAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t), zap.NewNop())

	ids, err := repo.SaveTasks(ctx, []entity.InferredTask{sampleTask("A", "S"), sampleTask("B", "S")})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, ids[0], port.TaskStatusDone))
	assert.Error(t, repo.UpdateStatus(ctx, ids[0], "archived"))
	assert.Error(t, repo.UpdateStatus(ctx, 9999, port.TaskStatusDone))

	done, err := repo.List(ctx, port.TaskStatusDone, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "A", done[0].Title)

	limited, err := repo.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTaskRepository_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewTaskRepository(db, zap.NewNop())

	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := repo.SaveTasks(ctx, []entity.InferredTask{sampleTask("A", "S")}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	sigs, err := repo.Signatures(ctx)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestDB_NestedTransactionJoinsOuter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewTaskRepository(db, zap.NewNop())

	assert.False(t, InTransaction(ctx))
	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		assert.True(t, InTransaction(ctx))
		if err := db.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := repo.SaveTasks(ctx, []entity.InferredTask{sampleTask("Inner", "S")})
			return err
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	sigs, err := repo.Signatures(ctx)
	require.NoError(t, err)
	assert.Empty(t, sigs, "inner work rolls back with the outer transaction")
}

func TestDB_RetriesBusyTransactions(t *testing.T) {
	db := newTestDB(t)
	db.busyBackoff = time.Millisecond

	calls := 0
	err := db.WithTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("save tasks: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = db.WithTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	require.Error(t, err)
	assert.Equal(t, DefaultBusyRetries+1, calls)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isBusy(fmt.Errorf("wrapped: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, isBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isBusy(assert.AnError))
}

func TestBudgetRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewBudgetRepository(newTestDB(t), zap.NewNop())

	used, err := repo.LoadUsage(ctx, "2025-01-15")
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	require.NoError(t, repo.SaveUsage(ctx, "2025-01-15", 3))
	require.NoError(t, repo.SaveUsage(ctx, "2025-01-15", 4))
	require.NoError(t, repo.SaveUsage(ctx, "2025-01-16", 1))

	used, err = repo.LoadUsage(ctx, "2025-01-15")
	require.NoError(t, err)
	assert.Equal(t, 4, used)
}

func TestDeferredRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDeferredRepository(newTestDB(t), zap.NewNop())
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	early := &port.DeferredEntry{
		CandidateID: "c1", Text: "Please file the bug.", SourceType: entity.SourceSlackDM,
		SourceID: "D1", OriginTime: base, RetryAt: base.Add(time.Hour), Reason: "budget exceeded",
	}
	late := &port.DeferredEntry{
		CandidateID: "c2", Text: "Ship it.", SourceType: entity.SourceManualText,
		OriginTime: base, RetryAt: base.Add(3 * time.Hour),
	}
	require.NoError(t, repo.Enqueue(ctx, early))
	require.NoError(t, repo.Enqueue(ctx, late))
	assert.NotZero(t, early.ID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	due, err := repo.Due(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].CandidateID)
	assert.Equal(t, "D1", due[0].SourceID)
	assert.True(t, base.Equal(due[0].OriginTime))
	assert.Equal(t, "budget exceeded", due[0].Reason)

	// Re-deferring moves the retry time without duplicating the row
	early.RetryAt = base.Add(5 * time.Hour)
	require.NoError(t, repo.Enqueue(ctx, early))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	due, err = repo.Due(ctx, base.Add(4*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c2", due[0].CandidateID)

	require.NoError(t, repo.Remove(ctx, due[0].ID))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
