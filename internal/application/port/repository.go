package port

import (
	"context"
	"time"

	"github.com/garyjia/lotus/internal/domain/entity"
)

// Task status values owned by the persistence layer
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

// TaskRecord is a stored task with its persistence-side fields
type TaskRecord struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	entity.InferredTask
}

// TaskRepository stores emitted tasks and exposes their dedup signatures
type TaskRepository interface {
	Signatures(ctx context.Context) (map[string]struct{}, error)
	SaveTasks(ctx context.Context, tasks []entity.InferredTask) ([]int64, error)
	List(ctx context.Context, status string, limit int) ([]*TaskRecord, error)
}

// BudgetRepository persists daily cloud-call usage so restarts keep counting
type BudgetRepository interface {
	LoadUsage(ctx context.Context, day string) (int, error)
	SaveUsage(ctx context.Context, day string, used int) error
}

// DeferredEntry is a candidate queued for a later inference attempt
type DeferredEntry struct {
	ID          int64
	CandidateID string
	Text        string
	SourceType  entity.SourceType
	SourceID    string
	OriginTime  time.Time
	RetryAt     time.Time
	Reason      string
}

// DeferredRepository queues candidates deferred by budget or rate limits
type DeferredRepository interface {
	Enqueue(ctx context.Context, entry *DeferredEntry) error
	Due(ctx context.Context, now time.Time, limit int) ([]*DeferredEntry, error)
	Remove(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// TransactionManager runs a function inside a database transaction
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
