package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/domain/entity"
)

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Signatures returns the dedup signature of every stored task
func (r *TaskRepository) Signatures(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, `SELECT signature FROM tasks`)
	if err != nil {
		r.logger.Error("Failed to query task signatures", zap.Error(err))
		return nil, fmt.Errorf("failed to query task signatures: %w", err)
	}
	defer rows.Close()

	signatures := make(map[string]struct{})
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		signatures[sig] = struct{}{}
	}
	return signatures, rows.Err()
}

// SaveTasks inserts tasks in one transaction and returns their row ids in
// input order. A task whose signature is already stored keeps the existing id.
func (r *TaskRepository) SaveTasks(ctx context.Context, tasks []entity.InferredTask) ([]int64, error) {
	ids := make([]int64, len(tasks))
	if len(tasks) == 0 {
		return ids, nil
	}

	query := `
		INSERT INTO tasks (
			title, description, context, status, priority,
			confidence, needs_review, source_type, source_id,
			candidate_id, signature, due_date, inferred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`

	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.getExecutor(ctx)
		for i := range tasks {
			task := &tasks[i]
			signature := entity.Signature(task.Title, task.SourceID)

			var priority sql.NullInt64
			if task.Priority != nil {
				priority = sql.NullInt64{Int64: int64(*task.Priority), Valid: true}
			}

			result, err := exec.ExecContext(ctx, query,
				task.Title,
				task.Description,
				task.Context,
				port.TaskStatusTodo,
				priority,
				task.Confidence,
				task.NeedsReview,
				string(task.SourceType),
				nullString(task.SourceID),
				task.CandidateID,
				signature,
				nullTime(task.DueDate),
				formatTime(task.CreatedAt),
			)
			if err != nil {
				r.logger.Error("Failed to insert task",
					zap.String("candidate_id", task.CandidateID),
					zap.Error(err))
				return fmt.Errorf("failed to insert task: %w", err)
			}

			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if affected == 0 {
				if err := exec.QueryRowContext(ctx, `SELECT id FROM tasks WHERE signature = ?`, signature).Scan(&ids[i]); err != nil {
					return fmt.Errorf("failed to look up existing task: %w", err)
				}
				continue
			}

			ids[i], err = result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get task ID: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Tasks saved", zap.Int("count", len(tasks)))
	return ids, nil
}

// List returns stored tasks, newest first. An empty status lists all.
func (r *TaskRepository) List(ctx context.Context, status string, limit int) ([]*port.TaskRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}

	query := `
		SELECT id, title, description, context, status, priority,
			confidence, needs_review, source_type, source_id,
			candidate_id, due_date, inferred_at
		FROM tasks
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var records []*port.TaskRecord
	for rows.Next() {
		record, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpdateStatus moves a stored task between todo, in_progress and done
func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case port.TaskStatusTodo, port.TaskStatusInProgress, port.TaskStatusDone:
	default:
		return fmt.Errorf("invalid task status: %s", status)
	}

	result, err := r.db.getExecutor(ctx).ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		r.logger.Error("Failed to update task status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update task status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task not found: %d", id)
	}
	return nil
}

func (r *TaskRepository) scanTask(rows *sql.Rows) (*port.TaskRecord, error) {
	var (
		record     port.TaskRecord
		priority   sql.NullInt64
		sourceType string
		sourceID   sql.NullString
		dueDate    sql.NullString
		inferredAt string
	)

	err := rows.Scan(
		&record.ID,
		&record.Title,
		&record.Description,
		&record.Context,
		&record.Status,
		&priority,
		&record.Confidence,
		&record.NeedsReview,
		&sourceType,
		&sourceID,
		&record.CandidateID,
		&dueDate,
		&inferredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	record.SourceType = entity.SourceType(sourceType)
	record.SourceID = sourceID.String
	if priority.Valid {
		p := int(priority.Int64)
		record.Priority = &p
	}
	if dueDate.Valid {
		due, err := parseTime(dueDate.String)
		if err != nil {
			return nil, err
		}
		record.DueDate = &due
	}
	if record.CreatedAt, err = parseTime(inferredAt); err != nil {
		return nil, err
	}

	return &record, nil
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
