package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/domain/entity"
)

// DeferredRepository implements port.DeferredRepository
type DeferredRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDeferredRepository creates a new deferred candidate repository
func NewDeferredRepository(db *DB, logger *zap.Logger) *DeferredRepository {
	return &DeferredRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores a deferred candidate. Deferring the same candidate again
// moves its retry time instead of adding a second row.
func (r *DeferredRepository) Enqueue(ctx context.Context, entry *port.DeferredEntry) error {
	query := `
		INSERT INTO deferred_candidates (
			candidate_id, text, source_type, source_id, origin_time, retry_at, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(candidate_id) DO UPDATE SET
			retry_at = excluded.retry_at,
			reason = excluded.reason
	`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		entry.CandidateID,
		entry.Text,
		string(entry.SourceType),
		nullString(entry.SourceID),
		formatTime(entry.OriginTime),
		formatTime(entry.RetryAt),
		nullString(entry.Reason),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue deferred candidate",
			zap.String("candidate_id", entry.CandidateID),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue deferred candidate: %w", err)
	}

	var id int64
	err = r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT id FROM deferred_candidates WHERE candidate_id = ?`, entry.CandidateID).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to get deferred candidate ID: %w", err)
	}
	entry.ID = id

	r.logger.Debug("Deferred candidate queued",
		zap.String("candidate_id", entry.CandidateID),
		zap.Time("retry_at", entry.RetryAt))
	return nil
}

// Due returns candidates whose retry time has passed, oldest first
func (r *DeferredRepository) Due(ctx context.Context, now time.Time, limit int) ([]*port.DeferredEntry, error) {
	query := `
		SELECT id, candidate_id, text, source_type, source_id, origin_time, retry_at, reason
		FROM deferred_candidates
		WHERE retry_at <= ?
		ORDER BY retry_at ASC, id ASC
	`
	args := []interface{}{formatTime(now)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query due candidates", zap.Error(err))
		return nil, fmt.Errorf("failed to query due candidates: %w", err)
	}
	defer rows.Close()

	var entries []*port.DeferredEntry
	for rows.Next() {
		var (
			entry      port.DeferredEntry
			sourceType string
			sourceID   sql.NullString
			originTime string
			retryAt    string
			reason     sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.CandidateID, &entry.Text, &sourceType,
			&sourceID, &originTime, &retryAt, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan deferred candidate: %w", err)
		}

		entry.SourceType = entity.SourceType(sourceType)
		entry.SourceID = sourceID.String
		entry.Reason = reason.String
		if entry.OriginTime, err = parseTime(originTime); err != nil {
			return nil, err
		}
		if entry.RetryAt, err = parseTime(retryAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Remove deletes a deferred candidate
func (r *DeferredRepository) Remove(ctx context.Context, id int64) error {
	if _, err := r.db.getExecutor(ctx).ExecContext(ctx, `DELETE FROM deferred_candidates WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to remove deferred candidate", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to remove deferred candidate: %w", err)
	}
	return nil
}

// Count returns the number of queued candidates
func (r *DeferredRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.getExecutor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_candidates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count deferred candidates: %w", err)
	}
	return n, nil
}

// Verify interface compliance
var _ port.DeferredRepository = (*DeferredRepository)(nil)
