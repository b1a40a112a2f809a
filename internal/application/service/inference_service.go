package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/lotus/internal/application/orchestrator"
	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/domain/entity"
	"github.com/garyjia/lotus/internal/observability"
)

// Logger is the key/value logger the services write to
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Inferrer runs batches of candidates through the inference core
type Inferrer interface {
	Infer(ctx context.Context, req orchestrator.InferRequest) (*orchestrator.InferenceBatchResult, error)
	InferUnits(ctx context.Context, units []entity.CandidateUnit, existing map[string]struct{}) *orchestrator.InferenceBatchResult
}

// DefaultReplayBatchSize bounds how many deferred candidates one replay takes
const DefaultReplayBatchSize = 20

// InferInput is one piece of raw text submitted for inference
type InferInput struct {
	RawText    string            `json:"text"`
	SourceType entity.SourceType `json:"source_type"`
	SourceID   string            `json:"source_id,omitempty"`
	OriginTime time.Time         `json:"origin_time,omitempty"`
}

// InferOutput is the batch result plus the ids the emitted tasks were stored under
type InferOutput struct {
	*orchestrator.InferenceBatchResult
	TaskIDs       []int64 `json:"task_ids"`
	TasksInferred int     `json:"tasks_inferred"`
	Queued        int     `json:"deferred_queued"`
}

// ReplayReport summarizes one pass over the deferred queue
type ReplayReport struct {
	Attempted int     `json:"attempted"`
	Emitted   int     `json:"emitted"`
	Requeued  int     `json:"requeued"`
	Resolved  int     `json:"resolved"`
	TaskIDs   []int64 `json:"task_ids"`
}

// InferenceService connects the inference core to task storage
type InferenceService interface {
	// Infer splits and infers raw text, stores emitted tasks and queues deferred candidates
	Infer(ctx context.Context, in InferInput) (*InferOutput, error)

	// ReplayDeferred re-runs deferred candidates whose retry time has passed
	ReplayDeferred(ctx context.Context) (*ReplayReport, error)

	// ListTasks returns stored tasks, newest first
	ListTasks(ctx context.Context, status string, limit int) ([]*port.TaskRecord, error)
}

type inferenceServiceImpl struct {
	inferrer  Inferrer
	taskRepo  port.TaskRepository
	queue     port.DeferredRepository
	txManager port.TransactionManager
	logger    Logger

	replayBatch int
	now         func() time.Time
}

// Option configures the inference service
type Option func(*inferenceServiceImpl)

// WithReplayBatchSize sets how many deferred candidates one replay takes
func WithReplayBatchSize(n int) Option {
	return func(s *inferenceServiceImpl) {
		if n > 0 {
			s.replayBatch = n
		}
	}
}

// WithClock overrides the clock used for retry times
func WithClock(now func() time.Time) Option {
	return func(s *inferenceServiceImpl) {
		s.now = now
	}
}

// NewInferenceService creates a new InferenceService
func NewInferenceService(
	inferrer Inferrer,
	taskRepo port.TaskRepository,
	queue port.DeferredRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) InferenceService {
	s := &inferenceServiceImpl{
		inferrer:    inferrer,
		taskRepo:    taskRepo,
		queue:       queue,
		txManager:   txManager,
		logger:      logger,
		replayBatch: DefaultReplayBatchSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Infer runs one request end to end
func (s *inferenceServiceImpl) Infer(ctx context.Context, in InferInput) (*InferOutput, error) {
	existing, err := s.taskRepo.Signatures(ctx)
	if err != nil {
		s.logger.Error("Failed to load task signatures", "error", err)
		return nil, fmt.Errorf("load task signatures: %w", err)
	}

	result, err := s.inferrer.Infer(ctx, orchestrator.InferRequest{
		RawText:            in.RawText,
		SourceType:         in.SourceType,
		SourceID:           in.SourceID,
		ExistingSignatures: existing,
		OriginTime:         in.OriginTime,
	})
	if err != nil {
		return nil, err
	}

	out := &InferOutput{InferenceBatchResult: result, TaskIDs: []int64{}}

	// Storage must not be skipped because the caller gave up on the batch
	storeCtx := context.WithoutCancel(ctx)
	err = s.txManager.WithTransaction(storeCtx, func(txCtx context.Context) error {
		out.Queued = 0
		ids, err := s.taskRepo.SaveTasks(txCtx, result.Tasks)
		if err != nil {
			return fmt.Errorf("save tasks: %w", err)
		}
		out.TaskIDs = ids

		for _, o := range result.Deferred() {
			if err := s.queue.Enqueue(txCtx, s.deferredEntry(o)); err != nil {
				return fmt.Errorf("queue deferred candidate: %w", err)
			}
			out.Queued++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store inference results",
			"error", err,
			"batch_id", result.BatchID)
		return nil, err
	}

	out.TasksInferred = len(result.Tasks)
	s.refreshQueueDepth(storeCtx)

	s.logger.Info("Inference request stored",
		"batch_id", result.BatchID,
		"source_type", in.SourceType,
		"tasks_inferred", out.TasksInferred,
		"deferred_queued", out.Queued)

	return out, nil
}

// ReplayDeferred takes due candidates off the queue and infers them again
// under their original candidate ids
func (s *inferenceServiceImpl) ReplayDeferred(ctx context.Context) (*ReplayReport, error) {
	report := &ReplayReport{TaskIDs: []int64{}}

	due, err := s.queue.Due(ctx, s.now(), s.replayBatch)
	if err != nil {
		s.logger.Error("Failed to load due candidates", "error", err)
		return nil, fmt.Errorf("load due candidates: %w", err)
	}
	if len(due) == 0 {
		return report, nil
	}

	existing, err := s.taskRepo.Signatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load task signatures: %w", err)
	}

	units := make([]entity.CandidateUnit, len(due))
	byCandidate := make(map[string]*port.DeferredEntry, len(due))
	for i, entry := range due {
		units[i] = entity.CandidateUnit{
			ID:         entry.CandidateID,
			Index:      i,
			Text:       entry.Text,
			SourceType: entry.SourceType,
			SourceID:   entry.SourceID,
			OriginTime: entry.OriginTime,
		}
		byCandidate[entry.CandidateID] = entry
	}

	result := s.inferrer.InferUnits(ctx, units, existing)
	report.Attempted = len(units)

	storeCtx := context.WithoutCancel(ctx)
	err = s.txManager.WithTransaction(storeCtx, func(txCtx context.Context) error {
		report.Requeued, report.Resolved = 0, 0
		ids, err := s.taskRepo.SaveTasks(txCtx, result.Tasks)
		if err != nil {
			return fmt.Errorf("save tasks: %w", err)
		}
		report.TaskIDs = ids
		report.Emitted = len(result.Tasks)

		for _, o := range result.Outcomes {
			entry := byCandidate[o.CandidateID]
			if entry == nil {
				continue
			}

			switch o.Kind {
			case orchestrator.OutcomeDeferred:
				if err := s.queue.Enqueue(txCtx, s.deferredEntry(o)); err != nil {
					return fmt.Errorf("requeue deferred candidate: %w", err)
				}
				report.Requeued++
			case orchestrator.OutcomeCancelled:
				// Left queued for the next pass
			default:
				if err := s.queue.Remove(txCtx, entry.ID); err != nil {
					return fmt.Errorf("remove replayed candidate: %w", err)
				}
				report.Resolved++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store replay results",
			"error", err,
			"batch_id", result.BatchID)
		return nil, err
	}

	s.refreshQueueDepth(storeCtx)

	s.logger.Info("Deferred candidates replayed",
		"batch_id", result.BatchID,
		"attempted", report.Attempted,
		"emitted", report.Emitted,
		"requeued", report.Requeued,
		"resolved", report.Resolved)

	return report, nil
}

// ListTasks returns stored tasks
func (s *inferenceServiceImpl) ListTasks(ctx context.Context, status string, limit int) ([]*port.TaskRecord, error) {
	tasks, err := s.taskRepo.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *inferenceServiceImpl) deferredEntry(o orchestrator.Outcome) *port.DeferredEntry {
	return &port.DeferredEntry{
		CandidateID: o.CandidateID,
		Text:        o.Candidate.Text,
		SourceType:  o.Candidate.SourceType,
		SourceID:    o.Candidate.SourceID,
		OriginTime:  o.Candidate.OriginTime,
		RetryAt:     s.now().Add(o.RetryAfter),
		Reason:      o.Reason,
	}
}

func (s *inferenceServiceImpl) refreshQueueDepth(ctx context.Context) {
	n, err := s.queue.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to count deferred candidates", "error", err)
		return
	}
	observability.DeferredQueueDepth.Set(float64(n))
}
