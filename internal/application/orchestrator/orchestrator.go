package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/ai"
	"github.com/garyjia/lotus/internal/application/scoring"
	"github.com/garyjia/lotus/internal/application/workflow"
	"github.com/garyjia/lotus/internal/domain/entity"
	domainwf "github.com/garyjia/lotus/internal/domain/workflow"
	"github.com/garyjia/lotus/internal/observability"
)

// DefaultWorkers is the default size of the per-batch worker pool
const DefaultWorkers = 5

// ErrInvalidRequest is returned for requests the orchestrator cannot split
var ErrInvalidRequest = errors.New("invalid inference request")

// Classifier is the advisory gate run before the cloud workflow
type Classifier interface {
	Classify(ctx context.Context, unit entity.CandidateUnit) (entity.ClassificationVerdict, error)
}

// Budget admits candidates to the cloud workflow
type Budget interface {
	TryAcquire(ctx context.Context) (bool, time.Duration)
}

// TaskScorer turns a generated workflow result into a task
type TaskScorer interface {
	Score(res *workflow.Result) (entity.InferredTask, error)
}

// InferRequest is one batch of raw text from a single source
type InferRequest struct {
	RawText    string
	SourceType entity.SourceType
	SourceID   string

	// ExistingSignatures are entity.Signature values of tasks the caller already stores
	ExistingSignatures map[string]struct{}

	// OriginTime anchors relative due dates; zero means now
	OriginTime time.Time
}

// Orchestrator splits raw text into candidates and runs each through the
// classifier, the budget gate, the workflow and scoring
type Orchestrator struct {
	splitter   *Splitter
	classifier Classifier
	engine     workflow.WorkflowEngine
	scorer     TaskScorer
	budget     Budget
	logger     *zap.Logger

	workers             int
	rateLimitRetryAfter time.Duration
	now                 func() time.Time
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithWorkers sets the worker pool size
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSplitter replaces the default splitter
func WithSplitter(s *Splitter) Option {
	return func(o *Orchestrator) {
		o.splitter = s
	}
}

// WithRateLimitRetryAfter sets the retry-after reported for rate-limited candidates
func WithRateLimitRetryAfter(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.rateLimitRetryAfter = d
	}
}

// WithClock overrides the clock used for default origin times
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator
func New(classifier Classifier, engine workflow.WorkflowEngine, scorer TaskScorer, budget Budget, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		splitter:            NewSplitter(DefaultMaxCandidateSize),
		classifier:          classifier,
		engine:              engine,
		scorer:              scorer,
		budget:              budget,
		logger:              logger,
		workers:             DefaultWorkers,
		rateLimitRetryAfter: 5 * time.Minute,
		now:                 time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Infer runs one batch. Every candidate gets exactly one outcome, in input
// order. Cancelling ctx reports unfinished candidates as cancelled; the
// returned error is only for requests that cannot be processed at all.
func (o *Orchestrator) Infer(ctx context.Context, req InferRequest) (*InferenceBatchResult, error) {
	if !req.SourceType.IsValid() {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidRequest, req.SourceType)
	}
	if req.OriginTime.IsZero() {
		req.OriginTime = o.now()
	}

	return o.InferUnits(ctx, o.splitter.Units(req), req.ExistingSignatures), nil
}

// InferUnits runs already split candidates. Replays of deferred candidates
// come through here with their original IDs.
func (o *Orchestrator) InferUnits(ctx context.Context, units []entity.CandidateUnit, existing map[string]struct{}) *InferenceBatchResult {
	batchID := uuid.NewString()
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "orchestrator.infer",
		attribute.String("batch_id", batchID),
		attribute.Int("candidates", len(units)))
	defer span.End()

	runs := o.runAll(ctx, units)

	result := newBatchResult(batchID, len(units))
	deduper := scoring.NewDeduper(existing)

	for i, run := range runs {
		outcome := o.resolve(run, deduper)
		outcome.Index = i
		result.add(outcome)
		observability.CandidateOutcomes.WithLabelValues(string(outcome.Kind)).Inc()
	}

	span.SetAttributes(attribute.Int("emitted", result.Counts[OutcomeEmitted]))

	o.logger.Info("Inference batch completed",
		zap.String("batch_id", batchID),
		zap.Int("candidates", len(units)),
		zap.Int("emitted", result.Counts[OutcomeEmitted]),
		zap.Int("duplicate", result.Counts[OutcomeDuplicate]),
		zap.Int("not_actionable", result.Counts[OutcomeNotActionable]),
		zap.Int("rejected", result.Counts[OutcomeRejected]),
		zap.Int("failed", result.Counts[OutcomeFailed]),
		zap.Int("deferred", result.Counts[OutcomeDeferred]),
		zap.Int("cancelled", result.Counts[OutcomeCancelled]),
		zap.Duration("duration", time.Since(start)))

	return result
}

// candidateRun is what a worker produces for one candidate
type candidateRun struct {
	unit       entity.CandidateUnit
	kind       OutcomeKind
	verdict    *entity.ClassificationVerdict
	result     *workflow.Result
	errorKind  string
	reason     string
	retryAfter time.Duration
}

// runAll processes candidates on a bounded pool and slots results by index
func (o *Orchestrator) runAll(ctx context.Context, units []entity.CandidateUnit) []candidateRun {
	runs := make([]candidateRun, len(units))
	if len(units) == 0 {
		return runs
	}

	workers := o.workers
	if workers > len(units) {
		workers = len(units)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				runs[i] = o.process(ctx, units[i])
			}
		}()
	}

	for i := range units {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return runs
}

func (o *Orchestrator) process(ctx context.Context, unit entity.CandidateUnit) candidateRun {
	run := candidateRun{unit: unit}

	if ctx.Err() != nil {
		run.kind = OutcomeCancelled
		return run
	}

	verdict, err := o.classifier.Classify(ctx, unit)
	if err != nil {
		if ai.IsKind(err, ai.KindCancelled) || ctx.Err() != nil {
			run.kind = OutcomeCancelled
			return run
		}
		run.kind = OutcomeFailed
		run.reason = err.Error()
		return run
	}
	run.verdict = &verdict

	if !verdict.Actionable {
		run.kind = OutcomeNotActionable
		run.reason = verdict.Rationale
		return run
	}

	if ctx.Err() != nil {
		run.kind = OutcomeCancelled
		return run
	}

	ok, retryAfter := o.budget.TryAcquire(ctx)
	if !ok {
		run.kind = OutcomeDeferred
		run.errorKind = ai.KindBudgetExceeded.String()
		run.reason = ai.ErrBudgetExceeded.Error()
		run.retryAfter = retryAfter
		return run
	}

	res := o.engine.Run(ctx, unit)
	run.result = res

	switch res.State {
	case domainwf.StateGenerateTask:
		run.kind = OutcomeEmitted
	case domainwf.StateRejected:
		run.kind = OutcomeRejected
		run.errorKind = ai.KindParseError.String()
		run.reason = strings.Join(res.ValidationErrors, "; ")
	case domainwf.StateCancelled:
		run.kind = OutcomeCancelled
	default:
		run.kind = OutcomeFailed
		if me, ok := ai.AsModelError(res.Err); ok {
			run.errorKind = me.Kind.String()
			if me.Kind == ai.KindRateLimited {
				// The budget unit stays spent; the run did reach the cloud
				run.kind = OutcomeDeferred
				run.retryAfter = o.rateLimitRetryAfter
			}
		}
		if res.Err != nil {
			run.reason = res.Err.Error()
		}
	}

	return run
}

// resolve scores and dedups generated results. It runs on one goroutine in
// input order, so within-batch duplicates resolve to the earliest candidate.
func (o *Orchestrator) resolve(run candidateRun, deduper *scoring.Deduper) Outcome {
	outcome := Outcome{
		Candidate:   run.unit,
		CandidateID: run.unit.ID,
		Kind:        run.kind,
		Verdict:     run.verdict,
		ErrorKind:   run.errorKind,
		Reason:      run.reason,
		RetryAfter:  run.retryAfter,
	}
	if run.result != nil {
		outcome.FinalState = run.result.State.String()
	}

	if run.kind != OutcomeEmitted {
		return outcome
	}

	task, err := o.scorer.Score(run.result)
	if err != nil {
		outcome.Kind = OutcomeFailed
		outcome.Reason = err.Error()
		return outcome
	}

	if !deduper.Admit(&task) {
		outcome.Kind = OutcomeDuplicate
		outcome.Reason = "matches an existing task"
		return outcome
	}

	outcome.Task = &task
	return outcome
}
