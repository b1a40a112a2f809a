package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/ai"
	"github.com/garyjia/lotus/internal/domain/entity"
	domainwf "github.com/garyjia/lotus/internal/domain/workflow"
	"github.com/garyjia/lotus/internal/observability"
)

// WorkflowEngine runs candidates through ANALYZE, EXTRACT_PARAMETERS,
// VALIDATE_TASK and GENERATE_TASK
type WorkflowEngine interface {
	// Run executes the workflow for one candidate. It never returns nil;
	// failures are reported through Result.State and Result.Err.
	Run(ctx context.Context, unit entity.CandidateUnit) *Result
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	gateway      ai.Invoker
	prompts      *ai.PromptConfig
	stageTimeout time.Duration
	logger       *zap.Logger
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithStageTimeout sets the per-call timeout of every cloud stage
func WithStageTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.stageTimeout = d
	}
}

// NewEngine creates a new workflow engine
func NewEngine(gateway ai.Invoker, prompts *ai.PromptConfig, logger *zap.Logger, opts ...EngineOption) WorkflowEngine {
	if prompts == nil {
		prompts = ai.DefaultPrompts()
	}

	e := &engineImpl{
		gateway:      gateway,
		prompts:      prompts,
		stageTimeout: 60 * time.Second,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes the workflow for one candidate
func (e *engineImpl) Run(ctx context.Context, unit entity.CandidateUnit) *Result {
	ctx, span := observability.StartSpan(ctx, "workflow.run",
		attribute.String("candidate_id", unit.ID),
		attribute.String("source_type", unit.SourceType.String()))
	defer span.End()

	st := &WorkflowState{Candidate: unit}
	machine := BuildInferenceStateMachine(st)

	for !machine.State().IsTerminal() {
		trigger := e.step(ctx, machine.State(), st)

		err := machine.Fire(ctx, trigger)
		if err != nil && trigger == domainwf.TriggerRetryExtract && errors.Is(err, domainwf.ErrGuardFailed) {
			err = machine.Fire(ctx, domainwf.TriggerReject)
		}
		if err != nil {
			st.Err = fmt.Errorf("workflow transition: %w", err)
			e.logger.Error("Workflow transition failed",
				zap.String("candidate_id", unit.ID),
				zap.String("state", machine.State().String()),
				zap.String("trigger", trigger.String()),
				zap.Error(err))
			return e.result(st, domainwf.StateFailed, machine)
		}
	}

	final := machine.State()
	span.SetAttributes(attribute.String("final_state", final.String()))

	e.logger.Debug("Workflow finished",
		zap.String("candidate_id", unit.ID),
		zap.String("state", final.String()),
		zap.Int("extract_attempts", st.ExtractAttempts))

	return e.result(st, final, machine)
}

func (e *engineImpl) step(ctx context.Context, state domainwf.State, st *WorkflowState) domainwf.Trigger {
	if err := ctx.Err(); err != nil {
		st.Err = err
		return domainwf.TriggerCancel
	}

	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues(stageLabel(state)).Observe(time.Since(start).Seconds())
	}()

	switch state {
	case domainwf.StateAnalyze:
		return e.analyze(ctx, st)
	case domainwf.StateExtractParameters:
		return e.extract(ctx, st)
	case domainwf.StateValidateTask:
		return validate(st)
	}

	st.Err = fmt.Errorf("%w: no stage for %s", domainwf.ErrInvalidState, state)
	return domainwf.TriggerFail
}

func (e *engineImpl) result(st *WorkflowState, final domainwf.State, machine domainwf.StateMachine) *Result {
	res := &Result{
		Candidate:        st.Candidate,
		State:            final,
		Err:              st.Err,
		ValidationErrors: st.ValidationErrors,
		History:          machine.History(),
	}

	if final.IsSuccess() {
		res.Draft = generate(st)
	}

	return res
}

// stageError routes a gateway failure to CANCELLED or FAILED
func stageError(st *WorkflowState, err error) domainwf.Trigger {
	st.Err = err
	if ai.IsKind(err, ai.KindCancelled) || errors.Is(err, context.Canceled) {
		return domainwf.TriggerCancel
	}
	return domainwf.TriggerFail
}

func (e *engineImpl) invoke(ctx context.Context, stage ai.StagePrompt, prompt, operation string) (string, error) {
	return e.gateway.Invoke(ctx, ai.Request{
		Tier:         ai.TierCloud,
		Prompt:       prompt,
		SystemPrompt: stage.System,
		MaxTokens:    stage.MaxTokens,
		Temperature:  stage.Temperature,
		Timeout:      e.stageTimeout,
		Operation:    operation,
	})
}

func stageLabel(state domainwf.State) string {
	switch state {
	case domainwf.StateAnalyze:
		return "analyze"
	case domainwf.StateExtractParameters:
		return "extract"
	case domainwf.StateValidateTask:
		return "validate"
	}
	return "unknown"
}
