package workflow

import (
	"context"

	domainwf "github.com/garyjia/lotus/internal/domain/workflow"
	"github.com/garyjia/lotus/internal/observability"
)

// MaxExtractAttempts bounds EXTRACT_PARAMETERS runs, the first try plus one corrective retry
const MaxExtractAttempts = 2

// BuildInferenceStateMachine creates a state machine configured for one
// candidate's inference run. The retry guard reads the execution's own state.
func BuildInferenceStateMachine(st *WorkflowState) domainwf.StateMachine {
	builder := domainwf.NewBuilder().OnTransition(func(t domainwf.Transition) {
		observability.WorkflowTransitions.WithLabelValues(t.From.String(), t.To.String()).Inc()
	})

	// ANALYZE state transitions
	builder.Configure(domainwf.StateAnalyze).
		Permit(domainwf.TriggerAnalyzed, domainwf.StateExtractParameters).
		Permit(domainwf.TriggerFail, domainwf.StateFailed).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// EXTRACT_PARAMETERS state transitions
	builder.Configure(domainwf.StateExtractParameters).
		Permit(domainwf.TriggerExtracted, domainwf.StateValidateTask).
		Permit(domainwf.TriggerFail, domainwf.StateFailed).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// VALIDATE_TASK state transitions; the only back edge
	builder.Configure(domainwf.StateValidateTask).
		Permit(domainwf.TriggerValidated, domainwf.StateGenerateTask).
		PermitIf(domainwf.TriggerRetryExtract, domainwf.StateExtractParameters, func(ctx context.Context) bool {
			return st.ExtractAttempts < MaxExtractAttempts
		}).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// GENERATE_TASK, REJECTED, FAILED and CANCELLED are terminal states

	return builder.Build(domainwf.StateAnalyze)
}
