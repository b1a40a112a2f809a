package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_model_calls_total",
			Help: "Model call attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lotus_model_call_duration_seconds",
			Help:    "Model call attempt latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"tier"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lotus_workflow_stage_duration_seconds",
			Help: "Inference workflow stage latency in seconds",
		},
		[]string{"stage"},
	)

	CandidateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_candidate_outcomes_total",
			Help: "Candidate outcomes by kind",
		},
		[]string{"outcome"},
	)

	BudgetUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotus_cloud_budget_used",
			Help: "Workflow runs charged against today's cloud budget",
		},
	)

	DeferredQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotus_deferred_queue_depth",
			Help: "Candidates waiting for a replay",
		},
	)

	StoreTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_store_transactions_total",
			Help: "Task store transactions by result",
		},
		[]string{"result"},
	)

	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_workflow_transitions_total",
			Help: "Inference workflow state transitions",
		},
		[]string{"from", "to"},
	)
)
