// Package container wires the inference core, its storage and its workers,
// and owns their lifecycle.
package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/ai"
	"github.com/garyjia/lotus/internal/application/orchestrator"
	"github.com/garyjia/lotus/internal/application/scoring"
	"github.com/garyjia/lotus/internal/application/service"
	"github.com/garyjia/lotus/internal/application/workflow"
	"github.com/garyjia/lotus/internal/config"
	"github.com/garyjia/lotus/internal/infrastructure/external/openai"
	"github.com/garyjia/lotus/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/lotus/migrations"
	"github.com/garyjia/lotus/pkg/database"
	"github.com/garyjia/lotus/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories.
type RepositoryBundle struct {
	Task     *sqlite.TaskRepository
	Budget   *sqlite.BudgetRepository
	Deferred *sqlite.DeferredRepository
}

// ModelBundle holds the model clients and the gateway in front of them.
type ModelBundle struct {
	Local   *openai.Client
	Cloud   *openai.Client
	Gateway *ai.Gateway
	Calls   *ai.CallCounter
}

// CoreBundle holds the inference core.
type CoreBundle struct {
	Prompts      *ai.PromptConfig
	Classifier   *ai.Classifier
	Engine       workflow.WorkflowEngine
	Scorer       *scoring.Scorer
	Budget       *orchestrator.DailyBudget
	Orchestrator *orchestrator.Orchestrator
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(conn, logger).RunMigrationsFS(ctx, migrations.FS); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates the sqlite repositories.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	return &RepositoryBundle{
		Task:     sqlite.NewTaskRepository(db, logger),
		Budget:   sqlite.NewBudgetRepository(db, logger),
		Deferred: sqlite.NewDeferredRepository(db, logger),
	}, nil
}

// ProvideModels creates the local and cloud clients and the gateway routing
// between them.
func ProvideModels(cfg *config.Config, logger *zap.Logger) (*ModelBundle, error) {
	local, err := openai.NewClient(openai.Config{
		Model:   cfg.Models.Local.Name,
		BaseURL: cfg.Models.Local.BaseURL,
		APIKey:  cfg.Models.Local.APIKey,
	}, logger.Named("local"))
	if err != nil {
		return nil, fmt.Errorf("failed to create local model client: %w", err)
	}

	cloud, err := openai.NewClient(openai.Config{
		Model:   cfg.Models.Cloud.Name,
		BaseURL: cfg.Models.Cloud.BaseURL,
		APIKey:  cfg.Models.Cloud.APIKey,
	}, logger.Named("cloud"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud model client: %w", err)
	}

	calls := ai.ProcessCallCounter
	gateway := ai.NewGateway(ai.NewTwoTierRouter(local, cloud), logger,
		ai.WithRetryPolicy(ai.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
		}),
		ai.WithCallCounter(calls))

	return &ModelBundle{
		Local:   local,
		Cloud:   cloud,
		Gateway: gateway,
		Calls:   calls,
	}, nil
}

// ProvideCore builds the classifier, the workflow engine, scoring and the
// orchestrator. The budget is loaded from storage before it is returned.
func ProvideCore(ctx context.Context, cfg *config.Config, models *ModelBundle, repos *RepositoryBundle, logger *zap.Logger) (*CoreBundle, error) {
	prompts := ai.DefaultPrompts()
	if cfg.Inference.PromptsPath != "" {
		loaded, err := ai.LoadPrompts(cfg.Inference.PromptsPath)
		if err != nil {
			return nil, err
		}
		prompts = loaded
	}

	classifier := ai.NewClassifier(models.Gateway, prompts.Classifier,
		cfg.Models.Local.Name, cfg.Models.Local.Timeout, logger.Named("classifier"))

	engine := workflow.NewEngine(models.Gateway, prompts, logger.Named("workflow"),
		workflow.WithStageTimeout(cfg.Models.Cloud.Timeout))

	scorer := scoring.NewScorer(cfg.Scoring)

	budget := orchestrator.NewDailyBudget(cfg.Inference.DailyBudget, logger.Named("budget"),
		orchestrator.WithBudgetRepository(repos.Budget))
	if err := budget.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load budget usage: %w", err)
	}

	orch := orchestrator.New(classifier, engine, scorer, budget, logger.Named("orchestrator"),
		orchestrator.WithWorkers(cfg.Inference.Workers),
		orchestrator.WithSplitter(orchestrator.NewSplitter(cfg.Inference.MaxCandidateSize)),
		orchestrator.WithRateLimitRetryAfter(cfg.Inference.RateLimitRetryAfter))

	return &CoreBundle{
		Prompts:      prompts,
		Classifier:   classifier,
		Engine:       engine,
		Scorer:       scorer,
		Budget:       budget,
		Orchestrator: orch,
	}, nil
}

// ProvideInferenceService connects the orchestrator to storage.
func ProvideInferenceService(cfg *config.Config, core *CoreBundle, repos *RepositoryBundle, db *sqlite.DB, logger *zap.Logger) service.InferenceService {
	return service.NewInferenceService(
		core.Orchestrator,
		repos.Task,
		repos.Deferred,
		db,
		utils.NewKVLogger(logger.Named("service")),
		service.WithReplayBatchSize(cfg.Replay.BatchSize),
	)
}
