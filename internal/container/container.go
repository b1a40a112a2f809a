package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/orchestrator"
	"github.com/garyjia/lotus/internal/application/service"
	"github.com/garyjia/lotus/internal/config"
	"github.com/garyjia/lotus/internal/infrastructure/export"
	"github.com/garyjia/lotus/internal/infrastructure/extract"
	"github.com/garyjia/lotus/internal/infrastructure/worker"
	"github.com/garyjia/lotus/internal/observability"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	database *DatabaseBundle
	repos    *RepositoryBundle
	models   *ModelBundle
	core     *CoreBundle

	service   service.InferenceService
	extractor *extract.Extractor
	exporter  *export.XLSXExporter

	workers         *worker.Manager
	startWorkers    bool
	shutdownTracing func(context.Context) error

	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option configures the container
type Option func(*Container)

// WithoutWorkers skips background workers, for one-shot commands
func WithoutWorkers() Option {
	return func(c *Container) {
		c.startWorkers = false
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components; call Start to do so.
func NewContainer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config:       cfg,
		logger:       logger,
		startWorkers: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components:
// 1. Tracing
// 2. Database and repositories
// 3. Model clients and gateway
// 4. Inference core and budget
// 5. Application services
// 6. Workers
//
// A failed step releases whatever earlier steps opened.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.start(ctx); err != nil {
		if closeErr := c.teardown(); closeErr != nil {
			c.logger.Error("Failed to release partially started container", zap.Error(closeErr))
		}
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) start(ctx context.Context) error {
	// Step 1: Tracing
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:    c.config.Tracing.Exporter,
		Endpoint:    c.config.Tracing.Endpoint,
		Insecure:    c.config.Tracing.Insecure,
		SampleRatio: c.config.Tracing.SampleRatio,
		ServiceName: c.config.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.shutdownTracing = shutdown

	// Step 2: Database and repositories
	db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.database = db

	repos, err := ProvideRepositories(db.TransactionMgr, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}
	c.repos = repos
	c.logger.Info("Database initialized", zap.String("path", c.config.Database.Path))

	// Step 3: Model clients
	models, err := ProvideModels(c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize models: %w", err)
	}
	c.models = models
	c.logger.Info("Model clients initialized",
		zap.String("local_model", c.config.Models.Local.Name),
		zap.String("cloud_model", c.config.Models.Cloud.Name))

	// Step 4: Inference core
	core, err := ProvideCore(ctx, c.config, models, repos, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize inference core: %w", err)
	}
	c.core = core
	snapshot := core.Budget.Snapshot()
	c.logger.Info("Inference core initialized",
		zap.Int("daily_budget", snapshot.Limit),
		zap.Int("budget_used", snapshot.Used))

	// Step 5: Services
	c.service = ProvideInferenceService(c.config, core, repos, db.TransactionMgr, c.logger)
	c.extractor = extract.NewExtractor(c.config.Upload.MaxPDFPages, c.logger.Named("extract"))
	c.exporter = export.NewXLSXExporter(c.logger.Named("export"))

	// Step 6: Workers
	c.workers = worker.NewManager(c.logger)
	if c.startWorkers && c.config.Replay.Enabled {
		c.workers.Register(worker.NewReplayWorker(worker.ReplayWorkerConfig{
			Schedule: c.config.Replay.Schedule,
			Timeout:  c.config.Replay.Timeout,
		}, c.service, c.logger.Named("replay")))
	}
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Close shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.database != nil {
		if err := c.database.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	if c.shutdownTracing != nil {
		if err := c.shutdownTracing(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.database != nil {
		if err := c.database.Conn.Ping(); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.core != nil {
		snapshot := c.core.Budget.Snapshot()
		status.Components["budget"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("%d of %d used", snapshot.Used, snapshot.Limit),
		}
	} else {
		status.Components["budget"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("running: %v", c.workers.Running()),
		}
	}

	return status
}

// Service returns the inference service.
func (c *Container) Service() service.InferenceService {
	return c.service
}

// Budget returns the daily cloud budget.
func (c *Container) Budget() *orchestrator.DailyBudget {
	if c.core == nil {
		return nil
	}
	return c.core.Budget
}

// Models returns the model clients and gateway.
func (c *Container) Models() *ModelBundle {
	return c.models
}

// Repositories returns the repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repos
}

// Extractor returns the upload text extractor.
func (c *Container) Extractor() *extract.Extractor {
	return c.extractor
}

// Exporter returns the spreadsheet exporter.
func (c *Container) Exporter() *export.XLSXExporter {
	return c.exporter
}
