package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/service"
)

// DefaultReplaySchedule runs the replay every five minutes
const DefaultReplaySchedule = "@every 5m"

// Replayer drains the deferred candidate queue
type Replayer interface {
	ReplayDeferred(ctx context.Context) (*service.ReplayReport, error)
}

// ReplayWorkerConfig holds configuration for the replay worker
type ReplayWorkerConfig struct {
	// Schedule is a cron spec evaluated in UTC
	Schedule string
	// Timeout bounds a single replay pass
	Timeout time.Duration
}

// DefaultReplayWorkerConfig returns default configuration
func DefaultReplayWorkerConfig() ReplayWorkerConfig {
	return ReplayWorkerConfig{
		Schedule: DefaultReplaySchedule,
		Timeout:  10 * time.Minute,
	}
}

// ReplayWorker re-runs deferred candidates on a cron schedule
type ReplayWorker struct {
	config   ReplayWorkerConfig
	replayer Replayer
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReplayWorker creates a new replay worker
func NewReplayWorker(config ReplayWorkerConfig, replayer Replayer, logger *zap.Logger) *ReplayWorker {
	if config.Schedule == "" {
		config.Schedule = DefaultReplaySchedule
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReplayWorkerConfig().Timeout
	}
	return &ReplayWorker{
		config:   config,
		replayer: replayer,
		logger:   logger,
	}
}

// Name returns the worker name
func (w *ReplayWorker) Name() string {
	return "deferred-replay"
}

// Start schedules the replay job
func (w *ReplayWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("replay worker already running")
	}

	logger := cronLogger{w.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(w.config.Schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid replay schedule %q: %w", w.config.Schedule, err)
	}

	w.cron = c
	c.Start()

	w.logger.Info("Replay worker scheduled", zap.String("schedule", w.config.Schedule))
	return nil
}

// Stop stops scheduling and waits for a running pass to finish
func (w *ReplayWorker) Stop() error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}

	<-c.Stop().Done()
	return nil
}

// RunOnce performs one replay pass
func (w *ReplayWorker) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	start := time.Now()
	report, err := w.replayer.ReplayDeferred(runCtx)
	if err != nil {
		w.logger.Error("Deferred replay failed", zap.Error(err))
		return
	}

	if report.Attempted > 0 {
		w.logger.Info("Deferred replay pass finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("emitted", report.Emitted),
			zap.Int("requeued", report.Requeued),
			zap.Duration("duration", time.Since(start)))
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
