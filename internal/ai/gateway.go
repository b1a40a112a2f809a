package ai

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/observability"
)

// Request is one gateway call
type Request struct {
	Tier         Tier
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration

	// Operation names the calling stage in logs and spans
	Operation string
}

// Invoker is the contract stages depend on
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Gateway is the uniform entry point to every model. It routes by tier,
// applies per-call timeouts, retries transient failures and counts attempts.
type Gateway struct {
	router  RoutingStrategy
	retry   RetryPolicy
	counter *CallCounter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) {
		g.retry = p
	}
}

// WithCallCounter sets the counter incremented for every attempt
func WithCallCounter(c *CallCounter) GatewayOption {
	return func(g *Gateway) {
		g.counter = c
	}
}

// WithSleeper replaces the backoff wait (tests use a no-op)
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *Gateway) {
		g.sleep = sleep
	}
}

// NewGateway creates a gateway over the given routing strategy
func NewGateway(router RoutingStrategy, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		router:  router,
		retry:   DefaultRetryPolicy(),
		counter: ProcessCallCounter,
		logger:  logger,
		sleep:   sleepContext,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.retry.MaxAttempts <= 0 {
		g.retry.MaxAttempts = 1
	}

	return g
}

// Counter returns the attempt counter used by this gateway
func (g *Gateway) Counter() *CallCounter {
	return g.counter
}

// Invoke sends the request to the model serving req.Tier. Every failure is a *ModelError.
func (g *Gateway) Invoke(ctx context.Context, req Request) (string, error) {
	client, err := g.router.Route(req.Tier)
	if err != nil {
		return "", &ModelError{Kind: KindClientError, Tier: req.Tier, Err: err}
	}

	served := req.Tier
	if resolver, ok := g.router.(TierResolver); ok {
		served = resolver.ServedTier(req.Tier)
	}

	ctx, span := observability.StartSpan(ctx, "model.invoke",
		attribute.String("tier", req.Tier.String()),
		attribute.String("model", client.Model()),
		attribute.String("operation", req.Operation),
	)
	defer span.End()

	var (
		lastErr    error
		lastKind   ErrorKind
		lastStatus int
		attempts   int
	)

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastKind, lastErr = KindCancelled, ctx.Err()
			break
		}

		attempts = attempt
		g.counter.Inc(served)

		text, err := g.attempt(ctx, client, req)
		if err == nil {
			observability.ModelCalls.WithLabelValues(served.String(), "ok").Inc()
			span.SetAttributes(attribute.Int("attempts", attempt))
			return text, nil
		}

		lastErr = err
		lastKind, lastStatus = classify(ctx, err)
		observability.ModelCalls.WithLabelValues(served.String(), lastKind.String()).Inc()

		if !lastKind.Retryable() {
			break
		}

		if attempt < g.retry.MaxAttempts {
			backoff := g.delay(attempt)
			g.logger.Info("Retrying model call",
				zap.String("tier", req.Tier.String()),
				zap.String("operation", req.Operation),
				zap.String("kind", lastKind.String()),
				zap.Int("status", lastStatus),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))

			if err := g.sleep(ctx, backoff); err != nil {
				lastKind, lastErr = KindCancelled, err
				break
			}
		}
	}

	modelErr := &ModelError{
		Kind:       lastKind,
		Tier:       req.Tier,
		Model:      client.Model(),
		StatusCode: lastStatus,
		Attempts:   attempts,
		Err:        lastErr,
	}

	span.SetStatus(codes.Error, lastKind.String())
	g.logger.Warn("Model call failed",
		zap.String("tier", req.Tier.String()),
		zap.String("operation", req.Operation),
		zap.String("kind", lastKind.String()),
		zap.Int("status", lastStatus),
		zap.Int("attempts", attempts))

	return "", modelErr
}

func (g *Gateway) attempt(ctx context.Context, client port.ModelClient, req Request) (string, error) {
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		observability.ModelCallDuration.WithLabelValues(req.Tier.String()).Observe(time.Since(start).Seconds())
	}()

	return client.Complete(callCtx, port.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	})
}

func (g *Gateway) delay(attempt int) time.Duration {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	return g.retry.Delay(attempt, g.rnd)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
