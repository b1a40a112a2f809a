package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/domain/entity"
	"github.com/garyjia/lotus/internal/observability"
)

const (
	// MaxClassifierInput is the number of characters of a candidate shown to the local model
	MaxClassifierInput = 500

	parseFailureRationale = "parse failure — routed to workflow for safety"
)

// Classifier is the cheap local-model gate in front of the cloud workflow.
// Its verdicts are advisory and it never produces tasks.
type Classifier struct {
	gateway Invoker
	prompt  StagePrompt
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifier creates a classifier. model is recorded on every verdict.
func NewClassifier(gateway Invoker, prompt StagePrompt, model string, timeout time.Duration, logger *zap.Logger) *Classifier {
	return &Classifier{
		gateway: gateway,
		prompt:  prompt,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

type classifierResponse struct {
	Actionable *bool  `json:"actionable"`
	Rationale  string `json:"rationale"`
}

// Classify judges whether a candidate is worth sending to the cloud workflow.
// Output that cannot be read and local model failures both fail open. Only
// cancellation is returned as an error.
func (c *Classifier) Classify(ctx context.Context, unit entity.CandidateUnit) (entity.ClassificationVerdict, error) {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	}()

	verdict := entity.ClassificationVerdict{
		CandidateID: unit.ID,
		Model:       c.model,
	}

	prompt, err := c.prompt.Render(struct{ Text string }{Text: truncateRunes(unit.Text, MaxClassifierInput)})
	if err != nil {
		return verdict, fmt.Errorf("failed to render classifier prompt: %w", err)
	}

	content, err := c.gateway.Invoke(ctx, Request{
		Tier:         TierLocal,
		Prompt:       prompt,
		SystemPrompt: c.prompt.System,
		MaxTokens:    c.prompt.MaxTokens,
		Temperature:  c.prompt.Temperature,
		Timeout:      c.timeout,
		Operation:    "classify",
	})
	if err != nil {
		if IsKind(err, KindCancelled) {
			return verdict, err
		}

		kind := KindServerError
		if me, ok := AsModelError(err); ok {
			kind = me.Kind
		}
		c.logger.Warn("Classifier model failed, failing open",
			zap.String("candidate_id", unit.ID),
			zap.String("kind", kind.String()))

		verdict.Actionable = true
		verdict.Rationale = fmt.Sprintf("classifier unavailable (%s), routed to workflow for safety", kind)
		return verdict, nil
	}

	actionable, rationale, ok := parseClassifierResponse(content)
	if !ok {
		c.logger.Debug("Classifier output did not conform",
			zap.String("candidate_id", unit.ID),
			zap.Int("response_length", len(content)))

		verdict.Actionable = true
		verdict.Rationale = parseFailureRationale
		verdict.ParseFailed = true
		return verdict, nil
	}

	verdict.Actionable = actionable
	verdict.Rationale = rationale

	c.logger.Debug("Candidate classified",
		zap.String("candidate_id", unit.ID),
		zap.Bool("actionable", actionable))

	return verdict, nil
}

// parseClassifierResponse accepts the JSON form or a bare yes/no answer
func parseClassifierResponse(content string) (bool, string, bool) {
	var resp classifierResponse
	if err := DecodeJSON(content, &resp); err == nil && resp.Actionable != nil {
		return *resp.Actionable, strings.TrimSpace(resp.Rationale), true
	}

	trimmed := strings.TrimSpace(content)
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(fields) == 0 {
		return false, "", false
	}

	switch strings.ToLower(fields[0]) {
	case "yes":
		return true, rationaleAfterFirstWord(trimmed), true
	case "no":
		return false, rationaleAfterFirstWord(trimmed), true
	}

	return false, "", false
}

func rationaleAfterFirstWord(s string) string {
	idx := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if idx < 0 {
		return ""
	}
	return strings.TrimLeftFunc(s[idx:], func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
