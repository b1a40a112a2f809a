package ai

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/domain/entity"
)

type invokerFunc func(ctx context.Context, req Request) (string, error)

func (f invokerFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func newTestClassifier(fn invokerFunc) *Classifier {
	return NewClassifier(fn, DefaultPrompts().Classifier, "llama3.2:3b", time.Second, zap.NewNop())
}

func testUnit(text string) entity.CandidateUnit {
	return entity.NewCandidateUnit(0, text, entity.SourceManualText, "", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
}

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		wantActionable bool
		wantParseFail  bool
		wantRationale  string
	}{
		{
			name:           "JSON actionable",
			response:       `{"actionable": true, "rationale": "Asks for a report by Friday."}`,
			wantActionable: true,
			wantRationale:  "Asks for a report by Friday.",
		},
		{
			name:           "JSON not actionable in fences",
			response:       "```json\n{\"actionable\": false, \"rationale\": \"Just a greeting.\"}\n```",
			wantActionable: false,
			wantRationale:  "Just a greeting.",
		},
		{
			name:           "plain yes",
			response:       "Yes. The sender asks for a review.",
			wantActionable: true,
			wantRationale:  "The sender asks for a review.",
		},
		{
			name:           "plain no",
			response:       "no",
			wantActionable: false,
		},
		{
			name:           "garbage fails open",
			response:       "I am not sure what you mean",
			wantActionable: true,
			wantParseFail:  true,
			wantRationale:  parseFailureRationale,
		},
		{
			name:           "JSON without verdict fails open",
			response:       `{"rationale": "unclear"}`,
			wantActionable: true,
			wantParseFail:  true,
			wantRationale:  parseFailureRationale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(func(ctx context.Context, req Request) (string, error) {
				return tt.response, nil
			})

			unit := testUnit("Can you send the Q4 report by Friday?")
			verdict, err := c.Classify(context.Background(), unit)
			require.NoError(t, err)

			assert.Equal(t, unit.ID, verdict.CandidateID)
			assert.Equal(t, "llama3.2:3b", verdict.Model)
			assert.Equal(t, tt.wantActionable, verdict.Actionable)
			assert.Equal(t, tt.wantParseFail, verdict.ParseFailed)
			assert.Equal(t, tt.wantRationale, verdict.Rationale)
		})
	}
}

func TestClassifier_UsesLocalTierAndTruncates(t *testing.T) {
	var got Request
	c := newTestClassifier(func(ctx context.Context, req Request) (string, error) {
		got = req
		return `{"actionable": false, "rationale": "noise"}`, nil
	})

	long := strings.Repeat("a", 450) + strings.Repeat("b", 200)
	_, err := c.Classify(context.Background(), testUnit(long))
	require.NoError(t, err)

	assert.Equal(t, TierLocal, got.Tier)
	assert.Equal(t, time.Second, got.Timeout)
	assert.Contains(t, got.Prompt, strings.Repeat("a", 450)+strings.Repeat("b", 50))
	assert.NotContains(t, got.Prompt, strings.Repeat("b", 51))
}

func TestClassifier_ModelErrorFailsOpen(t *testing.T) {
	c := newTestClassifier(func(ctx context.Context, req Request) (string, error) {
		return "", &ModelError{Kind: KindServerError, Tier: TierLocal, Attempts: 3}
	})

	verdict, err := c.Classify(context.Background(), testUnit("Please review the PR"))
	require.NoError(t, err)
	assert.True(t, verdict.Actionable)
	assert.Contains(t, verdict.Rationale, "server_error")
}

func TestClassifier_CancellationIsReturned(t *testing.T) {
	c := newTestClassifier(func(ctx context.Context, req Request) (string, error) {
		return "", &ModelError{Kind: KindCancelled, Tier: TierLocal, Err: context.Canceled}
	})

	_, err := c.Classify(context.Background(), testUnit("Please review the PR"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Title string `json:"title"`
	}

	require.NoError(t, DecodeJSON(`Sure! {"title": "Send {draft}"} hope this helps`, &v))
	assert.Equal(t, "Send {draft}", v.Title)

	assert.ErrorIs(t, DecodeJSON("no object here", &v), ErrNoJSON)
	assert.ErrorIs(t, DecodeJSON(`{"title": "open`, &v), ErrNoJSON)
}

func TestLoadPrompts_MergesOverrides(t *testing.T) {
	path := t.TempDir() + "/prompts.yaml"
	require.NoError(t, os.WriteFile(path, []byte("analyze:\n  temperature: 0.7\n  system: custom analyzer\n"), 0o644))

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)

	assert.Equal(t, "custom analyzer", prompts.Analyze.System)
	assert.InDelta(t, 0.7, prompts.Analyze.Temperature, 0.0001)
	assert.Equal(t, analyzeUserTemplate, prompts.Analyze.UserTemplate)
	assert.Equal(t, classifierSystemPrompt, prompts.Classifier.System)
}

func TestLoadPrompts_RejectsBrokenTemplate(t *testing.T) {
	path := t.TempDir() + "/prompts.yaml"
	require.NoError(t, os.WriteFile(path, []byte("extract:\n  user_template: \"{{.Text\"\n"), 0o644))

	_, err := LoadPrompts(path)
	assert.Error(t, err)
}
