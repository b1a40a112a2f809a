package container

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/scoring"
	"github.com/garyjia/lotus/internal/application/service"
	"github.com/garyjia/lotus/internal/config"
	"github.com/garyjia/lotus/internal/domain/entity"
)

const reportText = "Hi Sam. Can you send the Q4 report to finance by tomorrow? Thanks!"

// newModelServer answers chat completions by stage, keyed on the system prompt
func newModelServer(t *testing.T) *httptest.Server {
	t.Helper()

	replies := map[string]string{
		"message classifier":       `{"actionable": true, "rationale": "direct request"}`,
		"task inference assistant": `{"reason": "Direct request with a deadline", "evidence": ["Can you send the Q4 report to finance by tomorrow?"], "certainty": 90}`,
		"task parameter extractor": `{"title": "Send Q4 report to finance", "description": "Sam is asked to send the Q4 report to finance.", "assignee": "Sam", "action": "send", "object": "Q4 report", "due_phrase": "by tomorrow", "evidence": "Can you send the Q4 report to finance by tomorrow?"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		content := ""
		for marker, reply := range replies {
			if strings.Contains(req.Messages[0].Content, marker) {
				content = reply
			}
		}

		body, _ := json.Marshal(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, modelURL string) *config.Config {
	t.Helper()

	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "lotus.db"), MaxOpenConns: 4, MaxIdleConns: 2},
		Models: config.ModelsConfig{
			Local: config.ModelConfig{Name: "llama3.2:3b", BaseURL: modelURL + "/v1", Timeout: 5 * time.Second},
			Cloud: config.ModelConfig{Name: "gpt-4o-mini", BaseURL: modelURL + "/v1", APIKey: "test", Timeout: 5 * time.Second},
		},
		Retry:     config.RetryConfig{MaxAttempts: 1},
		Inference: config.InferenceConfig{DailyBudget: 5, Workers: 2, MaxCandidateSize: 2000, RateLimitRetryAfter: time.Minute},
		Scoring:   scoring.DefaultConfidenceWeights(),
		Replay:    config.ReplayConfig{Enabled: true, Schedule: "@every 1h", Timeout: time.Minute, BatchSize: 10},
		Upload:    config.UploadConfig{MaxBytes: 1 << 20, MaxPDFPages: 5},
		Tracing:   config.TracingConfig{Exporter: "none", SampleRatio: 1},
	}
}

func startContainer(t *testing.T, cfg *config.Config, opts ...Option) *Container {
	t.Helper()

	c, err := NewContainer(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig(t, "http://localhost")
	_, err = NewContainer(cfg, nil)
	assert.Error(t, err)

	cfg.Inference.Workers = 0
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_InferEndToEnd(t *testing.T) {
	srv := newModelServer(t)
	c := startContainer(t, testConfig(t, srv.URL))
	defer func() { require.NoError(t, c.Close()) }()

	require.True(t, c.Ready())
	health := c.Health()
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)

	ctx := context.Background()
	out, err := c.Service().Infer(ctx, service.InferInput{
		RawText:    reportText,
		SourceType: entity.SourceSlackDM,
		SourceID:   "D123",
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.TasksInferred)
	require.Len(t, out.TaskIDs, 1)
	assert.Equal(t, "Send Q4 report to finance", out.Tasks[0].Title)

	tasks, err := c.Service().ListTasks(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, out.TaskIDs[0], tasks[0].ID)

	// The same message again is recognized as a stored task
	again, err := c.Service().Infer(ctx, service.InferInput{
		RawText:    reportText,
		SourceType: entity.SourceSlackDM,
		SourceID:   "D123",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, again.TasksInferred)
	assert.Equal(t, 1, again.Counts["duplicate"])

	assert.Equal(t, 2, c.Budget().Snapshot().Used)
}

func TestContainer_BudgetSurvivesRestart(t *testing.T) {
	srv := newModelServer(t)
	cfg := testConfig(t, srv.URL)

	first := startContainer(t, cfg, WithoutWorkers())
	_, err := first.Service().Infer(context.Background(), service.InferInput{
		RawText:    reportText,
		SourceType: entity.SourceManualText,
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.Budget().Snapshot().Used)
	require.NoError(t, first.Close())

	second := startContainer(t, cfg, WithoutWorkers())
	defer second.Close()
	assert.Equal(t, 1, second.Budget().Snapshot().Used)
}

func TestContainer_ExhaustedBudgetQueuesCandidates(t *testing.T) {
	srv := newModelServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.Inference.DailyBudget = 0

	c := startContainer(t, cfg, WithoutWorkers())
	defer c.Close()

	ctx := context.Background()
	out, err := c.Service().Infer(ctx, service.InferInput{
		RawText:    fmt.Sprintf("%s\n\nAlso book the room for Friday.", reportText),
		SourceType: entity.SourceManualText,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.TasksInferred)
	assert.Equal(t, 2, out.Queued)

	queued, err := c.Repositories().Deferred.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
}

func TestContainer_Lifecycle(t *testing.T) {
	srv := newModelServer(t)
	c := startContainer(t, testConfig(t, srv.URL))

	assert.Error(t, c.Start(context.Background()), "second start")
	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close")
	assert.Error(t, c.Start(context.Background()), "start after close")
}
