package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{Model: "llama3.2:3b", BaseURL: srv.URL + "/v1"}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://localhost:11434/v1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_Complete(t *testing.T) {
	var got capturedRequest
	var path, auth string

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "llama3.2:3b",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"actionable\": true}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`))
	})

	out, err := c.Complete(context.Background(), port.CompletionRequest{
		SystemPrompt: "classify",
		Prompt:       "Please send the report",
		MaxTokens:    64,
		Temperature:  0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"actionable": true}`, out)
	assert.Equal(t, "llama3.2:3b", c.Model())

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer ollama", auth)
	assert.Equal(t, "llama3.2:3b", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	assert.InDelta(t, 0.3, got.Temperature, 0.0001)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Please send the report", got.Messages[1].Content)
}

func TestClient_Complete_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "rate_limit"}}`},
		{"unauthorized", http.StatusUnauthorized, `{"error": {"message": "bad key", "type": "auth"}}`},
		{"server error without json body", http.StatusBadGateway, `upstream down`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Complete(context.Background(), port.CompletionRequest{Prompt: "x"})
			require.Error(t, err)

			var statusErr *port.StatusError
			require.True(t, errors.As(err, &statusErr), err.Error())
			assert.Equal(t, tt.status, statusErr.StatusCode)
		})
	}
}

func TestClient_Complete_NoChoices(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "choices": []}`))
	})

	_, err := c.Complete(context.Background(), port.CompletionRequest{Prompt: "x"})
	var statusErr *port.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestClient_Complete_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{Model: "m", BaseURL: url}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), port.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	var statusErr *port.StatusError
	assert.False(t, errors.As(err, &statusErr))
}
