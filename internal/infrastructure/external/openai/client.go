package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
)

// Config describes one chat-completion endpoint. Local models are served
// through Ollama's OpenAI-compatible /v1 API; an empty BaseURL means the
// OpenAI default.
type Config struct {
	Model      string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client implements port.ModelClient over go-openai
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a chat-completion client for one model endpoint
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model name is required")
	}

	apiKey := cfg.APIKey
	if apiKey == "" && cfg.BaseURL != "" {
		// Ollama ignores the key but go-openai always sends the header
		apiKey = "ollama"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat completion and returns the first choice's content
func (c *Client) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		c.logger.Debug("Chat completion failed",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", translateError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &port.StatusError{StatusCode: http.StatusBadGateway, Message: "response contained no choices"}
	}

	c.logger.Debug("Chat completion finished",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// translateError turns go-openai HTTP failures into *port.StatusError so the
// gateway can classify them. Transport errors pass through unchanged.
func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("chat completion: %w", &port.StatusError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		})
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return fmt.Errorf("chat completion: %w", &port.StatusError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
		})
	}

	return fmt.Errorf("chat completion: %w", err)
}

// Verify interface compliance
var _ port.ModelClient = (*Client)(nil)
