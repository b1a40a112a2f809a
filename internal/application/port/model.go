package port

import (
	"context"
	"fmt"
)

// CompletionRequest is a single prompt sent to a language model
type CompletionRequest struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float32
}

// ModelClient sends completion requests to one model endpoint.
// Implementations return *StatusError for non-2xx responses so callers can
// tell client errors from rate limiting and server failures.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Model() string
}

// StatusError reports a non-2xx response from a model endpoint
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.StatusCode, e.Message)
}
