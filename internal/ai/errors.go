package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/garyjia/lotus/internal/application/port"
)

// ErrorKind classifies model failures so each stage can decide how to react
type ErrorKind string

const (
	// KindClientError is a malformed request or bad credentials. Never retried.
	KindClientError ErrorKind = "client_error"
	// KindRateLimited means the provider kept answering 429
	KindRateLimited ErrorKind = "rate_limited"
	// KindServerError covers 5xx responses, network failures and per-call timeouts
	KindServerError ErrorKind = "server_error"
	// KindParseError means the model answered but not in the expected shape
	KindParseError ErrorKind = "parse_error"
	// KindBudgetExceeded means the daily cloud-call cap was reached
	KindBudgetExceeded ErrorKind = "budget_exceeded"
	// KindCancelled means the caller cancelled the batch
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the gateway retries this kind
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindServerError
}

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	return string(k)
}

// ErrBudgetExceeded is returned when the daily cloud-call budget is spent
var ErrBudgetExceeded = errors.New("daily cloud-call budget exceeded")

// ModelError is the only error type the gateway returns
type ModelError struct {
	Kind       ErrorKind
	Tier       Tier
	Model      string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s model %s: %s (status %d, %d attempts): %v", e.Tier, e.Model, e.Kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s model %s: %s (%d attempts): %v", e.Tier, e.Model, e.Kind, e.Attempts, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// AsModelError extracts a *ModelError from an error chain
func AsModelError(err error) (*ModelError, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsKind reports whether err carries a ModelError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	me, ok := AsModelError(err)
	return ok && me.Kind == kind
}

// classify maps a raw client error to an ErrorKind. parent is the caller's
// context; a cancelled parent wins over whatever the client reported.
func classify(parent context.Context, err error) (ErrorKind, int) {
	if parent.Err() != nil {
		return KindCancelled, 0
	}

	var statusErr *port.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return KindRateLimited, code
		case code >= 500:
			return KindServerError, code
		case code >= 400:
			return KindClientError, code
		}
		return KindServerError, code
	}

	// Timeouts of the per-call deadline and transport errors are transient
	return KindServerError, 0
}
