// Package modelbackend defines the port for language model completion
// calls, with error classes the router uses to decide retry behavior.
package modelbackend

import (
	"context"
	"errors"
)

// Error classes. Backends wrap provider errors into one of these so the
// router can classify without knowing provider wire formats. Anything
// not wrapped is treated as permanent.
var (
	// ErrRateLimited marks provider throttling; retryable with backoff.
	ErrRateLimited = errors.New("model backend: rate limited")

	// ErrServerUnavailable marks 5xx and transport timeouts; retryable.
	ErrServerUnavailable = errors.New("model backend: server unavailable")

	// ErrInvalidRequest marks 4xx rejections; never retried.
	ErrInvalidRequest = errors.New("model backend: invalid request")
)

// Request is a single completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the completion text and token accounting.
type Response struct {
	Text      string
	TokensIn  int64
	TokensOut int64
}

// Backend is the port interface for one model provider.
type Backend interface {
	// Name identifies the backend (e.g. "openai", "anthropic").
	Name() string

	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (*Response, error)
}
