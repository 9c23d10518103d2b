// Package openai implements the model backend port on the OpenAI chat
// completions API. A custom base URL targets any OpenAI-compatible
// proxy, which is how self-hosted tiers are wired in.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/circadianhq/circadian/internal/port/modelbackend"
)

const providerName = "openai"

// Backend calls the chat completions API.
type Backend struct {
	client openai.Client
}

// New creates a backend. baseURL is optional; leave it empty for the
// public API. SDK-level retries are disabled because the router owns
// retry policy.
func New(apiKey, baseURL string) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Backend{client: openai.NewClient(opts...)}, nil
}

// Name identifies this backend.
func (b *Backend) Name() string { return providerName }

// Complete performs one chat completion call.
func (b *Backend) Complete(ctx context.Context, req modelbackend.Request) (*modelbackend.Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(req.Model),
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
		Temperature:         openai.Float(req.Temperature),
		Messages:            messages,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: response had no choices", modelbackend.ErrServerUnavailable)
	}

	return &modelbackend.Response{
		Text:      completion.Choices[0].Message.Content,
		TokensIn:  completion.Usage.PromptTokens,
		TokensOut: completion.Usage.CompletionTokens,
	}, nil
}

// classify maps provider errors onto the port's error classes so the
// router can pick retry behavior without knowing wire formats.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", modelbackend.ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", modelbackend.ErrServerUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", modelbackend.ErrInvalidRequest, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", modelbackend.ErrServerUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", modelbackend.ErrServerUnavailable, err)
	}
	return err
}
