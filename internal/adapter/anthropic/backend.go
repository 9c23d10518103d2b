// Package anthropic implements the model backend port on the Anthropic
// messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/circadianhq/circadian/internal/port/modelbackend"
)

const providerName = "anthropic"

// Backend calls the messages API.
type Backend struct {
	client anthropicsdk.Client
}

// New creates a backend. baseURL is optional. SDK-level retries are
// disabled because the router owns retry policy.
func New(apiKey, baseURL string) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Backend{client: anthropicsdk.NewClient(opts...)}, nil
}

// Name identifies this backend.
func (b *Backend) Name() string { return providerName }

// Complete performs one messages call. Text blocks are concatenated;
// other block types are ignored.
func (b *Backend) Complete(ctx context.Context, req modelbackend.Request) (*modelbackend.Response, error) {
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: param.NewOpt(req.Temperature),
		Messages: []anthropicsdk.MessageParam{{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(req.Prompt)},
		}},
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}

	return &modelbackend.Response{
		Text:      strings.Join(parts, ""),
		TokensIn:  msg.Usage.InputTokens,
		TokensOut: msg.Usage.OutputTokens,
	}, nil
}

// classify maps provider errors onto the port's error classes.
func classify(err error) error {
	var apiErr *anthropicsdk.Error
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
