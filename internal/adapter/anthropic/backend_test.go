package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/circadianhq/circadian/internal/port/modelbackend"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestComplete_JoinsTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_test",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "Morning walk "},
				{"type": "text", "text": "photos are the best."}
			],
			"usage": {"input_tokens": 57, "output_tokens": 12}
		}`))
	}))
	defer srv.Close()

	b, err := New("test-key", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := b.Complete(context.Background(), modelbackend.Request{
		Model:       "claude-sonnet-4-20250514",
		System:      "Write one short reply.",
		Prompt:      "A post about morning walks.",
		MaxTokens:   64,
		Temperature: 0.8,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Morning walk photos are the best." {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.TokensIn != 57 || resp.TokensOut != 12 {
		t.Errorf("tokens = %d/%d, want 57/12", resp.TokensIn, resp.TokensOut)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "overloaded"}}`))
	}))
	defer srv.Close()

	b, err := New("test-key", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = b.Complete(context.Background(), modelbackend.Request{Model: "claude-haiku", Prompt: "x", MaxTokens: 8})
	if !errors.Is(err, modelbackend.ErrServerUnavailable) {
		t.Errorf("error = %v, want ErrServerUnavailable", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"429", &anthropicsdk.Error{StatusCode: http.StatusTooManyRequests}, modelbackend.ErrRateLimited},
		{"529", &anthropicsdk.Error{StatusCode: 529}, modelbackend.ErrServerUnavailable},
		{"400", &anthropicsdk.Error{StatusCode: http.StatusBadRequest}, modelbackend.ErrInvalidRequest},
		{"deadline", context.DeadlineExceeded, modelbackend.ErrServerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
