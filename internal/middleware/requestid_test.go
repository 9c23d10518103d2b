package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/circadianhq/circadian/internal/logger"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var ctxID string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ctxID == "" {
		t.Fatal("expected generated request ID in context")
	}
	if len(ctxID) != 36 {
		t.Errorf("expected UUID-shaped ID, got %q", ctxID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != ctxID {
		t.Errorf("response header %q does not match context ID %q", got, ctxID)
	}
}

func TestRequestIDEchoesClientID(t *testing.T) {
	var ctxID string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ctxID != "client-supplied" {
		t.Errorf("expected client ID preserved, got %q", ctxID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("expected client ID echoed, got %q", got)
	}
}
