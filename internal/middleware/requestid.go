// Package middleware provides HTTP middleware for the status API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/circadianhq/circadian/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags each request with the caller-supplied X-Request-ID, or
// a fresh UUID when the header is absent. The ID travels in the context
// for log correlation and is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
