package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// BearerAuth validates a static bearer token on every request. An
// empty configured token disables authentication entirely (local
// development). WebSocket clients cannot set headers, so /ws also
// accepts the token via ?token= query parameter.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			presented := ""
			if header := r.Header.Get("Authorization"); header != "" {
				presented = strings.TrimPrefix(header, "Bearer ")
				if presented == header {
					unauthorized(w, "invalid authorization header")
					return
				}
			} else if r.URL.Path == "/ws" {
				presented = r.URL.Query().Get("token")
			}

			if presented == "" {
				unauthorized(w, "authorization required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
