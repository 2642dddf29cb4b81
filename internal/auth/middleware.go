// Package auth provides HTTP middleware for bearer token authentication of
// the MCP endpoint.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// NewAuthMiddleware returns an HTTP middleware that enforces bearer token
// authentication. An empty token disables authentication.
//
// When enabled, requests must carry
//
//	Authorization: Bearer <token>
//
// with a case-sensitive prefix and exactly one space. Anything else is
// answered with 401 and logged at warn level with the reason and remote
// address; the token itself is never logged. A nil logger is replaced with a
// no-op logger.
func NewAuthMiddleware(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")
	want := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if reason := checkBearer(r.Header.Get("Authorization"), want); reason != "" {
				logger.Warn("rejected request",
					zap.String("reason", reason),
					zap.String("remote", r.RemoteAddr),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkBearer returns the rejection reason, or "" when header carries want.
func checkBearer(header string, want []byte) string {
	if header == "" {
		return "missing authorization header"
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "malformed authorization header"
	}
	provided := header[len(bearerPrefix):]
	if provided == "" {
		return "empty bearer token"
	}
	if subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
		return "invalid bearer token"
	}
	return ""
}
