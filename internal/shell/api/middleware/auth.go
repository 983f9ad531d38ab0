// Package middleware provides HTTP middleware for the bakery API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// =============================================================================
// Token Auth Middleware
// =============================================================================

// AuthConfig holds configuration for the token auth middleware.
type AuthConfig struct {
	// Token is the static bearer token required on every request.
	// If empty, auth is disabled; this is the default for local use.
	Token string

	// Logger for auth middleware logging.
	Logger *slog.Logger
}

// TokenAuth guards routes with a static bearer token. Requests must carry
// "Authorization: Bearer <token>"; the legacy X-API-Token header is also
// accepted.
type TokenAuth struct {
	config AuthConfig
}

// NewTokenAuth creates a new token auth middleware with the given config.
func NewTokenAuth(cfg AuthConfig) *TokenAuth {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenAuth{config: cfg}
}

// Handler returns the middleware handler function.
func (m *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if requestToken(r) != m.config.Token {
			m.config.Logger.Warn("rejected request with missing or invalid API token",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
				"method", r.Method,
			)
			writeAuthError(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestToken extracts the bearer token from a request.
func requestToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return r.Header.Get("X-API-Token")
}

// =============================================================================
// JSON Error Response
// =============================================================================

// authErrorResponse mirrors the API's error envelope. Defined locally so the
// middleware package does not import the api package it wraps.
type authErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeAuthError writes the 401 response for rejected requests.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(authErrorResponse{
		Error: "invalid or missing API token",
		Code:  "unauthorized",
	})
}
