// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// healthPath is exempt from auth so load balancers can probe liveness
// without credentials.
const healthPath = "/api/v1/health"

// authMiddleware enforces a static bearer token on every request. An
// empty token disables enforcement, which is only sane for localhost
// listeners; a warning is logged once at construction.
func authMiddleware(token string) func(http.Handler) http.Handler {
	if token == "" {
		slog.Warn("admin API auth disabled: no auth token configured")
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Debug("rejected unauthorized admin request",
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
