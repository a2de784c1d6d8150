// Package auth guards state-changing API routes with a static bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// publicRoute matches requests that never need a token. An empty method
// matches every method; a path ending in "/" matches by prefix.
type publicRoute struct {
	method string
	path   string
}

var publicRoutes = []publicRoute{
	{"", "/healthz"},
	{"", "/readyz"},
	{"", "/metrics"},
	{http.MethodGet, "/api/v1/catalog/metadata"},
	{http.MethodGet, "/api/v1/view"},
	{http.MethodGet, "/api/v1/diagnostics"},
	{http.MethodGet, "/api/v1/scene"},
	{http.MethodGet, "/api/v1/stream"},
	{http.MethodGet, "/api/v1/satellites/"},
}

func (p publicRoute) matches(r *http.Request) bool {
	if p.method != "" && p.method != r.Method && !(p.method == http.MethodGet && r.Method == http.MethodHead) {
		return false
	}
	if strings.HasSuffix(p.path, "/") {
		return strings.HasPrefix(r.URL.Path, p.path)
	}
	return r.URL.Path == p.path
}

func isPublic(r *http.Request) bool {
	for _, p := range publicRoutes {
		if p.matches(r) {
			return true
		}
	}
	return false
}

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware enforces the bearer token on every non-public request when
// auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="heavensat"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
