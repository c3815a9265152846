// Package auth guards the gateway's write routes with API keys.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bturcanu/georisk/pkg/types"
)

type contextKey string

const clientKey contextKey = "client_id"

// Anonymous is the client ID given to requests that were let through
// without a key.
const Anonymous = "anonymous"

// ClientFromContext returns the authenticated client ID, if any.
func ClientFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clientKey).(string)
	return v
}

// WithClient stores a client ID on ctx.
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientKey, clientID)
}

type Options struct {
	// SkipPaths are served without a key.
	SkipPaths []string
	// OpenReads lets GET, HEAD and OPTIONS through without a key. A key that
	// is presented is still checked.
	OpenReads bool
}

func keyFromRequest(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// APIKeyAuth validates X-API-Key or a bearer token and records the client ID.
// An empty key store disables the check.
func APIKeyAuth(keys *KeyStore, opts Options) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(opts.SkipPaths)+2)
	skip["/healthz"] = true
	skip["/readyz"] = true
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || keys.Len() == 0 {
				next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), Anonymous)))
				return
			}

			apiKey := keyFromRequest(r)
			if apiKey == "" {
				if opts.OpenReads && isRead(r.Method) {
					next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), Anonymous)))
					return
				}
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}

			clientID, ok := keys.Lookup(apiKey)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), clientID)))
		})
	}
}
