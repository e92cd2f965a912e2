// Package identity derives the caller key used by every limiter
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/common/logging"
)

// Identity describes the caller of one request. Key is "user:<subject>" for
// callers with a valid token and "ip:<addr>" otherwise.
type Identity struct {
	Key           string
	Authenticated bool
	Subject       string
	Plan          string
}

// Resolver derives identities from the forwarded headers set by the proxy
// in front of the gateway, or from the connection address
type Resolver struct {
	auth   *auth.Auth
	logger logging.Logger
}

// NewResolver creates a resolver. With a nil verifier every caller is
// identified by address.
func NewResolver(verifier *auth.Auth, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Resolver{auth: verifier, logger: logger}
}

func (r *Resolver) Resolve(req *http.Request) Identity {
	if token := auth.BearerToken(req); token != "" && r.auth != nil {
		claims, err := r.auth.ValidateJWT(token)
		if err == nil {
			return Identity{
				Key:           "user:" + claims.Caller(),
				Authenticated: true,
				Subject:       claims.Caller(),
				Plan:          claims.Plan,
			}
		}
		r.logger.WithContext(req.Context()).Debug("Ignoring invalid bearer token",
			logging.String("path", req.URL.Path),
			logging.Err(err),
		)
	}

	return Identity{Key: "ip:" + ClientIP(req)}
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then the
// connection address without its port
func ClientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

type contextKey struct{}

// WithIdentity stores id in ctx for the handlers behind the admission chain
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
