// Package middleware holds the HTTP middleware of the gateway: request ids,
// caller identification, request logging and admission control.
package middleware

import (
	"net/http"
	"strings"

	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/common/utils"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/quota"
)

const HeaderRequestID = "X-Request-ID"

// RequestID propagates the incoming X-Request-ID or assigns a new one, and
// echoes it on the response
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if requestID == "" || len(requestID) > 128 {
			requestID = utils.NewRequestID()
			r.Header.Set(HeaderRequestID, requestID)
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identify resolves the caller once per request and stores it in the
// context, together with the caller key for logging and the token's plan
func Identify(resolver *identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolver.Resolve(r)

			ctx := identity.WithIdentity(r.Context(), id)
			ctx = logging.ContextWithCaller(ctx, id.Key)
			if id.Plan != "" {
				ctx = quota.ContextWithPlan(ctx, id.Plan)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
