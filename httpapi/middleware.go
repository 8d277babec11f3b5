package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"escrowflow/auth"
)

type ctxKey int

const principalKey ctxKey = iota

// TokenVerifier checks a bearer token and returns the caller's identity.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Principal, error)
}

// RequestID tags every request with an identifier, honoring one supplied by
// an upstream proxy.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Authenticate rejects requests without a valid bearer token and attaches the
// resulting principal to the request context.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			p, err := v.VerifyToken(token)
			if err != nil {
				writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom extracts the authenticated identity set by Authenticate.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}
