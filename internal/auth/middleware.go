package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type ctxKey int

const claimsKey ctxKey = 1

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

type TokenParser interface {
	ParseAndValidate(tokenStr string) (*Claims, error)
}

// CSRFHeader carries the anti-forgery token echoed by the client. The
// reference value lives in the session claims.
const CSRFHeader = "X-CSRF-Token"

// SessionRequired checks the Bearer token and adds claims to the request
// context.
func SessionRequired(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := parser.ParseAndValidate(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// CSRFRequired rejects state-changing requests whose CSRF header does not
// match the token bound to the session.
func CSRFRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, "no auth context", http.StatusUnauthorized)
			return
		}
		got := r.Header.Get(CSRFHeader)
		if got == "" || claims.CSRF == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(claims.CSRF)) != 1 {
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MustClaims extracts session claims or fails early in handlers.
func MustClaims(r *http.Request) (*Claims, error) {
	if c, ok := FromContext(r.Context()); ok {
		return c, nil
	}
	return nil, errors.New("no claims")
}
