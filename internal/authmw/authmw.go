// Package authmw provides HTTP middleware that maps bearer tokens to users.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey struct{}

type credential struct {
	token []byte
	user  string
}

// Tokens returns middleware that accepts any configured bearer token and
// stores the matching user in the request context. Every token is compared
// in constant time.
func Tokens(tokens map[string]string) func(http.Handler) http.Handler {
	creds := make([]credential, 0, len(tokens))
	for tok, user := range tokens {
		if tok == "" || user == "" {
			continue
		}
		creds = append(creds, credential{token: []byte(tok), user: user})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}
			got := []byte(auth[len("Bearer "):])

			user := ""
			for _, c := range creds {
				if subtle.ConstantTimeCompare(got, c.token) == 1 {
					user = c.user
				}
			}
			if user == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns ctx carrying the authenticated user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok && u != ""
}
