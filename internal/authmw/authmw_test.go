package authmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

var testTokens = map[string]string{
	"alice-token-123": "alice",
	"bob-token-456":   "bob",
}

func TestTokens_ValidTokenSetsUser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token string
		want  string
	}{
		{"alice-token-123", "alice"},
		{"bob-token-456", "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			var got string
			h := Tokens(testTokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = UserFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
			}
			if got != tt.want {
				t.Errorf("user = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokens_Rejects(t *testing.T) {
	t.Parallel()

	h := Tokens(testTokens)(okHandler)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"lowercase scheme", "bearer alice-token-123"},
		{"bare token", "alice-token-123"},
		{"unknown token", "Bearer wrong-token"},
		{"token prefix", "Bearer alice-token"},
		{"token with suffix", "Bearer alice-token-123-extra"},
		{"empty bearer", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/priorities/surface", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if rec.Body.String() == "ok" {
				t.Error("request reached the handler")
			}
		})
	}
}

func TestTokens_IgnoresEmptyEntries(t *testing.T) {
	t.Parallel()

	h := Tokens(map[string]string{"": "ghost", "tok": ""})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestUserFromContext(t *testing.T) {
	t.Parallel()

	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("expected no user in plain context")
	}
	if _, ok := UserFromContext(WithUser(context.Background(), "")); ok {
		t.Error("expected empty user to report ok=false")
	}
	if u, ok := UserFromContext(WithUser(context.Background(), "carol")); !ok || u != "carol" {
		t.Errorf("user = %q/%v, want carol/true", u, ok)
	}
}
