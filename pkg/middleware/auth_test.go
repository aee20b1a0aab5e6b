package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/pkg/middleware"
)

type staticVerifier map[string]middleware.Claims

func (v staticVerifier) Verify(_ context.Context, raw string) (middleware.Claims, error) {
	c, ok := v[raw]
	if !ok {
		return middleware.Claims{}, errors.New("bad token")
	}
	return c, nil
}

func TestAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := staticVerifier{"good": {Subject: "analyst-7"}}

	var subject string
	handler := middleware.Auth(verifier, []string{"/healthz"}, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, ok := middleware.ClaimsFromContext(r.Context()); ok {
				subject = c.Subject
			}
			w.WriteHeader(http.StatusOK)
		}),
	)

	tests := []struct {
		name    string
		path    string
		header  string
		status  int
		subject string
	}{
		{"public path", "/healthz", "", http.StatusOK, ""},
		{"missing token", "/api/workflow", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/workflow", "Basic good", http.StatusUnauthorized, ""},
		{"rejected token", "/api/workflow", "Bearer bad", http.StatusUnauthorized, ""},
		{"valid token", "/api/workflow", "Bearer good", http.StatusOK, "analyst-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

func TestAuthConfigFinalize(t *testing.T) {
	cfg := &middleware.AuthConfig{}
	require.NoError(t, cfg.Finalize(nil))
	assert.Equal(t, []string{"/healthz", "/readyz"}, cfg.PublicPaths)

	t.Setenv("TEST_AUTH_ENABLED", "true")
	t.Setenv("TEST_AUTH_ISSUER", "https://login.example.com")
	env := &middleware.AuthEnv{Enabled: "TEST_AUTH_ENABLED", Issuer: "TEST_AUTH_ISSUER", ClientID: "TEST_AUTH_CLIENT"}

	cfg = &middleware.AuthConfig{}
	assert.ErrorContains(t, cfg.Finalize(env), "client_id")

	t.Setenv("TEST_AUTH_CLIENT", "compass")
	cfg = &middleware.AuthConfig{}
	require.NoError(t, cfg.Finalize(env))
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "compass", cfg.ClientID)
}
