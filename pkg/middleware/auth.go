package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/JaimeStill/compass/pkg/handlers"
)

// AuthConfig holds OIDC bearer token settings.
type AuthConfig struct {
	Enabled     bool     `toml:"enabled"`
	Issuer      string   `toml:"issuer"`
	ClientID    string   `toml:"client_id"`
	PublicPaths []string `toml:"public_paths"`
}

// AuthEnv maps auth config fields to environment variable names for override injection.
type AuthEnv struct {
	Enabled  string
	Issuer   string
	ClientID string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *AuthConfig) Finalize(env *AuthEnv) error {
	if len(c.PublicPaths) == 0 {
		c.PublicPaths = []string{"/healthz", "/readyz"}
	}
	if env != nil {
		c.loadEnv(env)
	}
	if !c.Enabled {
		return nil
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer required when auth is enabled")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id required when auth is enabled")
	}
	return nil
}

// Merge overwrites fields from overlay. Enabled always applies.
func (c *AuthConfig) Merge(overlay *AuthConfig) {
	c.Enabled = overlay.Enabled
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.ClientID != "" {
		c.ClientID = overlay.ClientID
	}
	if overlay.PublicPaths != nil {
		c.PublicPaths = overlay.PublicPaths
	}
}

func (c *AuthConfig) loadEnv(env *AuthEnv) {
	envBool(env.Enabled, &c.Enabled)
	if v := lookup(env.Issuer); v != "" {
		c.Issuer = v
	}
	if v := lookup(env.ClientID); v != "" {
		c.ClientID = v
	}
}

// Claims identify the caller of an authenticated request.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys and verifies tokens issued to
// the configured client.
func NewOIDCVerifier(ctx context.Context, cfg *AuthConfig) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &oidcVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Claims{}, err
	}

	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("decode claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = token.Subject
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFromContext returns the claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

var errUnauthorized = errors.New("unauthorized")

// Auth returns middleware that requires a valid bearer token on every path
// except publicPaths.
func Auth(verifier TokenVerifier, publicPaths []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(publicPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				handlers.RespondError(w, logger, http.StatusUnauthorized, errUnauthorized)
				return
			}

			claims, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				logger.Warn("token rejected", "uri", r.URL.RequestURI(), "error", err)
				handlers.RespondError(w, logger, http.StatusUnauthorized, errUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
