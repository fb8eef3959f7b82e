package authz

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/rolegate/rolegate/internal/rbac"
)

// SessionClaims is the request-time identity: the provider-issued subject
// and the mirrored role claims embedded in the session token.
type SessionClaims struct {
	Subject string
	Roles   []rbac.Claim
}

type claimsContextKey struct{}

// ContextWithClaims stores the session claims in context.
func ContextWithClaims(ctx context.Context, claims SessionClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts the session claims from context.
func ClaimsFromContext(ctx context.Context) (SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(SessionClaims)
	return claims, ok
}

// TokenVerifier validates a raw session token and extracts its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (SessionClaims, error)
}

// OIDCVerifier validates provider-issued session JWTs against the issuer's
// published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds a verifier. An empty
// clientID skips the audience check, for providers that do not set one on
// session tokens.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("authz: discover issuer: %w", err)
	}
	cfg := &oidc.Config{ClientID: clientID}
	if clientID == "" {
		cfg.SkipClientIDCheck = true
	}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

// Verify checks the token signature and expiry, then decodes the mirrored
// role claims from the token's metadata field.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (SessionClaims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return SessionClaims{}, fmt.Errorf("authz: verify token: %w", err)
	}
	var payload struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := token.Claims(&payload); err != nil {
		return SessionClaims{}, fmt.Errorf("authz: decode claims: %w", err)
	}
	roles, err := rbac.ClaimsFromMetadata(payload.Metadata)
	if err != nil {
		return SessionClaims{}, fmt.Errorf("authz: decode claims: %w", err)
	}
	return SessionClaims{Subject: token.Subject, Roles: roles}, nil
}
