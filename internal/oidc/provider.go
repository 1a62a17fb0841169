// Package oidc implements browser logon through an OpenID Connect provider
// using the authorization code flow with PKCE.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/al-bashkir/sessiongate/internal/config"
)

// Provider wraps the OIDC provider and OAuth2 configuration.
// It handles provider discovery, token exchange, and ID token verification.
type Provider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	validator    *Validator
}

// NewProvider performs discovery via /.well-known/openid-configuration and
// prepares the OAuth2 client and ID token verifier.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes,
	}

	// Checks signature, issuer, audience and expiry.
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &Provider{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		validator:    NewValidator(cfg),
	}, nil
}

// CompleteLogin exchanges the authorization code of a pending login and
// returns the verified identity.
func (p *Provider) CompleteLogin(ctx context.Context, code string, pending *PendingLogin) (*Identity, error) {
	tokens, err := p.ExchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}
	return p.validator.Identify(tokens.Claims)
}
