package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// PendingLoginTTL bounds how long a browser may take at the provider.
const PendingLoginTTL = 10 * time.Minute

// PendingLogin is the state kept in the browser's HTTP session between the
// redirect to the provider and the callback.
type PendingLogin struct {
	// State is the OIDC state parameter for CSRF protection
	State string `json:"state"`

	// CodeVerifier is the PKCE code verifier sent with the code exchange.
	CodeVerifier string `json:"verifier"`

	// Next is where to send the browser after logon.
	Next string `json:"next,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// Expired reports whether the login was started more than PendingLoginTTL
// before now.
func (p *PendingLogin) Expired(now time.Time) bool {
	return now.Sub(p.StartedAt) > PendingLoginTTL
}

// Encode serialises the pending login for storage as a session attribute.
func (p *PendingLogin) Encode() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// DecodePendingLogin parses a value produced by Encode.
func DecodePendingLogin(raw string) (*PendingLogin, error) {
	if raw == "" {
		return nil, fmt.Errorf("no pending login")
	}
	var p PendingLogin
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("invalid pending login: %w", err)
	}
	if p.State == "" || p.CodeVerifier == "" {
		return nil, fmt.Errorf("incomplete pending login")
	}
	return &p, nil
}

// TokenData contains the claims returned from the OIDC provider.
type TokenData struct {
	// Claims are the ID token claims, plus role claims merged from the
	// access token.
	Claims map[string]interface{}

	// Expiry is when the access token expires
	Expiry time.Time
}

// StartAuthFlow begins a login that returns to next. It returns the state to
// keep in the HTTP session and the provider URL to redirect the browser to.
func (p *Provider) StartAuthFlow(_ context.Context, next string) (*PendingLogin, string, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate code verifier: %w", err)
	}

	state, err := generateState()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate state: %w", err)
	}

	authURL := p.oauth2Config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	return &PendingLogin{
		State:        state,
		CodeVerifier: verifier,
		Next:         next,
		StartedAt:    time.Now(),
	}, authURL, nil
}

// ExchangeCode exchanges an authorization code for tokens using the PKCE
// verifier. The ID token is verified before its claims are returned.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenData, error) {
	token, err := p.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	// Keycloak puts realm_access and resource_access in the access token only.
	mergeAccessTokenClaims(token.AccessToken, claims)

	return &TokenData{
		Claims: claims,
		Expiry: token.Expiry,
	}, nil
}

// mergeAccessTokenClaims copies role-related claims from a JWT access token
// into dst where dst lacks them. Opaque access tokens are skipped.
func mergeAccessTokenClaims(accessToken string, dst map[string]interface{}) {
	if accessToken == "" {
		return
	}

	atClaims, err := decodeJWTPayload(accessToken)
	if err != nil {
		slog.Debug("could not decode access token as JWT (may be opaque)", "error", err)
		return
	}

	for _, key := range []string{"resource_access", "realm_access", "groups"} {
		if _, exists := dst[key]; !exists {
			if val, ok := atClaims[key]; ok {
				dst[key] = val
				slog.Debug("merged claim from access token", "claim", key)
			}
		}
	}
}

// decodeJWTPayload decodes the payload segment of a JWT without verifying
// it. Only use it on tokens received directly from the token endpoint.
func decodeJWTPayload(token string) (map[string]interface{}, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a valid JWT: expected 3 parts, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}

	return claims, nil
}

// generateCodeVerifier returns 32 random bytes as base64url (43 characters,
// within RFC 7636's 43-128).
func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generateCodeChallenge implements S256: BASE64URL(SHA256(verifier)).
func generateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
