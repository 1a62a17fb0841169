package oidc

import (
	"fmt"
	"strings"

	"github.com/al-bashkir/sessiongate/internal/config"
)

// Identity is the user a verified ID token describes.
type Identity struct {
	UserName string
	Roles    []string
}

// Validator turns verified claims into an Identity and enforces required
// roles. Signature and standard claims are checked by go-oidc beforehand.
type Validator struct {
	cfg *config.OIDCConfig
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *config.OIDCConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Identify extracts the username and roles from claims. When required roles
// are configured the user must hold at least one of them.
func (v *Validator) Identify(claims map[string]interface{}) (*Identity, error) {
	username, err := getClaimString(claims, v.cfg.UsernameClaim)
	if err != nil {
		return nil, fmt.Errorf("username claim '%s' not found: %w", v.cfg.UsernameClaim, err)
	}
	if username == "" {
		return nil, fmt.Errorf("username claim '%s' is empty", v.cfg.UsernameClaim)
	}

	var roles []string
	if v.cfg.RoleClaim != "" {
		roles, err = getRolesFromClaim(claims, v.cfg.RoleClaim)
		if err != nil && len(v.cfg.RequiredRoles) > 0 {
			return nil, fmt.Errorf("failed to extract roles: %w", err)
		}
	}

	if err := v.checkRequiredRoles(roles); err != nil {
		return nil, err
	}

	return &Identity{UserName: username, Roles: roles}, nil
}

func (v *Validator) checkRequiredRoles(roles []string) error {
	if len(v.cfg.RequiredRoles) == 0 {
		return nil
	}
	for _, required := range v.cfg.RequiredRoles {
		if containsRole(roles, required) {
			return nil
		}
	}
	return fmt.Errorf("user does not have required roles: %v (user roles: %v)", v.cfg.RequiredRoles, roles)
}

// getClaimString extracts a string claim, supporting dot notation for nested claims.
func getClaimString(claims map[string]interface{}, path string) (string, error) {
	value, err := getNestedClaim(claims, path)
	if err != nil {
		return "", err
	}

	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("claim '%s' is not a string", path)
	}

	return str, nil
}

// getRolesFromClaim extracts roles as a slice of strings.
// Handles both []string and []interface{} types.
func getRolesFromClaim(claims map[string]interface{}, path string) ([]string, error) {
	value, err := getNestedClaim(claims, path)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, role := range v {
			if str, ok := role.(string); ok {
				roles = append(roles, str)
			}
		}
		return roles, nil
	default:
		return nil, fmt.Errorf("claim '%s' is not a string array", path)
	}
}

// getNestedClaim retrieves a claim using dot notation, e.g. "realm_access.roles".
func getNestedClaim(claims map[string]interface{}, path string) (interface{}, error) {
	parts := strings.Split(path, ".")

	var current interface{} = claims
	for i, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("claim path '%s' not found at level %d (%s)", path, i, part)
		}

		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("claim '%s' not found in path '%s'", part, path)
		}
	}

	return current, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
