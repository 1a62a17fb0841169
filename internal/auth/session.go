// Package auth implements authentication sessions and the strategies the
// request gate uses to find a valid one for an incoming request.
package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Method records how an authentication session was established.
type Method string

const (
	MethodPassword Method = "password"
	MethodOIDC     Method = "oidc"
	MethodBearer   Method = "bearer"
	MethodFixture  Method = "fixture"
)

// Session is an authentication session: a verified identity plus a
// validation code that can be revoked.
type Session struct {
	UserName  string    `json:"user"`
	Roles     []string  `json:"roles,omitempty"`
	Code      string    `json:"code"`
	Method    Method    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasRole reports whether the session carries role.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Expired reports whether the session has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// encode serialises the session for the HTTP-session store.
func (s *Session) encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSession(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Caching controls whether a found authentication session is cached in the
// client's HTTP session.
type Caching int

const (
	CachingNone Caching = iota
	CachingHTTPSession
)

// ParseCaching parses the cacheAuthSessionOnHttpSession parameter.
// The empty string means no caching.
func ParseCaching(v string) (Caching, error) {
	if v == "" {
		return CachingNone, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return CachingNone, fmt.Errorf("invalid caching value %q: must be true or false", v)
	}
	if b {
		return CachingHTTPSession, nil
	}
	return CachingNone, nil
}

func (c Caching) String() string {
	switch c {
	case CachingHTTPSession:
		return "http_session"
	default:
		return "none"
	}
}
