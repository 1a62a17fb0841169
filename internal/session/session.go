// Package session provides the server-side HTTP-session store.
// An HTTP session is keyed by a cookie and is where authentication sessions
// are cached between requests when caching is enabled on the gate.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Errors returned by Store implementations.
var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

// Session is a single client's server-side state.
type Session struct {
	// ID is a unique identifier for this session (64-char hex string)
	ID string `json:"id"`

	// Data holds string attributes, e.g. the cached authentication session
	// or an in-flight OIDC state.
	Data map[string]string `json:"data"`

	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is pushed forward every time the session is saved.
	ExpiresAt time.Time `json:"expires_at"`
}

// Get returns the attribute stored under key, or "".
func (s *Session) Get(key string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[key]
}

// Set stores an attribute.
func (s *Session) Set(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// Remove deletes an attribute.
func (s *Session) Remove(key string) {
	delete(s.Data, key)
}

// Expired reports whether the session has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	c := *s
	c.Data = make(map[string]string, len(s.Data))
	for k, v := range s.Data {
		c.Data[k] = v
	}
	return &c
}

// Store persists HTTP sessions. Implementations are safe for concurrent use.
type Store interface {
	// Create allocates a new, empty session.
	Create(ctx context.Context) (*Session, error)

	// Get returns the session with the given ID.
	// It returns ErrNotFound or ErrExpired when there is no live session.
	Get(ctx context.Context, id string) (*Session, error)

	// Save persists the session and extends its expiry.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all live sessions.
	List(ctx context.Context) ([]*Session, error)

	// Close releases resources held by the store.
	Close() error
}

// generateSessionID generates a cryptographically secure random session ID.
// The ID is 64 hex characters (32 random bytes).
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newSession(timeout time.Duration) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:        id,
		Data:      make(map[string]string),
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
	}, nil
}
