package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/al-bashkir/sessiongate/internal/config"
)

// Authentication errors
var (
	ErrUnknownUser        = errors.New("unknown user")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// dummyHash is compared against when the user is unknown so that both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sessiongate-dummy"), bcrypt.MinCost)

type user struct {
	name  string
	hash  []byte
	roles []string
}

// Manager authenticates users and decides whether an authentication session
// is still valid. Revoked codes are remembered until the session they belong
// to would have expired anyway.
type Manager struct {
	mu      sync.RWMutex
	users   map[string]user
	revoked map[string]time.Time // code -> expiry of the revoked session
	timeout time.Duration
	now     func() time.Time
}

// NewManager creates a manager for the configured users.
// Sessions it mints expire after timeout.
func NewManager(users []config.UserConfig, timeout time.Duration) *Manager {
	m := &Manager{
		users:   make(map[string]user, len(users)),
		revoked: make(map[string]time.Time),
		timeout: timeout,
		now:     time.Now,
	}
	for _, u := range users {
		m.users[u.Name] = user{
			name:  u.Name,
			hash:  []byte(u.PasswordHash),
			roles: append([]string(nil), u.Roles...),
		}
	}
	return m
}

// Authenticate verifies a user's password and returns a new session.
func (m *Manager) Authenticate(_ context.Context, name, password string) (*Session, error) {
	m.mu.RLock()
	u, ok := m.users[name]
	m.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrUnknownUser
	}

	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return m.NewSession(u.name, u.roles, MethodPassword), nil
}

// NewSession mints a session for an identity verified elsewhere.
func (m *Manager) NewSession(name string, roles []string, method Method) *Session {
	now := m.now()
	return &Session{
		UserName:  name,
		Roles:     append([]string(nil), roles...),
		Code:      uuid.NewString(),
		Method:    method,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
	}
}

// IsSessionValid reports whether s is non-nil, unexpired and not revoked.
// Password sessions additionally require the user to still be configured.
func (m *Manager) IsSessionValid(s *Session) bool {
	if s == nil || s.UserName == "" || s.Code == "" {
		return false
	}
	if s.Expired(m.now()) {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, revoked := m.revoked[s.Code]; revoked {
		return false
	}
	if s.Method == MethodPassword {
		if _, ok := m.users[s.UserName]; !ok {
			return false
		}
	}
	return true
}

// Invalidate revokes the session with the given code, e.g. on logout.
func (m *Manager) Invalidate(s *Session) {
	if s == nil || s.Code == "" {
		return
	}
	expires := s.ExpiresAt
	if expires.IsZero() {
		expires = m.now().Add(m.timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.revoked[s.Code] = expires

	now := m.now()
	for code, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, code)
		}
	}
}

// Timeout returns the lifetime of sessions minted by the manager.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// HashPassword returns a bcrypt hash suitable for auth.users[].password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}
