package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps sessions in-memory with TTL-based cleanup.
// It is thread-safe and supports concurrent access.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	timeout       time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates a store whose sessions expire after timeout of inactivity.
// It starts a background cleanup goroutine that runs every minute.
func NewMemoryStore(timeout time.Duration) *MemoryStore {
	m := &MemoryStore{
		sessions:      make(map[string]*Session),
		timeout:       timeout,
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go cleanupLoop(m.cleanupTicker, m.stopCleanup, m.cleanup)

	return m
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.stopCleanup)
	})
	return nil
}

// Create creates and stores a new empty session.
func (m *MemoryStore) Create(_ context.Context) (*Session, error) {
	s, err := newSession(m.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s.clone(), nil
}

// Get retrieves a copy of the session by its ID.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	if s.Expired(time.Now()) {
		return nil, ErrExpired
	}

	return s.clone(), nil
}

// Save stores the session and slides its expiry forward.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session has no ID")
	}
	stored := s.clone()
	stored.ExpiresAt = time.Now().Add(m.timeout)

	m.mu.Lock()
	m.sessions[s.ID] = stored
	m.mu.Unlock()

	s.ExpiresAt = stored.ExpiresAt
	return nil
}

// Delete removes a session from the store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// List returns copies of all live sessions.
func (m *MemoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Expired(now) {
			out = append(out, s.clone())
		}
	}
	return out, nil
}

// Count returns the current number of stored sessions, expired or not.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
