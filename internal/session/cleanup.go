package session

import (
	"log/slog"
	"time"
)

// cleanupLoop runs sweep on every tick until stop is closed.
func cleanupLoop(ticker *time.Ticker, stop <-chan struct{}, sweep func()) {
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-stop:
			return
		}
	}
}

// cleanup removes all expired sessions from the memory store.
func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expiredCount := 0

	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		slog.Info("cleaned up expired sessions", "store", "memory", "count", expiredCount)
	}
}
