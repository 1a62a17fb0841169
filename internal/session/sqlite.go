package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a SQLite database so they survive restarts.
type SQLiteStore struct {
	db            *sql.DB
	logger        *slog.Logger
	timeout       time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string, timeout time.Duration) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "session_store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS http_sessions (
			id         TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_http_sessions_expires ON http_sessions(expires_at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteStore{
		db:            db,
		logger:        logger,
		timeout:       timeout,
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go cleanupLoop(s.cleanupTicker, s.stopCleanup, s.cleanup)

	logger.Info("SQLite session store initialized", "path", path)
	return s, nil
}

// Create inserts a new empty session.
func (s *SQLiteStore) Create(ctx context.Context) (*Session, error) {
	sess, err := newSession(s.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	if err := s.upsert(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, expires_at FROM http_sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.Expired(time.Now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// Save writes the session and slides its expiry forward.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session has no ID")
	}
	sess.ExpiresAt = time.Now().Add(s.timeout)
	return s.upsert(ctx, sess)
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM http_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// List returns all live sessions.
func (s *SQLiteStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, created_at, expires_at FROM http_sessions WHERE expires_at > ? ORDER BY created_at`,
		formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close stops the cleanup goroutine and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) upsert(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("encoding session data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO http_sessions (id, data, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		sess.ID, string(data), formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt))
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// cleanup deletes expired rows.
func (s *SQLiteStore) cleanup() {
	res, err := s.db.Exec(`DELETE FROM http_sessions WHERE expires_at <= ?`, formatTime(time.Now()))
	if err != nil {
		s.logger.Error("failed to clean up expired sessions", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("cleaned up expired sessions", "store", "sqlite", "count", n)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess               Session
		data               string
		createdAt, expires string
	)
	if err := row.Scan(&sess.ID, &data, &createdAt, &expires); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &sess.Data); err != nil {
		return nil, fmt.Errorf("decoding session data: %w", err)
	}
	if sess.Data == nil {
		sess.Data = make(map[string]string)
	}
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, expires); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &sess, nil
}

// formatTime renders times in UTC so lexical comparison in SQL matches
// chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
