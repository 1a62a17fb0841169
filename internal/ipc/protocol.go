// Package ipc implements the operator control socket: newline-delimited JSON
// requests over a Unix socket for inspecting and revoking HTTP sessions.
package ipc

import "time"

// MessageType represents the type of IPC message
type MessageType string

const (
	// MessageTypeListSessions asks for the cached HTTP sessions.
	MessageTypeListSessions MessageType = "list_sessions"
	// MessageTypeRevokeSession asks for one HTTP session to be revoked.
	MessageTypeRevokeSession MessageType = "revoke_session"
	// MessageTypeResponse is sent back for every request.
	MessageTypeResponse MessageType = "response"
)

// Request is sent from the CLI to the daemon.
type Request struct {
	Type MessageType `json:"type"`

	// SessionID is the full ID, or a unique prefix of at least
	// MinSessionIDPrefix characters, of the session to revoke.
	SessionID string `json:"session_id,omitempty"`
}

// MinSessionIDPrefix is the shortest accepted session ID prefix.
const MinSessionIDPrefix = 8

// SessionInfo describes one HTTP session. User and Method are empty for a
// session that carries no authentication.
type SessionInfo struct {
	ID        string    `json:"id"`
	User      string    `json:"user,omitempty"`
	Method    string    `json:"method,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Response is sent from the daemon back to the CLI.
type Response struct {
	Type     MessageType   `json:"type"`
	Status   string        `json:"status"` // "ok" or "error"
	Sessions []SessionInfo `json:"sessions,omitempty"`
	Revoked  string        `json:"revoked,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ResponseStatus constants
const (
	StatusOK    = "ok"
	StatusError = "error"
)
