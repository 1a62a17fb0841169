package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client talks to the daemon's control socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Send sends req and waits for the response. A response with status
// "error" is returned as is; only transport failures are errors.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.Type != MessageTypeResponse {
		return nil, fmt.Errorf("invalid response type: %s", resp.Type)
	}

	return &resp, nil
}

// ListSessions returns the daemon's HTTP sessions.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := c.Send(ctx, &Request{Type: MessageTypeListSessions})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return nil, errors.New(resp.Error)
	}
	return resp.Sessions, nil
}

// RevokeSession revokes the session whose ID is or starts with id and
// returns the full ID revoked.
func (c *Client) RevokeSession(ctx context.Context, id string) (string, error) {
	resp, err := c.Send(ctx, &Request{Type: MessageTypeRevokeSession, SessionID: id})
	if err != nil {
		return "", err
	}
	if resp.Status != StatusOK {
		return "", errors.New(resp.Error)
	}
	return resp.Revoked, nil
}

// SetTimeout sets the connection timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}
