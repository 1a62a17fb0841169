package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// socketPath returns a short socket path; t.TempDir paths can exceed the
// Unix socket path limit.
func socketPath(t *testing.T) string {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ipc-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	return filepath.Join(tmpDir, "test.sock")
}

func startServer(t *testing.T, handler RequestHandler) (*Server, string) {
	t.Helper()
	path := socketPath(t)

	server := NewServer(path, handler)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("server.Stop failed: %v", err)
		}
	})
	return server, path
}

func TestListSessions(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		if req.Type != MessageTypeListSessions {
			t.Errorf("handler got type %s", req.Type)
		}
		return &Response{
			Sessions: []SessionInfo{
				{ID: "aaaaaaaaaaaa", User: "sven", Method: "password", CreatedAt: created, ExpiresAt: created.Add(time.Hour)},
				{ID: "bbbbbbbbbbbb", CreatedAt: created, ExpiresAt: created.Add(time.Hour)},
			},
		}, nil
	})

	sessions, err := NewClient(path).ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}

	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].User != "sven" {
		t.Errorf("expected user sven, got %s", sessions[0].User)
	}
	if !sessions[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", sessions[0].CreatedAt, created)
	}
}

func TestRevokeSession(t *testing.T) {
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		if req.SessionID != "abcdef0123" {
			return &Response{Status: StatusError, Error: "session not found"}, nil
		}
		return &Response{Revoked: req.SessionID + "456"}, nil
	})
	client := NewClient(path)

	revoked, err := client.RevokeSession(context.Background(), "abcdef0123")
	if err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if revoked != "abcdef0123456" {
		t.Errorf("revoked = %q, want abcdef0123456", revoked)
	}

	_, err = client.RevokeSession(context.Background(), "0000000000")
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("expected session not found error, got %v", err)
	}
}

func TestRevokeSessionPrefixTooShort(t *testing.T) {
	called := false
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		called = true
		return &Response{}, nil
	})

	_, err := NewClient(path).RevokeSession(context.Background(), "abc")
	if err == nil || !strings.Contains(err.Error(), "at least") {
		t.Errorf("expected prefix length error, got %v", err)
	}
	if called {
		t.Error("handler should not be called for an invalid request")
	}
}

func TestServerHandlerError(t *testing.T) {
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("store unavailable")
	})

	resp, err := NewClient(path).Send(context.Background(), &Request{Type: MessageTypeListSessions})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Status != StatusError {
		t.Errorf("expected status error, got %s", resp.Status)
	}
	if resp.Error != "store unavailable" {
		t.Errorf("expected handler error message, got %q", resp.Error)
	}
}

func TestServerRejectsInvalidRequests(t *testing.T) {
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		t.Error("handler should not be called")
		return &Response{}, nil
	})

	resp, err := NewClient(path).Send(context.Background(), &Request{Type: "shutdown"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Status != StatusError || resp.Error != "invalid request type" {
		t.Errorf("unexpected response: %+v", resp)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatal(err)
	}
	var raw Response
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if raw.Error != "invalid request format" {
		t.Errorf("expected invalid request format, got %q", raw.Error)
	}
}

func TestClientConnectionFailure(t *testing.T) {
	client := NewClient("/nonexistent/path/test.sock")

	if _, err := client.ListSessions(context.Background()); err == nil {
		t.Error("expected error when connecting to non-existent socket")
	}
}

func TestServerSocketPermissions(t *testing.T) {
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{}, nil
	})

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat socket: %v", err)
	}

	expectedMode := os.FileMode(0600) | os.ModeSocket
	if info.Mode() != expectedMode {
		t.Errorf("expected socket mode %v, got %v", expectedMode, info.Mode())
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	path := socketPath(t)

	server := NewServer(path, func(ctx context.Context, req *Request) (*Response, error) {
		time.Sleep(200 * time.Millisecond)
		return &Response{}, nil
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := NewClient(path).ListSessions(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)

	if err := server.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	// Second stop is a no-op.
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}

	if err := <-done; err != nil {
		t.Errorf("in-flight request should complete, got %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file should be removed after stop")
	}
}

func TestMultipleConcurrentRequests(t *testing.T) {
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Revoked: req.SessionID}, nil
	})

	numRequests := 10
	results := make(chan string, numRequests)
	errs := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		go func(n int) {
			id := strings.Repeat(string(rune('a'+n)), MinSessionIDPrefix)
			revoked, err := NewClient(path).RevokeSession(context.Background(), id)
			if err != nil {
				errs <- err
				return
			}
			if revoked != id {
				errs <- errors.New("response for another request: " + revoked)
				return
			}
			results <- revoked
		}(i)
	}

	for i := 0; i < numRequests; i++ {
		select {
		case err := <-errs:
			t.Errorf("request failed: %v", err)
		case <-results:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for responses")
		}
	}
}

func TestClientTimeout(t *testing.T) {
	_, path := startServer(t, func(ctx context.Context, req *Request) (*Response, error) {
		time.Sleep(2 * time.Second)
		return &Response{}, nil
	})

	client := NewClient(path)
	client.SetTimeout(500 * time.Millisecond)

	if _, err := client.ListSessions(context.Background()); err == nil {
		t.Error("expected timeout error")
	}
}
