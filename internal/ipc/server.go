package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// RequestHandler handles one validated request.
type RequestHandler func(ctx context.Context, req *Request) (*Response, error)

// Server listens on a Unix socket for control requests.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    RequestHandler
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewServer creates a new IPC server
func NewServer(socketPath string, handler RequestHandler) *Server {
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopChan:   make(chan struct{}),
		logger:     slog.Default().With("component", "ipc"),
	}
}

// Start listens on the socket and serves connections in the background.
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	// Owner only: the socket can revoke any user's session.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("IPC server started", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Error("failed to accept connection", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Error("failed to decode request", "error", err)
		s.sendErrorResponse(conn, "invalid request format")
		return
	}

	switch req.Type {
	case MessageTypeListSessions:
	case MessageTypeRevokeSession:
		if len(req.SessionID) < MinSessionIDPrefix {
			s.sendErrorResponse(conn, fmt.Sprintf("session_id must have at least %d characters", MinSessionIDPrefix))
			return
		}
	default:
		s.logger.Error("invalid request type", "type", sanitizeIPCValue(string(req.Type)))
		s.sendErrorResponse(conn, "invalid request type")
		return
	}

	s.logger.Info("control request received",
		"type", req.Type,
		"session_id", sanitizeIPCValue(req.SessionID),
	)

	resp, err := s.handler(ctx, &req)
	if err != nil {
		s.logger.Error("handler error", "error", err)
		s.sendErrorResponse(conn, err.Error())
		return
	}

	resp.Type = MessageTypeResponse
	if resp.Status == "" {
		resp.Status = StatusOK
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Error("failed to send response", "error", err)
		return
	}

	s.logger.Debug("control response sent", "status", resp.Status)
}

func (s *Server) sendErrorResponse(conn net.Conn, errMsg string) {
	resp := &Response{
		Type:   MessageTypeResponse,
		Status: StatusError,
		Error:  errMsg,
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Error("failed to send error response", "error", err)
	}
}

// Stop closes the listener, waits for open connections and removes the
// socket file. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping IPC server")
		close(s.stopChan)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.logger.Warn("failed to close listener", "error", err)
			}
		}
		s.mu.Unlock()

		s.wg.Wait()

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove socket file", "error", err)
		}

		s.logger.Info("IPC server stopped")
	})
	return nil
}
