package domain

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/al-bashkir/sessiongate/internal/auth"
)

type sessionKey struct{}

// Observer is notified when sessions open and close.
type Observer interface {
	SessionOpened()
	SessionClosed()
}

// Context opens domain sessions into request contexts and closes them.
type Context struct {
	factory  *SessionFactory
	observer Observer
	open     atomic.Int64
	logger   *slog.Logger
}

// NewContext creates a Context drawing sessions from factory.
// observer may be nil.
func NewContext(factory *SessionFactory, observer Observer) *Context {
	return &Context{
		factory:  factory,
		observer: observer,
		logger:   slog.Default().With("component", "domain"),
	}
}

// OpenSession opens a domain session for a and returns a child of ctx
// carrying it.
func (c *Context) OpenSession(ctx context.Context, a *auth.Session) (context.Context, error) {
	s, err := c.factory.OpenSession(ctx, a)
	if err != nil {
		return ctx, err
	}

	c.open.Add(1)
	if c.observer != nil {
		c.observer.SessionOpened()
	}

	c.logger.Debug("Domain session opened", "session_id", s.ID, "user", a.UserName)
	return context.WithValue(ctx, sessionKey{}, s), nil
}

// CloseSession closes the session carried by ctx. It does nothing when ctx
// carries no session or the session is already closed.
func (c *Context) CloseSession(ctx context.Context) {
	s := Current(ctx)
	if s == nil {
		return
	}

	closed, err := s.Close(ctx)
	if !closed {
		return
	}

	c.open.Add(-1)
	if c.observer != nil {
		c.observer.SessionClosed()
	}

	if err != nil {
		c.logger.Warn("Error closing domain session", "session_id", s.ID, "error", err)
		return
	}
	c.logger.Debug("Domain session closed", "session_id", s.ID)
}

// OpenCount returns the number of sessions opened and not yet closed.
func (c *Context) OpenCount() int {
	return int(c.open.Load())
}

// Current returns the domain session carried by ctx, or nil.
func Current(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
