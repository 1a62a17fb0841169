package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/al-bashkir/sessiongate/internal/logsanitize"
	"github.com/al-bashkir/sessiongate/internal/session"
)

// AttrAuthSession is the HTTP-session attribute holding the cached
// authentication session.
const AttrAuthSession = "auth.session"

// Strategy names accepted in gate.lookup.
const (
	StrategyHTTPSession = "http_session"
	StrategyBearer      = "bearer"
)

// LookupStrategy finds a valid authentication session for a request and
// binds a found session to the client.
//
// Lookup faults are never returned: a strategy that cannot read its source
// logs the cause and reports no session.
type LookupStrategy interface {
	LookupValid(w http.ResponseWriter, r *http.Request, caching Caching) *Session
	Bind(w http.ResponseWriter, r *http.Request, s *Session, caching Caching)
}

// HTTPSessionStrategy caches authentication sessions in the cookie-keyed
// HTTP-session store.
type HTTPSessionStrategy struct {
	store      session.Store
	manager    *Manager
	cookieName string
	secure     bool
	logger     *slog.Logger
}

// NewHTTPSessionStrategy creates a strategy backed by store.
func NewHTTPSessionStrategy(store session.Store, manager *Manager, cookieName string, secure bool) *HTTPSessionStrategy {
	return &HTTPSessionStrategy{
		store:      store,
		manager:    manager,
		cookieName: cookieName,
		secure:     secure,
		logger:     slog.Default().With("component", "auth", "strategy", StrategyHTTPSession),
	}
}

// LookupValid returns the authentication session cached in the client's HTTP
// session if the manager still considers it valid. A successful lookup
// refreshes the HTTP session.
func (s *HTTPSessionStrategy) LookupValid(w http.ResponseWriter, r *http.Request, _ Caching) *Session {
	hs, err := s.Load(r)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
			s.logger.Debug("HTTP session lookup failed", "error", err)
		}
		return nil
	}

	raw := hs.Get(AttrAuthSession)
	if raw == "" {
		return nil
	}

	a, err := decodeSession(raw)
	if err != nil {
		s.logger.Debug("Discarding undecodable auth session", "session_id", logsanitize.SessionID(hs.ID), "error", err)
		return nil
	}

	if !s.manager.IsSessionValid(a) {
		return nil
	}
	s.touch(w, r, hs)
	return a
}

// touch slides the HTTP session's expiry on use and re-issues the cookie
// with the new expiry. A failed save does not fail the lookup.
func (s *HTTPSessionStrategy) touch(w http.ResponseWriter, r *http.Request, hs *session.Session) {
	if err := s.store.Save(r.Context(), hs); err != nil {
		s.logger.Debug("Failed to refresh HTTP session", "session_id", logsanitize.SessionID(hs.ID), "error", err)
		return
	}
	if w != nil {
		session.WriteCookie(w, s.cookieName, hs, s.secure)
	}
}

// Bind caches a in the client's HTTP session when caching is enabled.
func (s *HTTPSessionStrategy) Bind(w http.ResponseWriter, r *http.Request, a *Session, caching Caching) {
	if caching != CachingHTTPSession || a == nil {
		return
	}

	if hs, err := s.Load(r); err == nil && hs.Get(AttrAuthSession) != "" {
		if cached, err := decodeSession(hs.Get(AttrAuthSession)); err == nil && cached.Code == a.Code {
			return
		}
	}

	if err := s.Remember(w, r, a); err != nil {
		s.logger.Warn("Failed to cache auth session", "user", a.UserName, "error", err)
	}
}

// Load returns the client's existing HTTP session.
func (s *HTTPSessionStrategy) Load(r *http.Request) (*session.Session, error) {
	id, ok := session.ReadCookie(r, s.cookieName)
	if !ok {
		return nil, session.ErrNotFound
	}
	return s.store.Get(r.Context(), id)
}

// Ensure returns the client's HTTP session, creating one and setting the
// cookie if there is none.
func (s *HTTPSessionStrategy) Ensure(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	if hs, err := s.Load(r); err == nil {
		return hs, nil
	}

	hs, err := s.store.Create(r.Context())
	if err != nil {
		return nil, fmt.Errorf("creating HTTP session: %w", err)
	}
	session.WriteCookie(w, s.cookieName, hs, s.secure)
	return hs, nil
}

// Save persists changes to an HTTP session.
func (s *HTTPSessionStrategy) Save(ctx context.Context, hs *session.Session) error {
	return s.store.Save(ctx, hs)
}

// Remember stores a in a fresh HTTP session. Attributes of the previous
// session are carried over and the previous ID is discarded so that an ID
// issued before logon never becomes authenticated.
func (s *HTTPSessionStrategy) Remember(w http.ResponseWriter, r *http.Request, a *Session) error {
	encoded, err := a.encode()
	if err != nil {
		return fmt.Errorf("encoding auth session: %w", err)
	}

	ctx := r.Context()
	hs, err := s.store.Create(ctx)
	if err != nil {
		return fmt.Errorf("creating HTTP session: %w", err)
	}

	if old, err := s.Load(r); err == nil {
		for k, v := range old.Data {
			hs.Set(k, v)
		}
		if err := s.store.Delete(ctx, old.ID); err != nil {
			s.logger.Debug("Failed to delete previous HTTP session", "error", err)
		}
	}

	hs.Set(AttrAuthSession, encoded)
	if err := s.store.Save(ctx, hs); err != nil {
		return fmt.Errorf("saving HTTP session: %w", err)
	}

	session.WriteCookie(w, s.cookieName, hs, s.secure)
	return nil
}

// Forget destroys the client's HTTP session and returns the authentication
// session it held, if any.
func (s *HTTPSessionStrategy) Forget(w http.ResponseWriter, r *http.Request) *Session {
	defer session.ClearCookie(w, s.cookieName, s.secure)

	hs, err := s.Load(r)
	if err != nil {
		return nil
	}

	if err := s.store.Delete(r.Context(), hs.ID); err != nil {
		s.logger.Warn("Failed to delete HTTP session", "error", err)
	}

	a, err := decodeSession(hs.Get(AttrAuthSession))
	if err != nil {
		return nil
	}
	return a
}

// CachedSession returns the authentication session cached in hs, if any.
func CachedSession(hs *session.Session) (*Session, bool) {
	raw := hs.Get(AttrAuthSession)
	if raw == "" {
		return nil, false
	}
	a, err := decodeSession(raw)
	if err != nil {
		return nil, false
	}
	return a, true
}

// BearerStrategy authenticates requests carrying an
// "Authorization: Bearer <jwt>" header.
type BearerStrategy struct {
	tokens  *TokenIssuer
	manager *Manager
	logger  *slog.Logger
}

// NewBearerStrategy creates a strategy verifying tokens minted by tokens.
func NewBearerStrategy(tokens *TokenIssuer, manager *Manager) *BearerStrategy {
	return &BearerStrategy{
		tokens:  tokens,
		manager: manager,
		logger:  slog.Default().With("component", "auth", "strategy", StrategyBearer),
	}
}

// LookupValid verifies the bearer token and returns the session it carries.
func (b *BearerStrategy) LookupValid(_ http.ResponseWriter, r *http.Request, _ Caching) *Session {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return nil
	}

	a, err := b.tokens.Verify(token)
	if err != nil {
		b.logger.Debug("Rejecting bearer token", "error", err)
		return nil
	}

	if !b.manager.IsSessionValid(a) {
		return nil
	}
	return a
}

// Bind is a no-op. Token callers are cached by an HTTP-session strategy
// earlier in the chain.
func (b *BearerStrategy) Bind(http.ResponseWriter, *http.Request, *Session, Caching) {}

// ChainStrategy consults strategies in order.
type ChainStrategy []LookupStrategy

// LookupValid returns the first session found.
func (c ChainStrategy) LookupValid(w http.ResponseWriter, r *http.Request, caching Caching) *Session {
	for _, s := range c {
		if a := s.LookupValid(w, r, caching); a != nil {
			return a
		}
	}
	return nil
}

// Bind delegates to every strategy in the chain.
func (c ChainStrategy) Bind(w http.ResponseWriter, r *http.Request, a *Session, caching Caching) {
	for _, s := range c {
		s.Bind(w, r, a, caching)
	}
}

// Strategies holds the strategy implementations NewStrategy can select.
type Strategies struct {
	HTTPSession *HTTPSessionStrategy
	Bearer      *BearerStrategy
}

// NewStrategy builds the lookup strategy named by names. A single name yields
// that strategy; several yield a ChainStrategy in the given order.
func NewStrategy(names []string, available Strategies) (LookupStrategy, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no lookup strategy configured")
	}

	chain := make(ChainStrategy, 0, len(names))
	for _, name := range names {
		var s LookupStrategy
		switch name {
		case StrategyHTTPSession:
			if available.HTTPSession != nil {
				s = available.HTTPSession
			}
		case StrategyBearer:
			if available.Bearer != nil {
				s = available.Bearer
			}
		default:
			return nil, fmt.Errorf("unknown lookup strategy %q", name)
		}
		if s == nil {
			return nil, fmt.Errorf("lookup strategy %q is not available", name)
		}
		chain = append(chain, s)
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}
