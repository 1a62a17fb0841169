// Package gate decides, per request, whether a domain session is opened
// around the rest of the handler chain, whether the client is sent to the
// logon page, or whether the request proceeds unauthenticated. A domain
// session opened by the gate is closed on every exit path, panics included.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/al-bashkir/sessiongate/internal/auth"
	"github.com/al-bashkir/sessiongate/internal/logsanitize"
	"github.com/al-bashkir/sessiongate/internal/resource"
)

// Chain is the processing that follows the gate. A returned error is an I/O
// or processing fault; a panic is a runtime fault.
type Chain interface {
	Next(w http.ResponseWriter, r *http.Request) error
}

// ChainFunc adapts a function to Chain.
type ChainFunc func(w http.ResponseWriter, r *http.Request) error

func (f ChainFunc) Next(w http.ResponseWriter, r *http.Request) error { return f(w, r) }

// SessionContext opens and closes domain sessions.
type SessionContext interface {
	OpenSession(ctx context.Context, a *auth.Session) (context.Context, error)
	CloseSession(ctx context.Context)
}

// ResourcePredicate reports whether a request is for a cached static resource.
type ResourcePredicate func(r *http.Request) bool

// Branch names the decision taken for a request.
type Branch string

const (
	BranchIgnored         Branch = "ignored"
	BranchCachedResource  Branch = "cached_resource"
	BranchLogonPage       Branch = "logon_page"
	BranchSession         Branch = "session"
	BranchRedirectToLogon Branch = "redirect_to_logon"
	BranchUnauthenticated Branch = "unauthenticated"
)

// Gate is safe for concurrent use.
type Gate struct {
	opts     Options
	suffixes []string
	lookup   auth.LookupStrategy
	sessions SessionContext
	isCached ResourcePredicate
	observe  func(Branch)
	logger   *slog.Logger
}

// Option customises a Gate.
type Option func(*Gate)

// WithResourcePredicate replaces resource.IsCached.
func WithResourcePredicate(p ResourcePredicate) Option {
	return func(g *Gate) { g.isCached = p }
}

// WithDecisionObserver registers a function called with every decision.
func WithDecisionObserver(fn func(Branch)) Option {
	return func(g *Gate) { g.observe = fn }
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a gate. Invalid options are reported here rather than per
// request.
func New(opts Options, lookup auth.LookupStrategy, sessions SessionContext, options ...Option) (*Gate, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if lookup == nil {
		return nil, fmt.Errorf("lookup strategy is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session context is required")
	}

	g := &Gate{
		opts:     opts,
		lookup:   lookup,
		sessions: sessions,
		isCached: resource.IsCached,
		observe:  func(Branch) {},
		logger:   slog.Default().With("component", "gate"),
	}
	g.opts.IgnoreExtensions = append([]string(nil), opts.IgnoreExtensions...)
	for _, ext := range opts.IgnoreExtensions {
		g.suffixes = append(g.suffixes, "."+ext)
	}
	for _, o := range options {
		o(g)
	}
	return g, nil
}

// Options returns a copy of the gate's options.
func (g *Gate) Options() Options {
	o := g.opts
	o.IgnoreExtensions = append([]string(nil), g.opts.IgnoreExtensions...)
	return o
}

type stateHandler func(g *Gate, w http.ResponseWriter, r *http.Request, h *stateHolder, chain Chain) error

// stateHandlers maps the state found at entry to its handling. A fresh
// request is always UNDEFINED; the other states are only seen when the
// request already passed through a gate, which then leaves it alone.
var stateHandlers = map[State]stateHandler{
	StateUndefined:                 (*Gate).decide,
	StateRedirectingToLogon:        passThrough,
	StateNoSessionNotAuthenticated: passThrough,
	StateSessionInProgress:         passThrough,
}

func passThrough(_ *Gate, w http.ResponseWriter, r *http.Request, _ *stateHolder, chain Chain) error {
	return chain.Next(w, r)
}

// Filter runs chain for r under the gate's decision.
func (g *Gate) Filter(w http.ResponseWriter, r *http.Request, chain Chain) error {
	r, h := attachState(r)
	handle, ok := stateHandlers[h.load()]
	if !ok {
		handle = passThrough
	}
	return handle(g, w, r, h, chain)
}

func (g *Gate) decide(w http.ResponseWriter, r *http.Request, h *stateHolder, chain Chain) error {
	if g.ignored(r) {
		g.observe(BranchIgnored)
		defer g.sessions.CloseSession(r.Context())
		return chain.Next(w, r)
	}

	if g.isCached != nil && g.isCached(r) {
		g.observe(BranchCachedResource)
		defer g.sessions.CloseSession(r.Context())
		return chain.Next(w, r)
	}

	if g.opts.LogonPage != "" && r.URL.Path == g.opts.LogonPage {
		g.observe(BranchLogonPage)
		h.store(StateRedirectingToLogon)
		defer func() {
			h.store(StateUndefined)
			g.sessions.CloseSession(r.Context())
		}()
		return chain.Next(w, r)
	}

	if a := g.lookup.LookupValid(w, r, g.opts.Caching); a != nil {
		g.observe(BranchSession)
		return g.withSession(w, r, h, a, chain)
	}

	if g.opts.LogonPage != "" {
		g.observe(BranchRedirectToLogon)
		http.Redirect(w, r, g.opts.LogonPage, http.StatusFound)
		return nil
	}

	g.observe(BranchUnauthenticated)
	return g.unauthenticated(w, r, h, chain)
}

func (g *Gate) withSession(w http.ResponseWriter, r *http.Request, h *stateHolder, a *auth.Session, chain Chain) error {
	g.lookup.Bind(w, r, a, g.opts.Caching)

	ctx, err := g.sessions.OpenSession(r.Context(), a)
	if err != nil {
		return fmt.Errorf("opening domain session for %s: %w", logsanitize.Sanitize(a.UserName), err)
	}

	h.store(StateSessionInProgress)
	defer func() {
		h.store(StateUndefined)
		g.sessions.CloseSession(ctx)
	}()

	return chain.Next(w, r.WithContext(ctx))
}

func (g *Gate) unauthenticated(w http.ResponseWriter, r *http.Request, h *stateHolder, chain Chain) (err error) {
	h.store(StateNoSessionNotAuthenticated)
	defer h.store(StateUndefined)

	fallback := g.opts.RedirectToOnNoSessionException
	tw := &responseTracker{ResponseWriter: w}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler || fallback == "" {
			panic(rec)
		}
		if tw.committed {
			g.logger.Warn("Unauthenticated request panicked after the response was committed",
				"path", logsanitize.Sanitize(r.URL.Path), "panic", fmt.Sprint(rec))
			panic(rec)
		}
		g.logger.Warn("Unauthenticated request panicked, redirecting",
			"path", logsanitize.Sanitize(r.URL.Path), "panic", fmt.Sprint(rec), "redirect", fallback)
		http.Redirect(w, r, fallback, http.StatusFound)
		err = nil
	}()

	if err := chain.Next(tw, r); err != nil {
		if fallback == "" {
			return err
		}
		if tw.committed {
			return fmt.Errorf("cannot redirect to %s, response already committed: %w", fallback, err)
		}
		g.logger.Warn("Unauthenticated request failed, redirecting",
			"path", logsanitize.Sanitize(r.URL.Path), "error", err, "redirect", fallback)
		http.Redirect(w, r, fallback, http.StatusFound)
	}
	return nil
}

func (g *Gate) ignored(r *http.Request) bool {
	for _, s := range g.suffixes {
		if strings.HasSuffix(r.URL.Path, s) {
			return true
		}
	}
	return false
}

// Middleware adapts the gate to net/http. The downstream handler can only
// fault by panicking.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return g.Handler(ChainFunc(func(w http.ResponseWriter, r *http.Request) error {
		next.ServeHTTP(w, r)
		return nil
	}))
}

// Handler adapts an error-returning chain to net/http. An error that
// survives the gate is logged and answered with 500.
func (g *Gate) Handler(chain Chain) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &responseTracker{ResponseWriter: w}
		if err := g.Filter(tw, r, chain); err != nil {
			g.logger.Error("Request failed",
				"method", r.Method, "path", logsanitize.Sanitize(r.URL.Path), "error", err)
			if !tw.committed {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	})
}

// responseTracker records whether a status line has been sent downstream.
type responseTracker struct {
	http.ResponseWriter
	committed bool
}

func (t *responseTracker) WriteHeader(code int) {
	if code >= 200 {
		t.committed = true
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTracker) Write(b []byte) (int, error) {
	t.committed = true
	return t.ResponseWriter.Write(b)
}

func (t *responseTracker) Flush() {
	t.committed = true
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *responseTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
