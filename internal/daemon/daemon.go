// Package daemon orchestrates all the components of the sessiongate daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/al-bashkir/sessiongate/internal/auth"
	"github.com/al-bashkir/sessiongate/internal/bootstrap"
	"github.com/al-bashkir/sessiongate/internal/config"
	"github.com/al-bashkir/sessiongate/internal/domain"
	"github.com/al-bashkir/sessiongate/internal/gate"
	"github.com/al-bashkir/sessiongate/internal/httpserver"
	"github.com/al-bashkir/sessiongate/internal/ipc"
	"github.com/al-bashkir/sessiongate/internal/logsanitize"
	"github.com/al-bashkir/sessiongate/internal/metrics"
	"github.com/al-bashkir/sessiongate/internal/oidc"
	"github.com/al-bashkir/sessiongate/internal/resource"
	"github.com/al-bashkir/sessiongate/internal/session"
)

// Daemon represents the main daemon process that coordinates all components.
type Daemon struct {
	cfg      *config.Config
	version  string
	handlers []bootstrap.OptionHandler
	fixtures []domain.Fixture
	environ  func() []string

	metrics    *metrics.Metrics
	domain     *domain.Context
	store      session.Store
	manager    *auth.Manager
	gate       *gate.Gate
	httpServer *httpserver.Server
	ipcServer  *ipc.Server
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(d *Daemon) { d.version = v }
}

// WithStartupOptions adds option handlers applied after the configuration
// file's own, so they take precedence.
func WithStartupOptions(handlers ...bootstrap.OptionHandler) Option {
	return func(d *Daemon) { d.handlers = append(d.handlers, handlers...) }
}

// WithFixtures replaces the fixtures available for installation.
func WithFixtures(fixtures ...domain.Fixture) Option {
	return func(d *Daemon) { d.fixtures = fixtures }
}

// WithEnviron replaces the process environment seen by startup options.
func WithEnviron(environ func() []string) Option {
	return func(d *Daemon) { d.environ = environ }
}

// New creates a new daemon with all components initialized.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		version:  "dev",
		fixtures: []domain.Fixture{domain.DemoFixture()},
		environ:  os.Environ,
	}
	for _, o := range opts {
		o(d)
	}

	// Startup options
	domainCfg := domain.NewConfiguration()
	handlers := append([]bootstrap.OptionHandler{&bootstrap.FixtureFromConfig{Fixtures: cfg.Fixtures}}, d.handlers...)
	if err := bootstrap.Run(handlers, d.environ, domainCfg); err != nil {
		return nil, fmt.Errorf("failed to apply startup options: %w", err)
	}

	d.metrics = metrics.New()

	// Domain runtime
	factory := domain.NewSessionFactory(domainCfg, domain.NewInMemoryPersistence(),
		domain.WithAuthorizer(authorizer(cfg.Auth.Permissions)),
		domain.WithTemplateImageLoader(&resource.ImageLoader{}),
		domain.WithFixtures(d.fixtures...),
	)
	if err := factory.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize domain: %w", err)
	}
	d.domain = domain.NewContext(factory, d.metrics)

	slog.Info("domain initialized",
		"fixtures", domainCfg.List(domain.FixturesKey),
	)

	// HTTP session store
	store, err := session.Open(ctx, &cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = store

	slog.Info("session store initialized",
		"store", cfg.Session.Store,
		"timeout", time.Duration(cfg.Session.Timeout)*time.Second,
	)

	if err := d.init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) init(ctx context.Context) error {
	cfg := d.cfg

	sessionTimeout := time.Duration(cfg.Auth.SessionTimeout) * time.Second
	d.manager = auth.NewManager(cfg.Auth.Users, sessionTimeout)

	httpSessions := auth.NewHTTPSessionStrategy(d.store, d.manager, cfg.Session.CookieName, cfg.Session.CookieSecure)
	strategies := auth.Strategies{HTTPSession: httpSessions}

	var tokens *auth.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenIssuer(cfg.Auth.JWTSecret)
		strategies.Bearer = auth.NewBearerStrategy(tokens, d.manager)
	}

	lookup, err := auth.NewStrategy(cfg.Gate.Lookup, strategies)
	if err != nil {
		return fmt.Errorf("failed to build lookup strategy: %w", err)
	}

	slog.Info("auth manager initialized",
		"users", len(cfg.Auth.Users),
		"timeout", sessionTimeout,
		"lookup", cfg.Gate.Lookup,
	)

	// Gate
	gateOpts, err := gate.ParseParams(cfg.Gate.Params())
	if err != nil {
		return fmt.Errorf("invalid gate configuration: %w", err)
	}
	d.gate, err = gate.New(gateOpts, lookup, d.domain,
		gate.WithDecisionObserver(func(b gate.Branch) { d.metrics.RecordDecision(string(b)) }),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize gate: %w", err)
	}

	slog.Info("gate initialized",
		"logon_page", gateOpts.LogonPage,
		"caching", gateOpts.Caching.String(),
		"ignore_extensions", gateOpts.IgnoreExtensions,
	)

	deps := httpserver.Deps{
		Gate:     d.gate,
		Manager:  d.manager,
		Sessions: httpSessions,
		Tokens:   tokens,
		Metrics:  d.metrics,
		Domain:   d.domain,
		Version:  d.version,
	}

	// Optional OIDC logon
	if cfg.OIDC.Enabled() {
		providerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		provider, err := oidc.NewProvider(providerCtx, &cfg.OIDC)
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		deps.OIDC = provider

		slog.Info("OIDC provider initialized",
			"issuer", cfg.OIDC.Issuer,
			"client_id", cfg.OIDC.ClientID,
		)
	}

	d.httpServer, err = httpserver.NewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	if cfg.Listen.Socket != "" {
		d.ipcServer = ipc.NewServer(cfg.Listen.Socket, d.handleControl)
		slog.Info("IPC server initialized", "socket", cfg.Listen.Socket)
	}

	return nil
}

func authorizer(permissions map[string][]string) domain.Authorizer {
	if len(permissions) == 0 {
		return domain.AllowAll{}
	}
	return domain.RoleAuthorizer(permissions)
}

// Run starts all daemon components and blocks until ctx is done or a
// shutdown signal is received.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting sessiongate daemon", "version", d.version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start IPC server synchronously to catch startup errors
	if d.ipcServer != nil {
		if err := d.ipcServer.Start(ctx); err != nil {
			d.closeStore()
			return fmt.Errorf("failed to start IPC server: %w", err)
		}
	}

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested", "cause", context.Cause(ctx))
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			d.stopIPC()
			d.closeStore()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.stopIPC()

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	d.closeStore()

	slog.Info("daemon shutdown complete", "domain_sessions_open", d.domain.OpenCount())
	return nil
}

func (d *Daemon) stopIPC() {
	if d.ipcServer == nil {
		return
	}
	if err := d.ipcServer.Stop(); err != nil {
		slog.Error("error stopping IPC server", "error", err)
	}
}

func (d *Daemon) closeStore() {
	if err := d.store.Close(); err != nil {
		slog.Error("error closing session store", "error", err)
	}
}

// handleControl answers control socket requests.
func (d *Daemon) handleControl(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	switch req.Type {
	case ipc.MessageTypeListSessions:
		return d.listSessions(ctx)
	case ipc.MessageTypeRevokeSession:
		return d.revokeSession(ctx, req.SessionID)
	default:
		return nil, fmt.Errorf("unsupported request type %q", req.Type)
	}
}

func (d *Daemon) listSessions(ctx context.Context) (*ipc.Response, error) {
	all, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	infos := make([]ipc.SessionInfo, 0, len(all))
	for _, hs := range all {
		info := ipc.SessionInfo{
			ID:        hs.ID,
			CreatedAt: hs.CreatedAt,
			ExpiresAt: hs.ExpiresAt,
		}
		if a, ok := auth.CachedSession(hs); ok {
			info.User = a.UserName
			info.Method = string(a.Method)
		}
		infos = append(infos, info)
	}

	return &ipc.Response{Sessions: infos}, nil
}

// revokeSession deletes the HTTP session matching idPrefix and invalidates
// the authentication session it carried.
func (d *Daemon) revokeSession(ctx context.Context, idPrefix string) (*ipc.Response, error) {
	if len(idPrefix) < ipc.MinSessionIDPrefix {
		return nil, fmt.Errorf("session ID prefix must have at least %d characters", ipc.MinSessionIDPrefix)
	}

	all, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var match *session.Session
	for _, hs := range all {
		if !strings.HasPrefix(hs.ID, idPrefix) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("session ID prefix %q is ambiguous", idPrefix)
		}
		match = hs
	}
	if match == nil {
		return nil, fmt.Errorf("no session matches %q", idPrefix)
	}

	if a, ok := auth.CachedSession(match); ok {
		d.manager.Invalidate(a)
		slog.Info("authentication session revoked", "user", logsanitize.Sanitize(a.UserName), "method", a.Method)
	}
	if err := d.store.Delete(ctx, match.ID); err != nil {
		return nil, fmt.Errorf("deleting session: %w", err)
	}

	slog.Info("session revoked", "session_id", logsanitize.SessionID(match.ID))
	return &ipc.Response{Revoked: match.ID}, nil
}
