// Package httpserver serves the sessiongate web front: the logon pages, the
// JSON API behind the request gate, and the unauthenticated health and
// metrics endpoints.
package httpserver

import (
	"context"
	"crypto/tls"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/sessiongate/internal/auth"
	"github.com/al-bashkir/sessiongate/internal/config"
	"github.com/al-bashkir/sessiongate/internal/domain"
	"github.com/al-bashkir/sessiongate/internal/gate"
	"github.com/al-bashkir/sessiongate/internal/metrics"
	"github.com/al-bashkir/sessiongate/internal/oidc"
	"github.com/al-bashkir/sessiongate/internal/resource"
)

//go:embed templates/*.html
var templatesFS embed.FS

// OIDCLogin runs the authorization code flow for web logon.
type OIDCLogin interface {
	StartAuthFlow(ctx context.Context, next string) (*oidc.PendingLogin, string, error)
	CompleteLogin(ctx context.Context, code string, pending *oidc.PendingLogin) (*oidc.Identity, error)
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Gate     *gate.Gate
	Manager  *auth.Manager
	Sessions *auth.HTTPSessionStrategy
	Tokens   *auth.TokenIssuer // nil disables bearer token issuance
	OIDC     OIDCLogin         // nil disables OIDC logon
	Metrics  *metrics.Metrics  // nil disables /metrics and request instrumentation
	Domain   *domain.Context
	Version  string
}

// Server is the HTTP server for logon, the gated API and health checks
type Server struct {
	cfg        *config.Config
	deps       Deps
	httpServer *http.Server
	mux        *http.ServeMux
	app        *http.ServeMux
	templates  *template.Template
	limiter    *IPRateLimiter
	logonPath  string
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	logonPath := cfg.Gate.LogonPage
	if logonPath == "" {
		logonPath = "/logon"
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mux:       http.NewServeMux(),
		app:       http.NewServeMux(),
		templates: templates,
		limiter:   newIPRateLimiter(10, 50),
		logonPath: logonPath,
	}

	// Public routes, never gated
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /logon/oidc", s.handleOIDCStart)
	s.mux.HandleFunc("GET /callback", s.handleCallback)
	s.mux.HandleFunc("/logout", s.handleLogout)
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		s.mux.Handle("GET "+cfg.Metrics.Path, deps.Metrics.Handler())
	}

	// Gated routes
	s.app.HandleFunc("GET /{$}", s.handleHome)
	s.app.HandleFunc("GET "+logonPath, s.handleLogonForm)
	s.app.HandleFunc("POST "+logonPath, s.handleLogon)
	s.app.HandleFunc("GET /api/me", s.handleMe)
	s.app.HandleFunc("GET /api/objects", s.handleListObjects)
	s.app.HandleFunc("POST /api/objects", s.handleStoreObject)
	s.app.HandleFunc("POST /api/token", s.handleToken)
	s.app.Handle("GET /static/", resource.Handler())

	maxAge := time.Duration(cfg.Gate.StaticMaxAge) * time.Second
	gated := resource.Caching(cfg.Gate.StaticExtensions, maxAge)(deps.Gate.Middleware(s.app))
	s.mux.Handle("/", gated)

	// Wrap with middleware
	var handler http.Handler = s.mux
	if deps.Metrics != nil {
		handler = deps.Metrics.Instrument(cfg.Metrics.Path, handler)
	}
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	handler = s.limiter.middleware(handler)
	handler = securityHeadersMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	return s, nil
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
		"oidc", s.deps.OIDC != nil,
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	defer s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}
