// Package config loads, validates and redacts the sessiongate configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen   ListenConfig  `yaml:"listen" toml:"listen"`
	Gate     GateConfig    `yaml:"gate" toml:"gate"`
	Session  SessionConfig `yaml:"session" toml:"session"`
	Auth     AuthConfig    `yaml:"auth" toml:"auth"`
	OIDC     OIDCConfig    `yaml:"oidc" toml:"oidc"`
	TLS      TLSConfig     `yaml:"tls" toml:"tls"`
	Log      LogConfig     `yaml:"log" toml:"log"`
	Metrics  MetricsConfig `yaml:"metrics" toml:"metrics"`
	Fixtures string        `yaml:"fixtures" toml:"fixtures"` // comma-separated fixture names installed at startup
}

// ListenConfig defines where the daemon listens for requests
type ListenConfig struct {
	HTTP   string `yaml:"http" toml:"http"`     // HTTP server address (e.g., ":8080")
	Socket string `yaml:"socket" toml:"socket"` // control socket path (empty disables it)
}

// GateConfig holds the request session gate settings.
type GateConfig struct {
	LogonPage                      string   `yaml:"logon_page" toml:"logon_page"`
	RedirectToOnNoSessionException string   `yaml:"redirect_to_on_no_session_exception" toml:"redirect_to_on_no_session_exception"`
	CacheAuthSessionOnHTTPSession  string   `yaml:"cache_auth_session_on_http_session" toml:"cache_auth_session_on_http_session"`
	IgnoreExtensions               []string `yaml:"ignore_extensions" toml:"ignore_extensions"`
	Lookup                         []string `yaml:"lookup" toml:"lookup"`                       // lookup strategies, tried in order
	StaticExtensions               []string `yaml:"static_extensions" toml:"static_extensions"` // served as cached resources
	StaticMaxAge                   int      `yaml:"static_max_age" toml:"static_max_age"`       // seconds
}

// Params renders the gate settings as init parameters, keyed the way the
// gate parses them.
func (g GateConfig) Params() map[string]string {
	params := make(map[string]string)
	if g.LogonPage != "" {
		params["logonPage"] = g.LogonPage
	}
	if g.RedirectToOnNoSessionException != "" {
		params["redirectToOnNoSessionException"] = g.RedirectToOnNoSessionException
	}
	if g.CacheAuthSessionOnHTTPSession != "" {
		params["cacheAuthSessionOnHttpSession"] = g.CacheAuthSessionOnHTTPSession
	}
	if len(g.IgnoreExtensions) > 0 {
		params["ignoreExtensions"] = strings.Join(g.IgnoreExtensions, ",")
	}
	return params
}

// SessionConfig defines the HTTP-session store that caches authentication sessions
type SessionConfig struct {
	Store        string `yaml:"store" toml:"store"`     // memory, sqlite, redis
	Timeout      int    `yaml:"timeout" toml:"timeout"` // seconds
	CookieName   string `yaml:"cookie_name" toml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure" toml:"cookie_secure"`
	SQLitePath   string `yaml:"sqlite_path" toml:"sqlite_path"`
	RedisAddr    string `yaml:"redis_addr" toml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db" toml:"redis_db"`
	RedisPrefix  string `yaml:"redis_prefix" toml:"redis_prefix"`
	RedisPass    string `yaml:"redis_password" toml:"redis_password"`
}

// UserConfig is a locally configured user.
type UserConfig struct {
	Name         string   `yaml:"name" toml:"name"`
	PasswordHash string   `yaml:"password_hash" toml:"password_hash"` // bcrypt
	Roles        []string `yaml:"roles" toml:"roles"`
}

// AuthConfig defines authentication behavior
type AuthConfig struct {
	SessionTimeout int          `yaml:"session_timeout" toml:"session_timeout"` // authentication session lifetime in seconds
	Users          []UserConfig `yaml:"users" toml:"users"`
	JWTSecret      string       `yaml:"jwt_secret" toml:"jwt_secret"` // HS256 secret for bearer tokens
	TokenTTL       int          `yaml:"token_ttl" toml:"token_ttl"`   // seconds
	// Permissions maps a domain action to the roles allowed to perform it.
	Permissions map[string][]string `yaml:"permissions" toml:"permissions"`
}

// OIDCConfig defines the optional OIDC logon provider
type OIDCConfig struct {
	Issuer        string   `yaml:"issuer" toml:"issuer"`               // issuer URL, empty disables OIDC logon
	ClientID      string   `yaml:"client_id" toml:"client_id"`         // OIDC client ID
	ClientSecret  string   `yaml:"client_secret" toml:"client_secret"` // empty for public clients
	RedirectURI   string   `yaml:"redirect_uri" toml:"redirect_uri"`   // Callback URL
	Scopes        []string `yaml:"scopes" toml:"scopes"`
	RequiredRoles []string `yaml:"required_roles" toml:"required_roles"`
	RoleClaim     string   `yaml:"role_claim" toml:"role_claim"` // dot path to roles in token
	UsernameClaim string   `yaml:"username_claim" toml:"username_claim"`
}

// Enabled reports whether OIDC logon is configured.
func (o OIDCConfig) Enabled() bool {
	return o.Issuer != ""
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads and parses the configuration file.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP:   ":8080",
			Socket: "/run/sessiongate/control.sock",
		},
		Gate: GateConfig{
			LogonPage:        "/logon",
			Lookup:           []string{"http_session"},
			StaticExtensions: []string{"css", "js", "png", "ico", "svg"},
			StaticMaxAge:     86400,
		},
		Session: SessionConfig{
			Store:       "memory",
			Timeout:     1800, // 30 minutes
			CookieName:  "sessiongate_session",
			RedisPrefix: "sessiongate:",
		},
		Auth: AuthConfig{
			SessionTimeout: 3600, // 1 hour
			TokenTTL:       900,  // 15 minutes
		},
		OIDC: OIDCConfig{
			Scopes:        []string{"openid", "profile", "email"},
			RoleClaim:     "realm_access.roles",
			UsernameClaim: "preferred_username",
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SESSIONGATE_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
	if v := os.Getenv("SESSIONGATE_LISTEN_SOCKET"); v != "" {
		c.Listen.Socket = v
	}

	if v := os.Getenv("SESSIONGATE_GATE_LOGON_PAGE"); v != "" {
		c.Gate.LogonPage = v
	}

	if v := os.Getenv("SESSIONGATE_SESSION_STORE"); v != "" {
		c.Session.Store = v
	}
	if v := os.Getenv("SESSIONGATE_SESSION_REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	if v := os.Getenv("SESSIONGATE_SESSION_REDIS_PASSWORD"); v != "" {
		c.Session.RedisPass = v
	}

	if v := os.Getenv("SESSIONGATE_AUTH_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	if v := os.Getenv("SESSIONGATE_OIDC_ISSUER"); v != "" {
		c.OIDC.Issuer = v
	}
	if v := os.Getenv("SESSIONGATE_OIDC_CLIENT_ID"); v != "" {
		c.OIDC.ClientID = v
	}
	if v := os.Getenv("SESSIONGATE_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDC.ClientSecret = v
	}
	if v := os.Getenv("SESSIONGATE_OIDC_REDIRECT_URI"); v != "" {
		c.OIDC.RedirectURI = v
	}

	if v := os.Getenv("SESSIONGATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SESSIONGATE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	// Gate paths are compared against request paths, so they must be absolute.
	if c.Gate.LogonPage != "" && !strings.HasPrefix(c.Gate.LogonPage, "/") {
		return fmt.Errorf("gate.logon_page must start with '/'")
	}
	if c.Gate.RedirectToOnNoSessionException != "" && !strings.HasPrefix(c.Gate.RedirectToOnNoSessionException, "/") {
		return fmt.Errorf("gate.redirect_to_on_no_session_exception must start with '/'")
	}
	if len(c.Gate.Lookup) == 0 {
		return fmt.Errorf("gate.lookup must name at least one strategy")
	}
	validLookups := map[string]bool{
		"http_session": true,
		"bearer":       true,
	}
	for _, name := range c.Gate.Lookup {
		if !validLookups[name] {
			return fmt.Errorf("gate.lookup: unknown strategy %q (must be one of: http_session, bearer)", name)
		}
		if name == "bearer" && c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required for the bearer lookup strategy")
		}
	}
	if c.Gate.StaticMaxAge < 0 {
		return fmt.Errorf("gate.static_max_age must not be negative")
	}

	// Validate session store
	switch c.Session.Store {
	case "memory":
	case "sqlite":
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("session.sqlite_path is required for the sqlite store")
		}
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("session.store must be one of: memory, sqlite, redis")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}

	// Validate auth config
	if c.Auth.SessionTimeout <= 0 {
		return fmt.Errorf("auth.session_timeout must be positive")
	}
	if c.Auth.SessionTimeout > 86400 {
		return fmt.Errorf("auth.session_timeout should not exceed 86400 seconds (1 day)")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	seen := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if u.Name == "" {
			return fmt.Errorf("auth.users[%d].name is required", i)
		}
		if u.PasswordHash == "" {
			return fmt.Errorf("auth.users[%d].password_hash is required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("auth.users: duplicate user %q", u.Name)
		}
		seen[u.Name] = true
	}

	if err := c.OIDC.validate(); err != nil {
		return err
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	return nil
}

// validate checks the OIDC section. An empty issuer disables OIDC entirely.
func (o OIDCConfig) validate() error {
	if !o.Enabled() {
		return nil
	}
	if !strings.HasPrefix(o.Issuer, "http://") && !strings.HasPrefix(o.Issuer, "https://") {
		return fmt.Errorf("oidc.issuer must be a valid HTTP(S) URL")
	}

	if o.ClientID == "" {
		return fmt.Errorf("oidc.client_id is required")
	}

	if o.RedirectURI == "" {
		return fmt.Errorf("oidc.redirect_uri is required")
	}
	if !strings.HasPrefix(o.RedirectURI, "http://") && !strings.HasPrefix(o.RedirectURI, "https://") {
		return fmt.Errorf("oidc.redirect_uri must be a valid HTTP(S) URL")
	}

	hasOpenID := false
	for _, scope := range o.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("oidc.scopes must include 'openid'")
	}

	if o.UsernameClaim == "" {
		return fmt.Errorf("oidc.username_claim is required")
	}
	return nil
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a deep-enough copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	if c.OIDC.Scopes != nil {
		redacted.OIDC.Scopes = append([]string(nil), c.OIDC.Scopes...)
	}
	if c.OIDC.RequiredRoles != nil {
		redacted.OIDC.RequiredRoles = append([]string(nil), c.OIDC.RequiredRoles...)
	}
	if c.Auth.Users != nil {
		redacted.Auth.Users = make([]UserConfig, len(c.Auth.Users))
		for i, u := range c.Auth.Users {
			u.PasswordHash = "[REDACTED]"
			u.Roles = append([]string(nil), u.Roles...)
			redacted.Auth.Users[i] = u
		}
	}
	if redacted.OIDC.ClientSecret != "" {
		redacted.OIDC.ClientSecret = "[REDACTED]"
	}
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "[REDACTED]"
	}
	if redacted.Session.RedisPass != "" {
		redacted.Session.RedisPass = "[REDACTED]"
	}
	return &redacted
}
