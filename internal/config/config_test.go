package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen.HTTP != ":8080" {
		t.Errorf("expected HTTP listen :8080, got %s", cfg.Listen.HTTP)
	}

	if cfg.Gate.LogonPage != "/logon" {
		t.Errorf("expected logon page /logon, got %s", cfg.Gate.LogonPage)
	}

	if cfg.Session.Store != "memory" {
		t.Errorf("expected memory session store, got %s", cfg.Session.Store)
	}

	if cfg.Auth.SessionTimeout != 3600 {
		t.Errorf("expected session timeout 3600, got %d", cfg.Auth.SessionTimeout)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		wantErr     bool
		errContains string
	}{
		{
			name: "valid config",
			configYAML: `
listen:
  http: ":9000"
gate:
  logon_page: "/logon"
  ignore_extensions: [html, htmlviewer]
session:
  store: memory
auth:
  session_timeout: 300
  users:
    - name: sven
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
      roles: [user]
log:
  level: "info"
  format: "json"
`,
			wantErr: false,
		},
		{
			name: "relative logon page",
			configYAML: `
gate:
  logon_page: "logon.html"
`,
			wantErr:     true,
			errContains: "logon_page must start with '/'",
		},
		{
			name: "unknown lookup strategy",
			configYAML: `
gate:
  lookup: [cookie_jar]
`,
			wantErr:     true,
			errContains: "unknown strategy",
		},
		{
			name: "bearer without secret",
			configYAML: `
gate:
  lookup: [http_session, bearer]
`,
			wantErr:     true,
			errContains: "jwt_secret is required",
		},
		{
			name: "sqlite without path",
			configYAML: `
session:
  store: sqlite
`,
			wantErr:     true,
			errContains: "sqlite_path is required",
		},
		{
			name: "oidc missing client_id",
			configYAML: `
oidc:
  issuer: "https://keycloak.example.com/realms/test"
  redirect_uri: "http://localhost:9000/callback"
`,
			wantErr:     true,
			errContains: "client_id is required",
		},
		{
			name: "oidc scopes missing openid",
			configYAML: `
oidc:
  issuer: "https://keycloak.example.com/realms/test"
  client_id: "sessiongate"
  redirect_uri: "http://localhost:9000/callback"
  scopes:
    - profile
`,
			wantErr:     true,
			errContains: "must include 'openid'",
		},
		{
			name: "duplicate user",
			configYAML: `
auth:
  users:
    - name: sven
      password_hash: x
    - name: sven
      password_hash: y
`,
			wantErr:     true,
			errContains: "duplicate user",
		},
		{
			name: "invalid log level",
			configYAML: `
log:
  level: "verbose"
`,
			wantErr:     true,
			errContains: "log.level must be one of",
		},
		{
			name: "invalid yaml",
			configYAML: `
this is not: valid: yaml:
  bad: [syntax
`,
			wantErr:     true,
			errContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "config.yaml", tt.configYAML)

			cfg, err := Load(path)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want error containing %v", err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if cfg == nil {
					t.Error("expected config, got nil")
				}
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeTemp(t, "config.toml", `
fixtures = "demo"

[listen]
http = ":9100"

[gate]
logon_page = "/signin"
ignore_extensions = ["html"]
cache_auth_session_on_http_session = "true"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.HTTP != ":9100" {
		t.Errorf("Listen.HTTP = %s, want :9100", cfg.Listen.HTTP)
	}
	if cfg.Gate.LogonPage != "/signin" {
		t.Errorf("Gate.LogonPage = %s, want /signin", cfg.Gate.LogonPage)
	}
	if cfg.Fixtures != "demo" {
		t.Errorf("Fixtures = %s, want demo", cfg.Fixtures)
	}
	// Defaults survive for keys the file does not set.
	if cfg.Session.Store != "memory" {
		t.Errorf("Session.Store = %s, want memory", cfg.Session.Store)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SESSIONGATE_OIDC_CLIENT_SECRET", "env-secret")
	t.Setenv("SESSIONGATE_LOG_LEVEL", "debug")
	t.Setenv("SESSIONGATE_GATE_LOGON_PAGE", "/signin")

	path := writeTemp(t, "config.yaml", `
oidc:
  issuer: "https://keycloak.example.com/realms/test"
  client_id: "sessiongate"
  client_secret: "yaml-secret"
  redirect_uri: "http://localhost:9000/callback"
log:
  level: "info"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.OIDC.ClientSecret != "env-secret" {
		t.Errorf("expected client_secret='env-secret', got '%s'", cfg.OIDC.ClientSecret)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Log.Level)
	}

	if cfg.Gate.LogonPage != "/signin" {
		t.Errorf("expected logon page '/signin', got '%s'", cfg.Gate.LogonPage)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "session timeout too high",
			modify: func(c *Config) {
				c.Auth.SessionTimeout = 100000
			},
			wantErr: true,
			errMsg:  "should not exceed 86400",
		},
		{
			name: "session timeout zero",
			modify: func(c *Config) {
				c.Auth.SessionTimeout = 0
			},
			wantErr: true,
			errMsg:  "must be positive",
		},
		{
			name: "short jwt secret",
			modify: func(c *Config) {
				c.Auth.JWTSecret = "short"
			},
			wantErr: true,
			errMsg:  "at least 32 bytes",
		},
		{
			name: "redis without address",
			modify: func(c *Config) {
				c.Session.Store = "redis"
			},
			wantErr: true,
			errMsg:  "redis_addr is required",
		},
		{
			name: "unknown store",
			modify: func(c *Config) {
				c.Session.Store = "etcd"
			},
			wantErr: true,
			errMsg:  "session.store must be one of",
		},
		{
			name: "relative fallback redirect",
			modify: func(c *Config) {
				c.Gate.RedirectToOnNoSessionException = "oops"
			},
			wantErr: true,
			errMsg:  "must start with '/'",
		},
		{
			name: "TLS enabled without cert",
			modify: func(c *Config) {
				c.TLS.Enabled = true
				c.TLS.CertFile = ""
			},
			wantErr: true,
			errMsg:  "are required when TLS is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()

			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want error containing %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestGateParams(t *testing.T) {
	g := GateConfig{
		LogonPage:                     "/logon",
		CacheAuthSessionOnHTTPSession: "true",
		IgnoreExtensions:              []string{"html", "htmlviewer"},
	}

	params := g.Params()

	if params["logonPage"] != "/logon" {
		t.Errorf("logonPage = %q, want /logon", params["logonPage"])
	}
	if params["ignoreExtensions"] != "html,htmlviewer" {
		t.Errorf("ignoreExtensions = %q, want html,htmlviewer", params["ignoreExtensions"])
	}
	if _, ok := params["redirectToOnNoSessionException"]; ok {
		t.Error("unset redirect should not be present")
	}
}

func TestRedact(t *testing.T) {
	cfg := &Config{
		OIDC: OIDCConfig{
			ClientSecret: "super-secret",
		},
		Auth: AuthConfig{
			JWTSecret: "0123456789abcdef0123456789abcdef",
			Users:     []UserConfig{{Name: "sven", PasswordHash: "hash"}},
		},
	}

	redacted := cfg.Redact()

	if redacted.OIDC.ClientSecret != "[REDACTED]" {
		t.Errorf("expected [REDACTED], got %s", redacted.OIDC.ClientSecret)
	}
	if redacted.Auth.JWTSecret != "[REDACTED]" {
		t.Errorf("expected [REDACTED], got %s", redacted.Auth.JWTSecret)
	}
	if redacted.Auth.Users[0].PasswordHash != "[REDACTED]" {
		t.Errorf("expected [REDACTED], got %s", redacted.Auth.Users[0].PasswordHash)
	}

	// Original should be unchanged
	if cfg.OIDC.ClientSecret != "super-secret" {
		t.Errorf("original was modified")
	}
	if cfg.Auth.Users[0].PasswordHash != "hash" {
		t.Errorf("original user was modified")
	}
}

func TestSetupLogging(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
	})

	SetupLogging(&LogConfig{Level: "debug", Format: "json"})
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug logs to be enabled")
	}

	SetupLogging(&LogConfig{Level: "error", Format: "text"})
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info logs to be disabled at error level")
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error logs to be enabled")
	}
}
