package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/al-bashkir/sessiongate/internal/bootstrap"
	"github.com/al-bashkir/sessiongate/internal/config"
	"github.com/al-bashkir/sessiongate/internal/domain"
	"github.com/al-bashkir/sessiongate/internal/ipc"
	"github.com/al-bashkir/sessiongate/internal/session"
)

func newTestOIDCIssuer(t *testing.T) string {
	t.Helper()

	var baseURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := baseURL + "/realms/test"

		switch r.URL.Path {
		case "/realms/test/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":                 issuer,
				"authorization_endpoint": issuer + "/auth",
				"token_endpoint":         issuer + "/token",
				"jwks_uri":               issuer + "/keys",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	baseURL = ts.URL
	t.Cleanup(ts.Close)

	return baseURL + "/realms/test"
}

// shortSocketPath keeps the socket path under the sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sg-daemon-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "control.sock")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Listen.HTTP = "127.0.0.1:0"
	cfg.Listen.Socket = shortSocketPath(t)
	cfg.Fixtures = "demo"
	cfg.Auth.Users = []config.UserConfig{
		{Name: "sven", PasswordHash: string(hash), Roles: []string{"user"}},
	}
	return cfg
}

func noEnviron() []string { return nil }

func newTestDaemon(t *testing.T, cfg *config.Config, opts ...Option) *Daemon {
	t.Helper()
	d, err := New(context.Background(), cfg, append([]Option{WithEnviron(noEnviron), WithVersion("test")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(d.closeStore)
	return d
}

// browser logs on through the daemon's HTTP handler and returns a client
// holding the session cookie.
func browser(t *testing.T, d *Daemon) (*httptest.Server, *http.Client) {
	t.Helper()
	ts := httptest.NewServer(d.httpServer.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := c.PostForm(ts.URL+"/logon", url.Values{"username": {"sven"}, "password": {"secret"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	return ts, c
}

func countObjects(t *testing.T, ts *httptest.Server, c *http.Client) int {
	t.Helper()
	resp, err := c.Get(ts.URL + "/api/objects")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var objects []domain.Object
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&objects))
	return len(objects)
}

func TestNewWiresComponents(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	assert.NotNil(t, d.gate)
	assert.NotNil(t, d.httpServer)
	assert.NotNil(t, d.ipcServer)
	assert.Equal(t, "/logon", d.gate.Options().LogonPage)

	ts, c := browser(t, d)
	assert.Equal(t, 4, countObjects(t, ts, c), "demo fixture should be installed")
	assert.Equal(t, 0, d.domain.OpenCount())
}

func TestStartupOptionsOverrideConfigFixtures(t *testing.T) {
	cfg := testConfig(t)
	custom := domain.ObjectsFixture("custom", domain.Object{Type: "Employee", Title: "Ann Other"})

	d := newTestDaemon(t, cfg,
		WithFixtures(domain.DemoFixture(), custom),
		WithStartupOptions(&bootstrap.FixtureFromEnvironment{}),
		WithEnviron(func() []string { return []string{"sessiongate_fixtures=custom"} }),
	)

	ts, c := browser(t, d)
	assert.Equal(t, 1, countObjects(t, ts, c))
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown fixture",
			modify:  func(c *config.Config) { c.Fixtures = "nope" },
			wantErr: "unknown fixture",
		},
		{
			name:    "bearer without secret",
			modify:  func(c *config.Config) { c.Gate.Lookup = []string{"http_session", "bearer"} },
			wantErr: "not available",
		},
		{
			name:    "relative logon page",
			modify:  func(c *config.Config) { c.Gate.LogonPage = "logon" },
			wantErr: "invalid gate configuration",
		},
		{
			name:    "unknown session store",
			modify:  func(c *config.Config) { c.Session.Store = "etcd" },
			wantErr: "unknown session store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)

			_, err := New(context.Background(), cfg, WithEnviron(noEnviron))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewWithOIDC(t *testing.T) {
	cfg := testConfig(t)
	cfg.OIDC.Issuer = newTestOIDCIssuer(t)
	cfg.OIDC.ClientID = "test-client"
	cfg.OIDC.RedirectURI = "http://127.0.0.1:9000/callback"

	d := newTestDaemon(t, cfg)
	ts := httptest.NewServer(d.httpServer.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/logon")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/logon/oidc")
}

func TestControlListAndRevoke(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	ts, c := browser(t, d)
	ctx := context.Background()

	resp, err := d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeListSessions})
	require.NoError(t, err)
	require.Len(t, resp.Sessions, 1)
	info := resp.Sessions[0]
	assert.Equal(t, "sven", info.User)
	assert.Equal(t, "password", info.Method)

	_, err = d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeRevokeSession, SessionID: "ffffffffffffffff"})
	assert.ErrorContains(t, err, "no session matches")

	_, err = d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeRevokeSession, SessionID: "abc"})
	assert.Error(t, err)

	resp, err = d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeRevokeSession, SessionID: info.ID[:ipc.MinSessionIDPrefix]})
	require.NoError(t, err)
	assert.Equal(t, info.ID, resp.Revoked)

	me, err := c.Get(ts.URL + "/api/me")
	require.NoError(t, err)
	_ = me.Body.Close()
	assert.Equal(t, http.StatusFound, me.StatusCode)

	resp, err = d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeListSessions})
	require.NoError(t, err)
	assert.Empty(t, resp.Sessions)
}

func TestControlRevokeAmbiguous(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	ctx := context.Background()

	for _, id := range []string{"0123456789aa", "0123456789bb"} {
		require.NoError(t, d.store.Save(ctx, &session.Session{
			ID:        id,
			Data:      map[string]string{},
			CreatedAt: time.Now(),
		}))
	}

	_, err := d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeRevokeSession, SessionID: "0123456789"})
	assert.ErrorContains(t, err, "ambiguous")

	resp, err := d.handleControl(ctx, &ipc.Request{Type: ipc.MessageTypeRevokeSession, SessionID: "0123456789b"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789bb", resp.Revoked)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(context.Background(), cfg, WithEnviron(noEnviron))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	client := ipc.NewClient(cfg.Listen.Socket)
	require.Eventually(t, func() bool {
		_, err := client.ListSessions(context.Background())
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}

	_, err = os.Stat(cfg.Listen.Socket)
	assert.True(t, os.IsNotExist(err), "socket should be removed on shutdown")
}

func TestRun_HTTPServerStartFailureStopsAndReturnsError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listen.HTTP = "127.0.0.1:-1" // invalid port -> ListenAndServe fails immediately

	d, err := New(context.Background(), cfg, WithEnviron(noEnviron))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to fail, got nil")
		}
	case <-time.After(5 * time.Second):
		// Best-effort cleanup to avoid leaking goroutines/sockets on failure.
		d.stopIPC()
		d.closeStore()
		t.Fatal("timeout waiting for Run to return")
	}
}
