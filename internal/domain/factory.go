// Package domain provides the per-request domain session runtime: a factory
// that combines configuration with the persistence and authorization
// collaborators, and a Context that opens and closes sessions by threading
// them through context.Context.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/al-bashkir/sessiongate/internal/auth"
)

// ErrNotInitialized is returned when a session is requested from a factory
// whose Init has not succeeded.
var ErrNotInitialized = errors.New("session factory not initialized")

// Authorizer decides whether a session may perform an action.
type Authorizer interface {
	Authorize(s *auth.Session, action string) bool
}

// AllowAll authorizes every action.
type AllowAll struct{}

func (AllowAll) Authorize(*auth.Session, string) bool { return true }

// RoleAuthorizer maps an action to the roles allowed to perform it. A
// session holding any one of them is authorized. Actions without an entry
// are open to every session.
type RoleAuthorizer map[string][]string

func (ra RoleAuthorizer) Authorize(s *auth.Session, action string) bool {
	roles, ok := ra[action]
	if !ok {
		return true
	}
	if s == nil {
		return false
	}
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// TemplateImageLoader loads images used when rendering objects.
type TemplateImageLoader interface {
	Init() error
	LoadImage(name string) ([]byte, error)
}

// SessionFactory creates domain sessions.
type SessionFactory struct {
	config      *Configuration
	persistence PersistenceSessionFactory
	authorizer  Authorizer
	images      TemplateImageLoader
	fixtures    map[string]Fixture
	logger      *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// FactoryOption configures a SessionFactory.
type FactoryOption func(*SessionFactory)

// WithAuthorizer sets the authorizer. The default allows everything.
func WithAuthorizer(a Authorizer) FactoryOption {
	return func(f *SessionFactory) { f.authorizer = a }
}

// WithTemplateImageLoader sets the image loader initialised by Init.
func WithTemplateImageLoader(l TemplateImageLoader) FactoryOption {
	return func(f *SessionFactory) { f.images = l }
}

// WithFixtures registers fixtures that the fixtures key may name.
func WithFixtures(fixtures ...Fixture) FactoryOption {
	return func(f *SessionFactory) {
		for _, fx := range fixtures {
			f.fixtures[fx.Name()] = fx
		}
	}
}

// NewSessionFactory creates a factory. Init must be called before sessions
// can be opened.
func NewSessionFactory(cfg *Configuration, persistence PersistenceSessionFactory, opts ...FactoryOption) *SessionFactory {
	f := &SessionFactory{
		config:      cfg,
		persistence: persistence,
		authorizer:  AllowAll{},
		fixtures:    make(map[string]Fixture),
		logger:      slog.Default().With("component", "domain"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Init prepares the collaborators and installs the configured fixtures.
func (f *SessionFactory) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	if f.images != nil {
		if err := f.images.Init(); err != nil {
			return fmt.Errorf("initializing template images: %w", err)
		}
	}

	for _, name := range f.config.List(FixturesKey) {
		fx, ok := f.fixtures[name]
		if !ok {
			return fmt.Errorf("unknown fixture %q", name)
		}
		if err := f.install(ctx, fx); err != nil {
			return fmt.Errorf("installing fixture %q: %w", name, err)
		}
		f.logger.Info("Fixture installed", "fixture", name)
	}

	f.initialized = true
	return nil
}

func (f *SessionFactory) install(ctx context.Context, fx Fixture) error {
	ps, err := f.persistence.CreatePersistenceSession(ctx)
	if err != nil {
		return err
	}
	if err := ps.Open(ctx); err != nil {
		return err
	}
	defer ps.Close(ctx)

	return fx.Install(ctx, ps)
}

// Configuration returns the factory's configuration.
func (f *SessionFactory) Configuration() *Configuration {
	return f.config
}

// Images returns the template image loader, which may be nil.
func (f *SessionFactory) Images() TemplateImageLoader {
	return f.images
}

// OpenSession creates and opens a domain session for a.
func (f *SessionFactory) OpenSession(ctx context.Context, a *auth.Session) (*Session, error) {
	f.mu.Lock()
	ready := f.initialized
	f.mu.Unlock()
	if !ready {
		return nil, ErrNotInitialized
	}
	if a == nil {
		return nil, fmt.Errorf("cannot open domain session without authentication")
	}

	ps, err := f.persistence.CreatePersistenceSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating persistence session: %w", err)
	}
	if err := ps.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening persistence session: %w", err)
	}

	return &Session{
		ID:          uuid.NewString(),
		Auth:        a,
		Persistence: ps,
		OpenedAt:    time.Now(),
		authorizer:  f.authorizer,
	}, nil
}

// Session is a domain session: an authenticated user's access to persisted
// objects for the duration of one request.
type Session struct {
	ID          string
	Auth        *auth.Session
	Persistence PersistenceSession
	OpenedAt    time.Time

	authorizer Authorizer
	closeOnce  sync.Once
	closeErr   error
}

// Can reports whether the session's user may perform action.
func (s *Session) Can(action string) bool {
	return s.authorizer.Authorize(s.Auth, action)
}

// Close closes the persistence session. Only the first call has an effect.
// It reports whether this call closed the session.
func (s *Session) Close(ctx context.Context) (bool, error) {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		s.closeErr = s.Persistence.Close(ctx)
	})
	return closed, s.closeErr
}
