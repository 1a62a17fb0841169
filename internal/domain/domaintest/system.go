// Package domaintest wires a domain runtime with mock collaborators for use
// in tests.
package domaintest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/sessiongate/internal/auth"
	"github.com/al-bashkir/sessiongate/internal/domain"
)

// MockAuthorizer is a testify mock of domain.Authorizer.
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(s *auth.Session, action string) bool {
	args := m.Called(s, action)
	return args.Bool(0)
}

// MockTemplateImageLoader is a testify mock of domain.TemplateImageLoader.
type MockTemplateImageLoader struct {
	mock.Mock
}

func (m *MockTemplateImageLoader) Init() error {
	return m.Called().Error(0)
}

func (m *MockTemplateImageLoader) LoadImage(name string) ([]byte, error) {
	args := m.Called(name)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// System is a running domain runtime with one open session belonging to
// user "tester".
type System struct {
	Authorizer  *MockAuthorizer
	Images      *MockTemplateImageLoader
	Persistence *domain.InMemoryPersistence
	Factory     *domain.SessionFactory
	Context     *domain.Context

	// Ctx carries the open session.
	Ctx context.Context

	config *domain.Configuration
}

// NewSystem builds and initialises the runtime. The mocks accept any call
// by default; tests may add stricter expectations. Fixtures passed in are
// registered and installed. The session is closed when the test ends.
func NewSystem(t testing.TB, fixtures ...domain.Fixture) *System {
	t.Helper()

	authorizer := &MockAuthorizer{}
	authorizer.On("Authorize", mock.Anything, mock.Anything).Return(true).Maybe()

	images := &MockTemplateImageLoader{}
	images.On("Init").Return(nil).Maybe()
	images.On("LoadImage", mock.Anything).Return(nil, nil).Maybe()

	config := domain.NewConfiguration()
	names := ""
	for i, fx := range fixtures {
		if i > 0 {
			names += ","
		}
		names += fx.Name()
	}
	if names != "" {
		config.Add(domain.FixturesKey, names)
	}

	persistence := domain.NewInMemoryPersistence()
	factory := domain.NewSessionFactory(config, persistence,
		domain.WithAuthorizer(authorizer),
		domain.WithTemplateImageLoader(images),
		domain.WithFixtures(fixtures...),
	)
	require.NoError(t, factory.Init(context.Background()))

	dc := domain.NewContext(factory, nil)
	ctx, err := dc.OpenSession(context.Background(), &auth.Session{
		UserName: "tester",
		Code:     "001",
		Method:   auth.MethodFixture,
	})
	require.NoError(t, err)
	t.Cleanup(func() { dc.CloseSession(ctx) })

	return &System{
		Authorizer:  authorizer,
		Images:      images,
		Persistence: persistence,
		Factory:     factory,
		Context:     dc,
		Ctx:         ctx,
		config:      config,
	}
}

// Session returns the open session.
func (s *System) Session() *domain.Session {
	return domain.Current(s.Ctx)
}

// Configuration returns the runtime configuration.
func (s *System) Configuration() *domain.Configuration {
	return s.config
}

// AddToConfiguration adds a property to the runtime configuration.
func (s *System) AddToConfiguration(key, value string) {
	s.config.Add(key, value)
}
