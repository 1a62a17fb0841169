package bootstrap

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/al-bashkir/sessiongate/internal/domain"
)

// Environment variables naming fixtures. Keys match case-insensitively.
var fixtureEnvKeys = []string{"SESSIONGATE_FIXTURE", "SESSIONGATE_FIXTURES"}

// FixtureFromEnvironment reads the fixtures to install from the
// environment. The first matching variable wins.
type FixtureFromEnvironment struct {
	fixtures string
	found    bool
}

func (h *FixtureFromEnvironment) AddFlags(*pflag.FlagSet) {}

// Handle never rejects startup; a missing variable just leaves nothing to prime.
func (h *FixtureFromEnvironment) Handle(environ func() []string) bool {
	for _, kv := range environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, want := range fixtureEnvKeys {
			if strings.EqualFold(key, want) {
				h.fixtures = value
				h.found = true
				return true
			}
		}
	}
	return true
}

func (h *FixtureFromEnvironment) Prime(cfg *domain.Configuration) {
	if !h.found {
		return
	}
	prime(cfg, domain.FixturesKey, h.fixtures)
}

// FixtureFromFlag reads the fixtures to install from --fixture.
type FixtureFromFlag struct {
	fixtures string
}

func (h *FixtureFromFlag) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&h.fixtures, "fixture", "", "Comma separated fixtures to install at startup")
}

func (h *FixtureFromFlag) Handle(func() []string) bool { return true }

func (h *FixtureFromFlag) Prime(cfg *domain.Configuration) {
	if h.fixtures == "" {
		return
	}
	prime(cfg, domain.FixturesKey, h.fixtures)
}

// FixtureFromConfig primes the fixtures named in the configuration file.
type FixtureFromConfig struct {
	Fixtures string
}

func (h *FixtureFromConfig) AddFlags(*pflag.FlagSet) {}

func (h *FixtureFromConfig) Handle(func() []string) bool { return true }

func (h *FixtureFromConfig) Prime(cfg *domain.Configuration) {
	if h.Fixtures == "" {
		return
	}
	prime(cfg, domain.FixturesKey, h.Fixtures)
}
