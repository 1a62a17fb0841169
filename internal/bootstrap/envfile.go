package bootstrap

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/al-bashkir/sessiongate/internal/domain"
)

// DefaultEnvFile is loaded when it exists and no --env-file is given.
const DefaultEnvFile = ".env"

// EnvFile loads KEY=value pairs from a .env file into the process
// environment. Variables already set are not overridden.
type EnvFile struct {
	path string
}

// NewEnvFile returns a handler loading path. An empty path means
// DefaultEnvFile, if present.
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{path: path}
}

func (h *EnvFile) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&h.path, "env-file", h.path, "Path to a .env file loaded before configuration")
}

func (h *EnvFile) Handle(func() []string) bool {
	path := h.path
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return true
		}
		slog.Error("Failed to load env file", "path", path, "error", err)
		return false
	}

	slog.Debug("Loaded env file", "path", path)
	return true
}

func (h *EnvFile) Prime(*domain.Configuration) {}
