// Package bootstrap collects startup options from the command line, the
// environment and .env files, and primes the domain configuration with them.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/al-bashkir/sessiongate/internal/domain"
)

// OptionHandler contributes one startup option.
type OptionHandler interface {
	// AddFlags registers the handler's command-line flags, if any.
	AddFlags(fs *pflag.FlagSet)

	// Handle reads the option once flags are parsed. environ returns the
	// current process environment as KEY=value pairs. It reports false if
	// startup must not continue.
	Handle(environ func() []string) bool

	// Prime writes the option into cfg.
	Prime(cfg *domain.Configuration)
}

// AddFlags registers the flags of all handlers.
func AddFlags(fs *pflag.FlagSet, handlers ...OptionHandler) {
	for _, h := range handlers {
		h.AddFlags(fs)
	}
}

// Handle lets every handler read its option, in order.
func Handle(handlers []OptionHandler, environ func() []string) error {
	for _, h := range handlers {
		if !h.Handle(environ) {
			return fmt.Errorf("startup option rejected by %T", h)
		}
	}
	return nil
}

// Prime applies every handler to cfg, in order. Later handlers win.
func Prime(handlers []OptionHandler, cfg *domain.Configuration) {
	for _, h := range handlers {
		h.Prime(cfg)
	}
}

// Run handles and primes in one step.
func Run(handlers []OptionHandler, environ func() []string, cfg *domain.Configuration) error {
	if err := Handle(handlers, environ); err != nil {
		return err
	}
	Prime(handlers, cfg)
	return nil
}

func prime(cfg *domain.Configuration, key, value string) {
	slog.Info("priming", "key", key, "value", value)
	cfg.Add(key, value)
}
