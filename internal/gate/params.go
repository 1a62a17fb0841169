package gate

import (
	"fmt"
	"strings"

	"github.com/al-bashkir/sessiongate/internal/auth"
)

// Parameter keys understood by ParseParams.
const (
	ParamLogonPage                      = "logonPage"
	ParamRedirectToOnNoSessionException = "redirectToOnNoSessionException"
	ParamCacheAuthSessionOnHTTPSession  = "cacheAuthSessionOnHttpSession"
	ParamIgnoreExtensions               = "ignoreExtensions"
)

// Options is the gate's configuration. It is not modified after New.
type Options struct {
	// LogonPage, if set, is where unauthenticated requests are redirected.
	LogonPage string

	// RedirectToOnNoSessionException, if set, is where an unauthenticated
	// request is redirected when the downstream chain faults. It only
	// applies when LogonPage is empty.
	RedirectToOnNoSessionException string

	Caching auth.Caching

	// IgnoreExtensions lists path suffixes, without the dot, that bypass
	// session handling.
	IgnoreExtensions []string
}

// ParseParams builds Options from named string parameters.
func ParseParams(params map[string]string) (Options, error) {
	opts := Options{
		LogonPage:                      params[ParamLogonPage],
		RedirectToOnNoSessionException: params[ParamRedirectToOnNoSessionException],
	}

	caching, err := auth.ParseCaching(params[ParamCacheAuthSessionOnHTTPSession])
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", ParamCacheAuthSessionOnHTTPSession, err)
	}
	opts.Caching = caching

	if v, ok := params[ParamIgnoreExtensions]; ok {
		for _, ext := range strings.Split(v, ",") {
			ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
			if ext != "" {
				opts.IgnoreExtensions = append(opts.IgnoreExtensions, ext)
			}
		}
	}

	return opts, opts.validate()
}

func (o Options) validate() error {
	if o.LogonPage != "" && !strings.HasPrefix(o.LogonPage, "/") {
		return fmt.Errorf("%s must be an absolute path, got %q", ParamLogonPage, o.LogonPage)
	}
	if o.RedirectToOnNoSessionException != "" && !strings.HasPrefix(o.RedirectToOnNoSessionException, "/") {
		return fmt.Errorf("%s must be an absolute path, got %q",
			ParamRedirectToOnNoSessionException, o.RedirectToOnNoSessionException)
	}
	for _, ext := range o.IgnoreExtensions {
		if ext == "" || strings.Contains(ext, "/") || strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%s: invalid extension %q", ParamIgnoreExtensions, ext)
		}
	}
	return nil
}
