// Package resource marks and serves cacheable static resources.
package resource

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

//go:embed static/*
var staticFS embed.FS

type cachedKey struct{}

// Caching returns middleware that marks requests for paths ending in one of
// extensions as cached resources and lets clients cache the response for
// maxAge.
func Caching(extensions []string, maxAge time.Duration) func(http.Handler) http.Handler {
	suffixes := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext != "" {
			suffixes = append(suffixes, "."+ext)
		}
	}
	cacheControl := fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasSuffix(r.URL.Path, suffixes) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Cache-Control", cacheControl)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cachedKey{}, true)))
		})
	}
}

func hasSuffix(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// IsCached reports whether r was marked by Caching.
func IsCached(r *http.Request) bool {
	v, _ := r.Context().Value(cachedKey{}).(bool)
	return v
}

// Handler serves the embedded static assets. Mount it under /static/.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// ImageLoader loads images from the embedded static assets.
type ImageLoader struct {
	fsys fs.FS
}

// Init checks that the static assets are readable.
func (l *ImageLoader) Init() error {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return err
	}
	if _, err := fs.ReadDir(sub, "."); err != nil {
		return fmt.Errorf("reading static assets: %w", err)
	}
	l.fsys = sub
	return nil
}

// LoadImage returns the named asset.
func (l *ImageLoader) LoadImage(name string) ([]byte, error) {
	if l.fsys == nil {
		return nil, fmt.Errorf("image loader is not initialised")
	}
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("invalid image name %q", name)
	}
	return fs.ReadFile(l.fsys, name)
}
