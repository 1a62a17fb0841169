package httpserver

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
)

// logonPage is the data behind logon.html.
type logonPage struct {
	Next     string
	Username string
	Error    string
	OIDC     bool
}

// homePage is the data behind home.html.
type homePage struct {
	User      string
	Roles     []string
	Method    string
	SessionID string
	LogonPath string
}

// renderPage renders the named template with status. The template is
// executed into a buffer first so a failure can still become a clean 500.
func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError renders the error page
func (s *Server) renderError(w http.ResponseWriter, status int, errMsg string) {
	s.renderPage(w, status, "error.html", map[string]string{
		"Error":     errMsg,
		"LogonPath": s.logonPath,
	})
}

// safeNext keeps post-logon redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
