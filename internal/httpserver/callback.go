package httpserver

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/sessiongate/internal/auth"
	"github.com/al-bashkir/sessiongate/internal/oidc"
)

// attrOIDCPending is the HTTP-session attribute holding the in-flight login.
const attrOIDCPending = "oidc.pending"

// handleOIDCStart begins an OIDC logon and redirects to the provider.
func (s *Server) handleOIDCStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.OIDC == nil {
		http.NotFound(w, r)
		return
	}

	pending, authURL, err := s.deps.OIDC.StartAuthFlow(r.Context(), safeNext(r.URL.Query().Get("next")))
	if err != nil {
		slog.Error("failed to start OIDC flow", "error", err)
		s.renderError(w, http.StatusBadGateway, "Identity provider is unavailable")
		return
	}

	hs, err := s.deps.Sessions.Ensure(w, r)
	if err != nil {
		slog.Error("failed to create HTTP session", "error", err)
		s.renderError(w, http.StatusInternalServerError, "Could not create session")
		return
	}
	hs.Set(attrOIDCPending, pending.Encode())
	if err := s.deps.Sessions.Save(r.Context(), hs); err != nil {
		slog.Error("failed to save HTTP session", "error", err)
		s.renderError(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback handles the OIDC callback
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OIDC == nil {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	if errCode := query.Get("error"); errCode != "" {
		slog.Warn("OIDC provider returned error", // #nosec G706 -- values sanitized via sanitizeLog
			"error", sanitizeLog(errCode),
			"description", sanitizeLog(query.Get("error_description")),
		)
		s.renderError(w, http.StatusBadRequest, "Authentication was denied by the identity provider")
		return
	}

	if code == "" || state == "" {
		s.renderError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	hs, err := s.deps.Sessions.Load(r)
	if err != nil {
		slog.Warn("OIDC callback without HTTP session", "error", err)
		s.renderError(w, http.StatusBadRequest, "Login session not found or expired")
		return
	}

	pending, err := oidc.DecodePendingLogin(hs.Get(attrOIDCPending))
	if err != nil {
		s.renderError(w, http.StatusBadRequest, "Login session not found or expired")
		return
	}

	// The pending login is single use.
	hs.Remove(attrOIDCPending)
	if err := s.deps.Sessions.Save(r.Context(), hs); err != nil {
		slog.Warn("failed to clear pending login", "error", err)
	}

	if subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		slog.Warn("OIDC state mismatch")
		s.renderError(w, http.StatusBadRequest, "Invalid login state")
		return
	}

	if pending.Expired(time.Now()) {
		s.renderError(w, http.StatusBadRequest, "Login session not found or expired")
		return
	}

	id, err := s.deps.OIDC.CompleteLogin(r.Context(), code, pending)
	if err != nil {
		slog.Warn("OIDC login failed", "error", err)
		s.renderError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	a := s.deps.Manager.NewSession(id.UserName, id.Roles, auth.MethodOIDC)
	if err := s.deps.Sessions.Remember(w, r, a); err != nil {
		slog.Error("failed to bind session", "user", sanitizeLog(a.UserName), "error", err)
		s.renderError(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	slog.Info("user logged on", "user", sanitizeLog(a.UserName), "method", a.Method)
	http.Redirect(w, r, safeNext(pending.Next), http.StatusSeeOther)
}
