package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/al-bashkir/sessiongate/internal/auth"
)

const maxLogonBody = 64 << 10

type logonRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

type logonResponse struct {
	User      string    `json:"user"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token,omitempty"`
	Next      string    `json:"next"`
}

func (s *Server) handleLogonForm(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, "logon.html", logonPage{
		Next: safeNext(r.URL.Query().Get("next")),
		OIDC: s.deps.OIDC != nil,
	})
}

// handleLogon authenticates a password logon posted as a form or as JSON.
// A JSON logon answers with JSON and, when bearer tokens are enabled,
// includes a token for the new session.
func (s *Server) handleLogon(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLogonBody)

	jsonBody := isJSON(r)
	var req logonRequest
	if jsonBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed logon request")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.renderError(w, http.StatusBadRequest, "Malformed logon request")
			return
		}
		req = logonRequest{
			Username: r.PostFormValue("username"),
			Password: r.PostFormValue("password"),
			Next:     r.PostFormValue("next"),
		}
	}
	next := safeNext(req.Next)

	a, err := s.deps.Manager.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrUnknownUser) && !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Error("password logon failed", "user", sanitizeLog(req.Username), "error", err)
		} else {
			slog.Warn("password logon rejected", "user", sanitizeLog(req.Username))
		}
		if jsonBody {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		s.renderPage(w, http.StatusUnauthorized, "logon.html", logonPage{
			Next:     next,
			Username: req.Username,
			Error:    "Invalid username or password",
			OIDC:     s.deps.OIDC != nil,
		})
		return
	}

	if err := s.deps.Sessions.Remember(w, r, a); err != nil {
		slog.Error("failed to bind session", "user", sanitizeLog(a.UserName), "error", err)
		if jsonBody {
			writeError(w, http.StatusInternalServerError, "could not create session")
			return
		}
		s.renderError(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	slog.Info("user logged on", "user", sanitizeLog(a.UserName), "method", a.Method)

	if !jsonBody {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	resp := logonResponse{
		User:      a.UserName,
		Roles:     a.Roles,
		ExpiresAt: a.ExpiresAt,
		Next:      next,
	}
	if s.deps.Tokens != nil {
		token, err := s.deps.Tokens.Issue(a, s.tokenTTL())
		if err != nil {
			slog.Error("failed to issue token", "user", sanitizeLog(a.UserName), "error", err)
			writeError(w, http.StatusInternalServerError, "could not issue token")
			return
		}
		resp.Token = token
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

// handleLogout forgets the HTTP session and revokes the authentication
// session it carried, including bearer tokens minted from it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a := s.deps.Sessions.Forget(w, r); a != nil {
		s.deps.Manager.Invalidate(a)
		slog.Info("user logged out", "user", sanitizeLog(a.UserName))
	}

	if isJSON(r) || acceptsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, s.logonPath, http.StatusSeeOther)
}

func (s *Server) tokenTTL() time.Duration {
	return time.Duration(s.cfg.Auth.TokenTTL) * time.Second
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func acceptsJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Accept"))
	return err == nil && mt == "application/json"
}
