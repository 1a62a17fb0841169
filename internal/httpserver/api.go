package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/al-bashkir/sessiongate/internal/domain"
	"github.com/al-bashkir/sessiongate/internal/gate"
)

// Actions checked against the domain session's authorizer.
const (
	ActionListObjects  = "objects.list"
	ActionStoreObject  = "objects.store"
	ActionIssueToken   = "token.issue"
	maxObjectBodyBytes = 256 << 10
)

// MeResponse describes the caller's domain session.
type MeResponse struct {
	User      string    `json:"user"`
	Roles     []string  `json:"roles,omitempty"`
	Method    string    `json:"method"`
	SessionID string    `json:"session_id"`
	OpenedAt  time.Time `json:"opened_at"`
	ExpiresAt time.Time `json:"expires_at"`
	State     string    `json:"state"`
}

// TokenResponse carries a freshly issued bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, errorResponse{Error: msg})
}

// currentSession returns the request's domain session or answers 401.
func currentSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	ds := domain.Current(r.Context())
	if ds == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return ds, true
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	page := homePage{LogonPath: s.logonPath}
	if ds := domain.Current(r.Context()); ds != nil {
		page.User = ds.Auth.UserName
		page.Roles = ds.Auth.Roles
		page.Method = string(ds.Auth.Method)
		page.SessionID = ds.ID
	}
	s.renderPage(w, http.StatusOK, "home.html", page)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ds, ok := currentSession(w, r)
	if !ok {
		return
	}

	_ = writeJSON(w, http.StatusOK, MeResponse{
		User:      ds.Auth.UserName,
		Roles:     ds.Auth.Roles,
		Method:    string(ds.Auth.Method),
		SessionID: ds.ID,
		OpenedAt:  ds.OpenedAt,
		ExpiresAt: ds.Auth.ExpiresAt,
		State:     gate.StateFrom(r.Context()).String(),
	})
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	ds, ok := currentSession(w, r)
	if !ok {
		return
	}
	if !ds.Can(ActionListObjects) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	objects, err := ds.Persistence.Objects(r.Context())
	if err != nil {
		slog.Error("failed to list objects", "session", ds.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list objects")
		return
	}

	if typ := r.URL.Query().Get("type"); typ != "" {
		filtered := objects[:0]
		for _, o := range objects {
			if strings.EqualFold(o.Type, typ) {
				filtered = append(filtered, o)
			}
		}
		objects = filtered
	}
	if objects == nil {
		objects = []domain.Object{}
	}

	_ = writeJSON(w, http.StatusOK, objects)
}

func (s *Server) handleStoreObject(w http.ResponseWriter, r *http.Request) {
	ds, ok := currentSession(w, r)
	if !ok {
		return
	}
	if !ds.Can(ActionStoreObject) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxObjectBodyBytes)
	var obj domain.Object
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		writeError(w, http.StatusBadRequest, "malformed object")
		return
	}
	if obj.Type == "" || obj.Title == "" {
		writeError(w, http.StatusBadRequest, "type and title are required")
		return
	}

	stored, err := ds.Persistence.Store(r.Context(), obj)
	if err != nil {
		slog.Error("failed to store object", "session", ds.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store object")
		return
	}

	slog.Debug("object stored", "user", sanitizeLog(ds.Auth.UserName), "id", stored.ID, "type", sanitizeLog(stored.Type))
	_ = writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ds, ok := currentSession(w, r)
	if !ok {
		return
	}
	if s.deps.Tokens == nil {
		writeError(w, http.StatusNotFound, "bearer tokens are not enabled")
		return
	}
	if !ds.Can(ActionIssueToken) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	ttl := s.tokenTTL()
	token, err := s.deps.Tokens.Issue(ds.Auth, ttl)
	if err != nil {
		slog.Error("failed to issue token", "user", sanitizeLog(ds.Auth.UserName), "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	expiresIn := int(ttl.Seconds())
	if left := int(time.Until(ds.Auth.ExpiresAt).Seconds()); left < expiresIn {
		expiresIn = left
	}

	_ = writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: expiresIn,
	})
}
