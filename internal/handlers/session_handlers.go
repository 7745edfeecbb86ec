package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/login"
	"github.com/vendorportal/vendorportal/internal/middleware"
	"github.com/vendorportal/vendorportal/internal/service"
)

type SessionHandlers struct {
	sessions *service.SessionStorage
	auth     *service.AuthContextService
	logger   *logrus.Logger
}

func NewSessionHandlers(sessions *service.SessionStorage, auth *service.AuthContextService, logger *logrus.Logger) *SessionHandlers {
	return &SessionHandlers{
		sessions: sessions,
		auth:     auth,
		logger:   logger,
	}
}

type SessionResponse struct {
	UserEmail string `json:"user_email,omitempty"`
	SignedIn  bool   `json:"signed_in"`
}

// GetSession exposes the session-scoped values downstream pages read.
func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	email, ok, err := h.sessions.GetItem(r.Context(), middleware.SessionID(r.Context()), login.SessionEmailKey)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read session")
		respondWithError(w, http.StatusInternalServerError, "SESSION_UNAVAILABLE", "Failed to read session")
		return
	}

	respondWithJSON(w, http.StatusOK, SessionResponse{UserEmail: email, SignedIn: ok})
}

// Logout drops the signed-in identity from the session; the cookie itself
// stays so a new login flow can start on it.
func (h *SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())

	err := h.auth.SignOut(r.Context(), sessionID)
	if err == nil {
		err = h.sessions.RemoveItem(r.Context(), sessionID, login.SessionEmailKey)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to sign out")
		respondWithError(w, http.StatusInternalServerError, "SESSION_UNAVAILABLE", "Failed to clear session")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// Me returns the signed-in user of the bearer token. The session record is
// preferred when it belongs to the same address.
func (h *SessionHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	user, err := h.auth.Current(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read current user from session")
	}
	if user != nil && user.Email == claims.Email {
		respondWithJSON(w, http.StatusOK, user)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"id":       claims.Subject,
		"email":    claims.Email,
		"verified": claims.Verified,
	})
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
