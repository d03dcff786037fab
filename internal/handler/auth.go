package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/weekplate/internal/auth"
	"github.com/dukerupert/weekplate/internal/middleware"
	"github.com/dukerupert/weekplate/internal/store"
)

type AuthHandler struct {
	userStore     *store.UserStore
	sessionStore  *store.SessionStore
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userStore:     us,
		sessionStore:  ss,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// Login handles POST /login. The session token is set as a cookie and also
// returned in the body for API clients.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	emailAddr := strings.TrimSpace(stringField(fields, "email"))
	password := stringField(fields, "password")
	if emailAddr == "" || password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Email and password are required.",
			"errors":  map[string][]string{"email": {"Email and password are required."}},
		})
		return
	}

	user, err := h.userStore.GetByEmail(emailAddr)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "These credentials do not match our records.",
			"errors":  map[string][]string{"email": {"These credentials do not match our records."}},
		})
		return
	}

	sess, err := h.sessionStore.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secureCookies || r.TLS != nil,
	})

	h.logger.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
		"user":       user,
	})
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.sessionStore.Delete(token); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("current user", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if user == nil {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: user})
}
