package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/znz-systems/mailmind/internal/auth"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/web/middleware"
)

const (
	stateCookie = "oauth_state"
	stateMaxAge = 10 * time.Minute
)

// LoginService is the part of auth.Service the handlers use.
type LoginService interface {
	BeginLogin() (string, string, error)
	CompleteLogin(ctx context.Context, code string) (*models.Session, error)
	Logout(ctx context.Context, token string) error
	MaxAge() time.Duration
}

type AuthHandler struct {
	auth          LoginService
	secureCookies bool
}

func NewAuthHandler(authService LoginService, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		secureCookies: secureCookies,
	}
}

// HandleAuthURL returns the provider consent URL and remembers the state
// in a short-lived cookie.
func (h *AuthHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.auth.BeginLogin()
	if err != nil {
		slog.Error("failed to begin login", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": url})
}

// HandleCallback completes the authorization-code flow and starts a session.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if msg := r.URL.Query().Get("error"); msg != "" {
		slog.Warn("authorization denied", "error", msg, "description", r.URL.Query().Get("error_description"))
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "authorization denied"})
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || !auth.StateMatches(cookie.Value, r.URL.Query().Get("state")) {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid state"})
		return
	}
	h.clearCookie(w, stateCookie)

	session, err := h.auth.CompleteLogin(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCode):
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "missing authorization code"})
		case errors.Is(err, auth.ErrNoEmail):
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "account has no email address"})
		default:
			slog.Error("failed to complete login", "error", err)
			writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "sign-in failed"})
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(h.auth.MaxAge().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout ends the caller's session.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionToken(r)
	if token != "" {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			slog.Error("failed to delete session", "error", err)
		}
	}
	h.clearCookie(w, middleware.SessionCookie)
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
