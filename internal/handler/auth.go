package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/tmcfarland/shepherd/internal/auth"
)

const minPasswordLen = 8

type AuthHandler struct {
	manager *auth.Manager
	logger  *slog.Logger
}

func NewAuthHandler(manager *auth.Manager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{manager: manager, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	account, err := h.manager.Register(req.Email, req.Password)
	if err != nil {
		// Covers the duplicate-email case too; a distinct "email taken"
		// answer would confirm account existence.
		h.logger.Warn("register failed", "error", err)
		writeError(w, http.StatusBadRequest, "unable to register")
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	_, pair, err := h.manager.Login(strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAccountDisabled) {
			writeError(w, http.StatusForbidden, "account disabled")
			return
		}
		if errors.Is(err, auth.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("login", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to log in")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh redeems a refresh token for a new pair. Replay of a rotated token
// and a token that never existed both end in 401, but with distinct bodies:
// the client contract is one refresh attempt, then forced re-authentication.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := h.manager.RedeemRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAlreadyUsed):
			writeError(w, http.StatusUnauthorized, "refresh token already used")
		case errors.Is(err, auth.ErrExpired):
			writeError(w, http.StatusUnauthorized, "refresh token expired")
		case errors.Is(err, auth.ErrInvalidCredential):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.logger.Error("redeem refresh", "error", err)
			writeError(w, http.StatusInternalServerError, "unable to refresh")
		}
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.manager.Logout(req.RefreshToken); err != nil {
		h.logger.Error("logout", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	RefreshToken    string `json:"refresh_token"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	accountID := auth.AccountID(r.Context())
	err := h.manager.ChangePassword(accountID, req.CurrentPassword, req.NewPassword, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("change password", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to change password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}
