package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tmcfarland/shepherd/internal/store"
)

// AdminHandler holds account administration endpoints. All routes using it
// sit behind the admin-role middleware.
type AdminHandler struct {
	accounts *store.AccountStore
	sessions *store.SessionStore
	logger   *slog.Logger
}

func NewAdminHandler(accounts *store.AccountStore, sessions *store.SessionStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, sessions: sessions, logger: logger}
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account ID")
		return
	}

	account, err := h.accounts.GetByID(id)
	if err != nil {
		h.logger.Error("get account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to load account")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type setAccountActiveRequest struct {
	Active bool `json:"active"`
}

// SetAccountActive soft-disables or re-enables an account. Disabling also
// revokes every live session so existing refresh tokens die with the account.
func (h *AdminHandler) SetAccountActive(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account ID")
		return
	}

	var req setAccountActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	account, err := h.accounts.GetByID(id)
	if err != nil {
		h.logger.Error("get account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to update account")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := h.accounts.SetActive(id, req.Active); err != nil {
		h.logger.Error("set account active", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to update account")
		return
	}
	if !req.Active {
		if err := h.sessions.DeleteByAccountID(id); err != nil {
			h.logger.Error("revoke sessions for disabled account", "account_id", id, "error", err)
		}
	}

	h.logger.Info("account active flag changed", "account_id", id, "active", req.Active)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": req.Active})
}
