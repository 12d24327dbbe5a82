package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmcfarland/shepherd/internal/apikey"
	"github.com/tmcfarland/shepherd/internal/auth"
	"github.com/tmcfarland/shepherd/internal/model"
)

type APIKeyHandler struct {
	registry *apikey.Registry
	logger   *slog.Logger
}

func NewAPIKeyHandler(registry *apikey.Registry, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{registry: registry, logger: logger}
}

type createKeyRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	Key *model.APIKey `json:"key"`
	// Plaintext is returned exactly once; only its hash is stored.
	Plaintext string `json:"plaintext"`
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	accountID := auth.AccountID(r.Context())
	key, plaintext, err := h.registry.Create(accountID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidScope) {
			writeError(w, http.StatusBadRequest, "scopes must be a non-empty subset of read, write")
			return
		}
		h.logger.Error("create api key", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to create key")
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{Key: key, Plaintext: plaintext})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	keys, err := h.registry.List(accountID)
	if err != nil {
		h.logger.Error("list api keys", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to list keys")
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key ID")
		return
	}

	accountID := auth.AccountID(r.Context())
	if err := h.registry.Revoke(accountID, id); err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("revoke api key", "account_id", accountID, "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to revoke key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
