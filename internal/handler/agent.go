package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tmcfarland/shepherd/internal/agent"
	"github.com/tmcfarland/shepherd/internal/auth"
	"github.com/tmcfarland/shepherd/internal/webhook"
)

// Emitter is the webhook engine surface the agent handlers need.
type Emitter interface {
	Emit(accountID int64, event webhook.Event, payload map[string]any)
}

// AgentHandler proxies protection controls to the local enforcement agent and
// emits settings.changed events when a toggle lands.
type AgentHandler struct {
	client  *agent.Client
	emitter Emitter
	logger  *slog.Logger
}

func NewAgentHandler(client *agent.Client, emitter Emitter, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{client: client, emitter: emitter, logger: logger}
}

func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.client.Configured() {
		writeJSON(w, http.StatusOK, agent.Status{})
		return
	}

	status, err := h.client.Status(r.Context())
	if err != nil {
		h.logger.Warn("agent status", "error", err)
		writeJSON(w, http.StatusOK, agent.Status{Installed: true, Running: false})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AgentHandler) SetGameBlocking(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "game_blocking", h.client.SetGameBlocking)
}

func (h *AgentHandler) SetDNSBlocking(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "dns_blocking", h.client.SetDNSBlocking)
}

func (h *AgentHandler) SetBrowserBlocking(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "browser_blocking", h.client.SetBrowserBlocking)
}

func (h *AgentHandler) SetFirewall(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "firewall", func(ctx context.Context, enabled bool) (*agent.Status, error) {
		if enabled {
			return h.client.EnableFirewall(ctx)
		}
		return h.client.DisableFirewall(ctx)
	})
}

func (h *AgentHandler) toggle(w http.ResponseWriter, r *http.Request, feature string, apply func(context.Context, bool) (*agent.Status, error)) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	status, err := apply(r.Context(), req.Enabled)
	if err != nil {
		h.logger.Error("agent toggle", "feature", feature, "error", err)
		writeError(w, http.StatusBadGateway, "agent unavailable")
		return
	}

	h.emitter.Emit(auth.AccountID(r.Context()), webhook.EventSettingsChanged, map[string]any{
		"feature": feature,
		"enabled": req.Enabled,
	})
	writeJSON(w, http.StatusOK, status)
}
