package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tmcfarland/shepherd/internal/auth"
	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
	"github.com/tmcfarland/shepherd/internal/webhook"
)

const defaultDeliveryLimit = 50

type WebhookHandler struct {
	registry   *webhook.Registry
	engine     *webhook.Engine
	deliveries *store.DeliveryStore
	logger     *slog.Logger
}

func NewWebhookHandler(registry *webhook.Registry, engine *webhook.Engine, deliveries *store.DeliveryStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{registry: registry, engine: engine, deliveries: deliveries, logger: logger}
}

// Events lists the event taxonomy so integrators can discover what they can
// subscribe to.
func (h *WebhookHandler) Events(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, webhook.Taxonomy())
}

type createSubscriptionRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description string   `json:"description"`
}

type createSubscriptionResponse struct {
	Subscription *model.WebhookSubscription `json:"subscription"`
	// Secret is returned exactly once, at creation.
	Secret string `json:"secret"`
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	accountID := auth.AccountID(r.Context())
	sub, secret, err := h.registry.Create(accountID, req.URL, req.Events, req.Description)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSubscriptionResponse{Subscription: sub, Secret: secret})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	subs, err := h.registry.List(accountID)
	if err != nil {
		h.logger.Error("list webhook subscriptions", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.WebhookSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *WebhookHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.registry.SetActive(sub.ID, req.Active); err != nil {
		h.logger.Error("set subscription active", "subscription_id", sub.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to update subscription")
		return
	}
	sub.IsActive = req.Active
	writeJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	if err := h.registry.Delete(sub.ID); err != nil {
		h.logger.Error("delete subscription", "subscription_id", sub.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Test fires a single synchronous test event at the subscription and reports
// the endpoint's response inline.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	status, err := h.engine.TestFire(r.Context(), sub.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"delivered": false,
			"status":    status,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true, "status": status})
}

func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	deliveries, err := h.deliveries.ListBySubscriptionID(sub.ID, limit)
	if err != nil {
		h.logger.Error("list deliveries", "subscription_id", sub.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []model.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// ownedSubscription resolves the {id} path param to a subscription owned by the
// caller. A subscription belonging to another account reads as 404.
func (h *WebhookHandler) ownedSubscription(w http.ResponseWriter, r *http.Request) (*model.WebhookSubscription, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return nil, false
	}

	sub, err := h.registry.Get(id)
	if err != nil {
		h.logger.Error("get subscription", "subscription_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to load subscription")
		return nil, false
	}
	if sub == nil || sub.AccountID != auth.AccountID(r.Context()) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return nil, false
	}
	return sub, true
}
