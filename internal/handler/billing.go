package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/tmcfarland/shepherd/internal/auth"
	"github.com/tmcfarland/shepherd/internal/billing"
	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
)

// maxStripeBodyBytes bounds the inbound webhook body read. Stripe events are
// small; anything larger is not a Stripe event.
const maxStripeBodyBytes = 65536

type BillingHandler struct {
	client        *billing.Client
	reconciler    *billing.Reconciler
	accounts      *store.AccountStore
	subscriptions *store.SubscriptionStore
	transactions  *store.TransactionStore
	logger        *slog.Logger
}

func NewBillingHandler(
	client *billing.Client,
	reconciler *billing.Reconciler,
	accounts *store.AccountStore,
	subscriptions *store.SubscriptionStore,
	transactions *store.TransactionStore,
	logger *slog.Logger,
) *BillingHandler {
	return &BillingHandler{
		client:        client,
		reconciler:    reconciler,
		accounts:      accounts,
		subscriptions: subscriptions,
		transactions:  transactions,
		logger:        logger,
	}
}

// StripeWebhook receives provider events. The signature is verified before
// anything in the body is trusted; a verified event always gets a 200 even if
// reconciliation logged an internal failure, because provider retries cannot
// fix our bugs.
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxStripeBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	event, err := h.client.ConstructWebhookEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("stripe webhook signature verification failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	h.reconciler.Process(event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// CreateCheckout starts a Stripe checkout for a paid plan. The account's
// Stripe customer is created lazily on first checkout.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	priceID := h.client.PriceForPlan(req.Plan)
	if priceID == "" {
		writeError(w, http.StatusBadRequest, "unknown plan")
		return
	}

	accountID := auth.AccountID(r.Context())
	account, err := h.accounts.GetByID(accountID)
	if err != nil || account == nil {
		h.logger.Error("get account", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start checkout")
		return
	}

	var customerID string
	if account.StripeCustomerID != nil {
		customerID = *account.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.client.CreateCustomer(account.Email)
		if err != nil {
			h.logger.Error("create stripe customer", "account_id", accountID, "error", err)
			writeError(w, http.StatusInternalServerError, "unable to start checkout")
			return
		}
		if err := h.accounts.UpdateStripeCustomerID(accountID, customerID); err != nil {
			h.logger.Error("save stripe customer id", "account_id", accountID, "error", err)
		}
	}

	url, err := h.client.CreateCheckoutSession(customerID, priceID)
	if err != nil {
		h.logger.Error("create checkout session", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start checkout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	accountID := auth.AccountID(r.Context())
	account, err := h.accounts.GetByID(accountID)
	if err != nil || account == nil {
		h.logger.Error("get account", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to open billing portal")
		return
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID == "" {
		writeError(w, http.StatusBadRequest, "no billing account yet")
		return
	}

	url, err := h.client.CreateBillingPortalSession(*account.StripeCustomerID, req.ReturnURL)
	if err != nil {
		h.logger.Error("create billing portal session", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to open billing portal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type subscriptionResponse struct {
	Plan         string              `json:"plan"`
	Status       string              `json:"status"`
	Subscription *model.Subscription `json:"subscription,omitempty"`
	Transactions []model.Transaction `json:"transactions"`
}

// GetSubscription reports the account's current plan. Accounts with no
// non-canceled subscription read as the free plan.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	sub, err := h.subscriptions.GetCurrentByAccountID(accountID)
	if err != nil {
		h.logger.Error("get current subscription", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "unable to load subscription")
		return
	}

	resp := subscriptionResponse{
		Plan:         billing.PlanFree,
		Status:       model.SubscriptionStatusActive,
		Transactions: []model.Transaction{},
	}
	if sub != nil {
		resp.Plan = sub.Plan
		resp.Status = sub.Status
		resp.Subscription = sub

		txns, err := h.transactions.ListBySubscriptionID(sub.ID)
		if err != nil {
			h.logger.Error("list transactions", "subscription_id", sub.ID, "error", err)
		} else if txns != nil {
			resp.Transactions = txns
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
