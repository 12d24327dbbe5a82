package billing

import (
	"encoding/json"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
	"github.com/tmcfarland/shepherd/internal/webhook"
)

// Emitter hands subscription lifecycle events to the webhook delivery engine.
type Emitter interface {
	Emit(accountID int64, event webhook.Event, payload map[string]any)
}

// Reconciler merges inbound Stripe lifecycle events into subscription state.
// Every handler is idempotent under redelivery, and handlers for the same
// external subscription id are serialized; provider-side failures that can
// never resolve (account missing) are logged and swallowed so Stripe does not
// retry them forever.
type Reconciler struct {
	accounts      *store.AccountStore
	subscriptions *store.SubscriptionStore
	transactions  *store.TransactionStore
	emitter       Emitter
	plans         PlanMap
	locks         *keyedMutex
	logger        *slog.Logger
}

func NewReconciler(
	accounts *store.AccountStore,
	subscriptions *store.SubscriptionStore,
	transactions *store.TransactionStore,
	emitter Emitter,
	plans PlanMap,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		accounts:      accounts,
		subscriptions: subscriptions,
		transactions:  transactions,
		emitter:       emitter,
		plans:         plans,
		locks:         newKeyedMutex(),
		logger:        logger,
	}
}

// Process dispatches one verified event. Unknown event types are ignored, not
// errors: the provider sends more kinds than we care about.
func (r *Reconciler) Process(event stripe.Event) {
	switch event.Type {
	case "checkout.session.completed":
		r.handleCheckoutCompleted(event)
	case "customer.subscription.updated":
		r.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		r.handleSubscriptionDeleted(event)
	case "invoice.paid":
		r.handleInvoicePaid(event)
	case "invoice.payment_failed":
		r.handleInvoicePaymentFailed(event)
	}
}

func (r *Reconciler) handleCheckoutCompleted(event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		r.logger.Error("unmarshal checkout session", "error", err)
		return
	}

	email := ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}
	if email == "" {
		r.logger.Error("checkout session missing email", "event_id", event.ID)
		return
	}

	var externalSubID string
	if sess.Subscription != nil {
		externalSubID = sess.Subscription.ID
	}
	unlock := r.locks.Lock(lockKey(externalSubID, email))
	defer unlock()

	account, err := r.accounts.GetByEmail(email)
	if err != nil {
		r.logger.Error("get account by email", "error", err)
		return
	}
	if account == nil {
		// Permanently unresolvable; rejecting would only make the
		// provider retry.
		r.logger.Warn("checkout completed for unknown account", "email", email)
		return
	}

	if externalSubID != "" {
		existing, err := r.subscriptions.GetByStripeID(externalSubID)
		if err != nil {
			r.logger.Error("get subscription by stripe id", "error", err)
			return
		}
		if existing != nil {
			// Redelivered checkout event; already reconciled.
			return
		}
	}

	var customerID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
		if err := r.accounts.UpdateStripeCustomerID(account.ID, customerID); err != nil {
			r.logger.Error("update stripe customer id", "error", err)
		}
	}

	if n, err := r.subscriptions.CancelAllForAccount(account.ID); err != nil {
		r.logger.Error("cancel prior subscriptions", "error", err)
		return
	} else if n > 0 {
		r.logger.Info("canceled prior subscriptions on new checkout", "account_id", account.ID, "count", n)
	}

	plan := r.plans.PlanForPrice(sess.Metadata["price_id"])
	sub, err := r.subscriptions.Create(account.ID, externalSubID, customerID, plan, model.SubscriptionStatusActive, nil, nil)
	if err != nil {
		r.logger.Error("create subscription", "error", err)
		return
	}

	r.logger.Info("checkout completed", "account_id", account.ID, "plan", plan)
	r.emitter.Emit(account.ID, webhook.EventSubscriptionActivated, map[string]any{
		"subscription_id": sub.ID,
		"plan":            sub.Plan,
		"status":          sub.Status,
	})
}

func (r *Reconciler) handleSubscriptionUpdated(event stripe.Event) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		r.logger.Error("unmarshal subscription", "error", err)
		return
	}

	unlock := r.locks.Lock(lockKey(stripeSub.ID, ""))
	defer unlock()

	sub, err := r.subscriptions.GetByStripeID(stripeSub.ID)
	if err != nil || sub == nil {
		if err != nil {
			r.logger.Error("get subscription by stripe id", "error", err)
		}
		return
	}

	status := mapProviderStatus(stripeSub.Status)
	plan := sub.Plan
	periodStart, periodEnd := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if stripeSub.Items != nil && len(stripeSub.Items.Data) > 0 {
		item := stripeSub.Items.Data[0]
		if item.Price != nil {
			plan = r.plans.PlanForPrice(item.Price.ID)
		}
		if item.CurrentPeriodStart > 0 {
			t := time.Unix(item.CurrentPeriodStart, 0).UTC()
			periodStart = &t
		}
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			periodEnd = &t
		}
	}

	// The provider redelivers and also sends updates that change nothing we
	// track; comparing first keeps receivers from being spammed with
	// identical subscription.changed events.
	if sub.Status == status && sub.Plan == plan &&
		equalTime(sub.CurrentPeriodStart, periodStart) && equalTime(sub.CurrentPeriodEnd, periodEnd) {
		return
	}

	if err := r.subscriptions.Update(sub.ID, plan, status, periodStart, periodEnd); err != nil {
		r.logger.Error("update subscription", "error", err)
		return
	}

	r.logger.Info("subscription updated", "subscription_id", sub.ID, "status", status, "plan", plan)
	r.emitter.Emit(sub.AccountID, webhook.EventSubscriptionChanged, map[string]any{
		"subscription_id": sub.ID,
		"plan":            plan,
		"status":          status,
	})
}

func (r *Reconciler) handleSubscriptionDeleted(event stripe.Event) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		r.logger.Error("unmarshal subscription", "error", err)
		return
	}

	unlock := r.locks.Lock(lockKey(stripeSub.ID, ""))
	defer unlock()

	sub, err := r.subscriptions.GetByStripeID(stripeSub.ID)
	if err != nil || sub == nil {
		if err != nil {
			r.logger.Error("get subscription by stripe id", "error", err)
		}
		return
	}
	if sub.Status == model.SubscriptionStatusCanceled {
		return
	}

	if err := r.subscriptions.MarkCanceled(sub.ID); err != nil {
		r.logger.Error("mark subscription canceled", "error", err)
		return
	}

	r.logger.Info("subscription canceled", "subscription_id", sub.ID)
	r.emitter.Emit(sub.AccountID, webhook.EventSubscriptionCanceled, map[string]any{
		"subscription_id": sub.ID,
		"plan":            sub.Plan,
	})
}

func (r *Reconciler) handleInvoicePaid(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		r.logger.Error("unmarshal invoice", "error", err)
		return
	}
	if invoice.Customer == nil {
		return
	}

	unlock := r.locks.Lock(lockKey(subscriptionIDFromInvoice(invoice), invoice.Customer.ID))
	defer unlock()

	sub, err := r.subscriptions.GetByStripeCustomerID(invoice.Customer.ID)
	if err != nil || sub == nil {
		if err != nil {
			r.logger.Error("get subscription by customer id", "error", err)
		} else {
			r.logger.Warn("invoice paid for unknown customer", "customer_id", invoice.Customer.ID)
		}
		return
	}

	inserted, err := r.transactions.Insert(sub.ID, invoice.ID, invoice.AmountPaid, string(invoice.Currency))
	if err != nil {
		r.logger.Error("record transaction", "error", err)
		return
	}
	if !inserted {
		// Redelivered invoice event; the ledger row already exists.
		return
	}
	r.logger.Info("payment recorded", "subscription_id", sub.ID, "invoice_id", invoice.ID, "amount", invoice.AmountPaid)
}

func (r *Reconciler) handleInvoicePaymentFailed(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		r.logger.Error("unmarshal invoice", "error", err)
		return
	}

	externalSubID := subscriptionIDFromInvoice(invoice)
	if externalSubID == "" {
		return
	}

	unlock := r.locks.Lock(lockKey(externalSubID, ""))
	defer unlock()

	sub, err := r.subscriptions.GetByStripeID(externalSubID)
	if err != nil || sub == nil {
		if err != nil {
			r.logger.Error("get subscription by stripe id", "error", err)
		}
		return
	}
	if sub.Status == model.SubscriptionStatusPastDue {
		return
	}

	if err := r.subscriptions.UpdateStatus(sub.ID, model.SubscriptionStatusPastDue); err != nil {
		r.logger.Error("update subscription status to past_due", "error", err)
		return
	}
	r.logger.Info("subscription past due", "subscription_id", sub.ID)
}

// subscriptionIDFromInvoice extracts the subscription ID from an invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func mapProviderStatus(s stripe.SubscriptionStatus) string {
	switch s {
	case stripe.SubscriptionStatusActive:
		return model.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue:
		return model.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusTrialing:
		return model.SubscriptionStatusTrialing
	default:
		return model.SubscriptionStatusCanceled
	}
}

func lockKey(externalSubID, fallback string) string {
	if externalSubID != "" {
		return externalSubID
	}
	return fallback
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
