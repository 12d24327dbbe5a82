package model

import "time"

// WebhookSubscription is a customer-registered endpoint for domain events.
// Secret is the HMAC signing secret; it is shown once at creation and excluded
// from API responses thereafter.
type WebhookSubscription struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	URL         string    `json:"url"`
	Events      []string  `json:"events"`
	Secret      string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WebhookDelivery tracks one event's delivery to one subscription across retries.
type WebhookDelivery struct {
	ID             string     `json:"id"`
	SubscriptionID int64      `json:"subscription_id"`
	Event          string     `json:"event"`
	Payload        string     `json:"payload"`
	Attempts       int        `json:"attempts"`
	LastStatus     *int       `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	Exhausted      bool       `json:"exhausted"`
	CreatedAt      time.Time  `json:"created_at"`
}
