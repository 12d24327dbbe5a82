package webhook

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
)

var ErrNotFound = errors.New("webhook subscription not found")

// Registry manages webhook subscription lifecycle: create with a signing
// secret shown once, toggle active, delete for good.
type Registry struct {
	subs *store.WebhookStore
}

func NewRegistry(subs *store.WebhookStore) *Registry {
	return &Registry{subs: subs}
}

// Create validates the target URL and event set, generates a signing secret,
// and persists the subscription. The secret is returned once; API reads never
// include it again.
func (r *Registry) Create(accountID int64, targetURL string, eventNames []string, description string) (*model.WebhookSubscription, string, error) {
	if err := validateURL(targetURL); err != nil {
		return nil, "", err
	}
	events, err := ParseEvents(eventNames)
	if err != nil {
		return nil, "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e)
	}
	sub, err := r.subs.Create(accountID, targetURL, names, secret, description)
	if err != nil {
		return nil, "", err
	}
	return sub, secret, nil
}

func (r *Registry) Get(id int64) (*model.WebhookSubscription, error) {
	return r.subs.GetByID(id)
}

func (r *Registry) List(accountID int64) ([]model.WebhookSubscription, error) {
	return r.subs.ListByAccountID(accountID)
}

func (r *Registry) SetActive(id int64, active bool) error {
	return r.subs.SetActive(id, active)
}

// Delete halts matching for future events immediately; deliveries already in
// flight are allowed to complete.
func (r *Registry) Delete(id int64) error {
	return r.subs.Delete(id)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// generateSecret returns a signing secret shaped like whsec_<43 chars>.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return "whsec_" + base64.RawURLEncoding.EncodeToString(b), nil
}
