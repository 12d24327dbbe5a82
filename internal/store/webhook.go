package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/tmcfarland/shepherd/internal/model"
)

type WebhookStore struct {
	db *sql.DB
}

func NewWebhookStore(db *sql.DB) *WebhookStore {
	return &WebhookStore{db: db}
}

func scanWebhookSubscription(scanner interface{ Scan(...any) error }) (*model.WebhookSubscription, error) {
	var w model.WebhookSubscription
	var events string
	var isActive int
	var description sql.NullString
	err := scanner.Scan(
		&w.ID, &w.AccountID, &w.URL, &events, &w.Secret, &isActive,
		&description, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if events != "" {
		w.Events = strings.Split(events, ",")
	}
	w.IsActive = isActive != 0
	if description.Valid {
		w.Description = description.String
	}
	return &w, nil
}

const webhookCols = `id, account_id, url, events, secret, is_active, description, created_at, updated_at`

func (s *WebhookStore) Create(accountID int64, url string, events []string, secret, description string) (*model.WebhookSubscription, error) {
	result, err := s.db.Exec(
		`INSERT INTO webhook_subscriptions (account_id, url, events, secret, description) VALUES (?, ?, ?, ?, ?)`,
		accountID, url, strings.Join(events, ","), secret, description,
	)
	if err != nil {
		return nil, fmt.Errorf("insert webhook subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *WebhookStore) GetByID(id int64) (*model.WebhookSubscription, error) {
	row := s.db.QueryRow(`SELECT `+webhookCols+` FROM webhook_subscriptions WHERE id = ?`, id)
	w, err := scanWebhookSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook subscription: %w", err)
	}
	return w, nil
}

func (s *WebhookStore) ListByAccountID(accountID int64) ([]model.WebhookSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+webhookCols+` FROM webhook_subscriptions WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	defer rows.Close()
	return collectWebhookSubscriptions(rows)
}

// ListActiveForEvent returns the account's active subscriptions whose event set
// contains eventName. The event list is a comma-joined column, so matching
// happens here rather than in SQL.
func (s *WebhookStore) ListActiveForEvent(accountID int64, eventName string) ([]model.WebhookSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+webhookCols+` FROM webhook_subscriptions WHERE account_id = ? AND is_active = 1 ORDER BY id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active webhook subscriptions: %w", err)
	}
	defer rows.Close()

	subs, err := collectWebhookSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	var matched []model.WebhookSubscription
	for _, sub := range subs {
		for _, e := range sub.Events {
			if e == eventName {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

func collectWebhookSubscriptions(rows *sql.Rows) ([]model.WebhookSubscription, error) {
	var subs []model.WebhookSubscription
	for rows.Next() {
		w, err := scanWebhookSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook subscription: %w", err)
		}
		subs = append(subs, *w)
	}
	return subs, rows.Err()
}

func (s *WebhookStore) SetActive(id int64, active bool) error {
	var v int
	if active {
		v = 1
	}
	_, err := s.db.Exec(
		`UPDATE webhook_subscriptions SET is_active = ?, updated_at = datetime('now') WHERE id = ?`,
		v, id,
	)
	if err != nil {
		return fmt.Errorf("set webhook subscription active: %w", err)
	}
	return nil
}

// Delete is final; matching for future events stops immediately.
func (s *WebhookStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	return nil
}
