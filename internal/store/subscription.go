package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tmcfarland/shepherd/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var stripeSubID, stripeCustomerID sql.NullString
	var periodStart, periodEnd, canceledAt sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.AccountID, &stripeSubID, &stripeCustomerID, &sub.Plan, &sub.Status,
		&periodStart, &periodEnd, &canceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeSubID.Valid {
		sub.StripeSubscriptionID = &stripeSubID.String
	}
	if stripeCustomerID.Valid {
		sub.StripeCustomerID = &stripeCustomerID.String
	}
	if periodStart.Valid {
		sub.CurrentPeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if canceledAt.Valid {
		sub.CanceledAt = &canceledAt.Time
	}
	return &sub, nil
}

const subscriptionCols = `id, account_id, stripe_subscription_id, stripe_customer_id, plan, status, current_period_start, current_period_end, canceled_at, created_at, updated_at`

func (s *SubscriptionStore) Create(accountID int64, stripeSubID, stripeCustomerID, plan, status string, periodStart, periodEnd *time.Time) (*model.Subscription, error) {
	result, err := s.db.Exec(
		`INSERT INTO subscriptions (account_id, stripe_subscription_id, stripe_customer_id, plan, status, current_period_start, current_period_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		accountID, nullableString(stripeSubID), nullableString(stripeCustomerID), plan, status,
		nullableTime(periodStart), nullableTime(periodEnd),
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SubscriptionStore) GetByID(id int64) (*model.Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByStripeID(stripeSubID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`,
		stripeSubID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// GetByStripeCustomerID returns the customer's most recent non-canceled
// subscription, or the most recent overall if all are canceled.
func (s *SubscriptionStore) GetByStripeCustomerID(customerID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_customer_id = ?
		 ORDER BY status = 'canceled', created_at DESC LIMIT 1`,
		customerID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by customer id: %w", err)
	}
	return sub, nil
}

// GetCurrentByAccountID returns the account's non-canceled subscription, if any.
func (s *SubscriptionStore) GetCurrentByAccountID(accountID int64) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ? AND status != 'canceled'
		 ORDER BY created_at DESC LIMIT 1`,
		accountID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) ListByAccountID(accountID int64) ([]model.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// CancelAllForAccount marks every non-canceled subscription canceled in one
// statement, which is what keeps the at-most-one-active invariant when a new
// subscription is activated.
func (s *SubscriptionStore) CancelAllForAccount(accountID int64) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE subscriptions SET status = 'canceled', canceled_at = datetime('now'), updated_at = datetime('now')
		 WHERE account_id = ? AND status != 'canceled'`,
		accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel subscriptions for account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *SubscriptionStore) Update(id int64, plan, status string, periodStart, periodEnd *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET plan = ?, status = ?, current_period_start = ?, current_period_end = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		plan, status, nullableTime(periodStart), nullableTime(periodEnd), id,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) UpdateStatus(id int64, status string) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL so unique indexes don't collide on empties.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SubscriptionStore) MarkCanceled(id int64) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET status = 'canceled', canceled_at = datetime('now'), updated_at = datetime('now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark subscription canceled: %w", err)
	}
	return nil
}
