package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tmcfarland/shepherd/internal/model"
)

type DeliveryStore struct {
	db *sql.DB
}

func NewDeliveryStore(db *sql.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

func scanDelivery(scanner interface{ Scan(...any) error }) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var lastStatus sql.NullInt64
	var lastError sql.NullString
	var deliveredAt sql.NullTime
	var exhausted int
	err := scanner.Scan(
		&d.ID, &d.SubscriptionID, &d.Event, &d.Payload, &d.Attempts,
		&lastStatus, &lastError, &deliveredAt, &exhausted, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastStatus.Valid {
		status := int(lastStatus.Int64)
		d.LastStatus = &status
	}
	if lastError.Valid {
		d.LastError = lastError.String
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	d.Exhausted = exhausted != 0
	return &d, nil
}

const deliveryCols = `id, subscription_id, event, payload, attempts, last_status, last_error, delivered_at, exhausted, created_at`

func (s *DeliveryStore) Create(id string, subscriptionID int64, event, payload string) (*model.WebhookDelivery, error) {
	_, err := s.db.Exec(
		`INSERT INTO webhook_deliveries (id, subscription_id, event, payload) VALUES (?, ?, ?, ?)`,
		id, subscriptionID, event, payload,
	)
	if err != nil {
		return nil, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return s.GetByID(id)
}

func (s *DeliveryStore) GetByID(id string) (*model.WebhookDelivery, error) {
	row := s.db.QueryRow(`SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook delivery: %w", err)
	}
	return d, nil
}

// RecordAttempt bumps the attempt counter and stores the latest HTTP outcome.
// status 0 means no response was received (timeout or connection error).
func (s *DeliveryStore) RecordAttempt(id string, status int, errMsg string) error {
	var statusVal any
	if status > 0 {
		statusVal = status
	}
	_, err := s.db.Exec(
		`UPDATE webhook_deliveries SET attempts = attempts + 1, last_status = ?, last_error = ? WHERE id = ?`,
		statusVal, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}

func (s *DeliveryStore) MarkDelivered(id string) error {
	_, err := s.db.Exec(
		`UPDATE webhook_deliveries SET delivered_at = datetime('now'), last_error = '' WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark delivery delivered: %w", err)
	}
	return nil
}

func (s *DeliveryStore) MarkExhausted(id string) error {
	_, err := s.db.Exec(`UPDATE webhook_deliveries SET exhausted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark delivery exhausted: %w", err)
	}
	return nil
}

func (s *DeliveryStore) ListBySubscriptionID(subscriptionID int64, limit int) ([]model.WebhookDelivery, error) {
	rows, err := s.db.Query(
		`SELECT `+deliveryCols+` FROM webhook_deliveries WHERE subscription_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		subscriptionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// DeleteOlderThan prunes delivery history past the retention window.
func (s *DeliveryStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM webhook_deliveries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
