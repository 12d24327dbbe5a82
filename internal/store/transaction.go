package store

import (
	"database/sql"
	"fmt"

	"github.com/tmcfarland/shepherd/internal/model"
)

type TransactionStore struct {
	db *sql.DB
}

func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func scanTransaction(scanner interface{ Scan(...any) error }) (*model.Transaction, error) {
	var t model.Transaction
	err := scanner.Scan(&t.ID, &t.SubscriptionID, &t.StripeInvoiceID, &t.Amount, &t.Currency, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const transactionCols = `id, subscription_id, stripe_invoice_id, amount, currency, created_at`

// Insert records a payment. The invoice id carries a unique constraint and the
// insert is OR IGNORE, so replaying the same invoice event leaves exactly one
// row; the bool reports whether a row was actually written.
func (s *TransactionStore) Insert(subscriptionID int64, stripeInvoiceID string, amount int64, currency string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO transactions (subscription_id, stripe_invoice_id, amount, currency) VALUES (?, ?, ?, ?)`,
		subscriptionID, stripeInvoiceID, amount, currency,
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *TransactionStore) GetByInvoiceID(stripeInvoiceID string) (*model.Transaction, error) {
	row := s.db.QueryRow(
		`SELECT `+transactionCols+` FROM transactions WHERE stripe_invoice_id = ?`,
		stripeInvoiceID,
	)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by invoice id: %w", err)
	}
	return t, nil
}

func (s *TransactionStore) ListBySubscriptionID(subscriptionID int64) ([]model.Transaction, error) {
	rows, err := s.db.Query(
		`SELECT `+transactionCols+` FROM transactions WHERE subscription_id = ? ORDER BY created_at DESC`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}
