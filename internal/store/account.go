package store

import (
	"database/sql"
	"fmt"

	"github.com/tmcfarland/shepherd/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var stripeID sql.NullString
	var isActive int
	err := scanner.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Role, &isActive, &stripeID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.IsActive = isActive != 0
	if stripeID.Valid {
		a.StripeCustomerID = &stripeID.String
	}
	return &a, nil
}

const accountCols = `id, email, password_hash, role, is_active, stripe_customer_id, created_at, updated_at`

func (s *AccountStore) Create(email, passwordHash string) (*model.Account, error) {
	result, err := s.db.Exec(
		`INSERT INTO accounts (email, password_hash) VALUES (?, ?)`,
		email, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) UpdatePasswordHash(id int64, passwordHash string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET password_hash = ?, updated_at = datetime('now') WHERE id = ?`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

func (s *AccountStore) UpdateStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = datetime('now') WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	return nil
}

// SetActive soft-enables or soft-disables an account. Accounts are never
// physically deleted.
func (s *AccountStore) SetActive(id int64, active bool) error {
	var v int
	if active {
		v = 1
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET is_active = ?, updated_at = datetime('now') WHERE id = ?`,
		v, id,
	)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	return nil
}
