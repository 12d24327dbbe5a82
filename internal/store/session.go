package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tmcfarland/shepherd/internal/model"
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	var prevHash sql.NullString
	err := scanner.Scan(&s.ID, &s.AccountID, &s.TokenHash, &prevHash, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if prevHash.Valid {
		s.PrevTokenHash = &prevHash.String
	}
	return &s, nil
}

const sessionCols = `id, account_id, token_hash, prev_token_hash, expires_at, created_at`

func (s *SessionStore) Create(accountID int64, tokenHash string, expiresAt time.Time) (*model.Session, error) {
	result, err := s.db.Exec(
		`INSERT INTO sessions (account_id, token_hash, expires_at) VALUES (?, ?, ?)`,
		accountID, tokenHash, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SessionStore) GetByID(id int64) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) GetByTokenHash(tokenHash string) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE token_hash = ?`, tokenHash)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token hash: %w", err)
	}
	return sess, nil
}

// GetByPrevTokenHash looks a lineage up by the hash that was rotated away most
// recently. A hit means the presented refresh token was already redeemed.
func (s *SessionStore) GetByPrevTokenHash(tokenHash string) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE prev_token_hash = ?`, tokenHash)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by prev token hash: %w", err)
	}
	return sess, nil
}

// Rotate atomically replaces the lineage's current hash with newHash, keeping
// the old one in prev_token_hash. The update is conditional on oldHash still
// being current, so of two concurrent redemptions exactly one succeeds.
func (s *SessionStore) Rotate(id int64, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE sessions SET prev_token_hash = token_hash, token_hash = ?, expires_at = ?
		 WHERE id = ? AND token_hash = ?`,
		newHash, expiresAt, id, oldHash,
	)
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SessionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteByAccountID(accountID int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete sessions by account: %w", err)
	}
	return nil
}

// DeleteOthersByAccountID removes all of the account's lineages except keepID.
// Used on password change so stolen refresh tokens die with the old password.
func (s *SessionStore) DeleteOthersByAccountID(accountID, keepID int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE account_id = ? AND id != ?`, accountID, keepID)
	if err != nil {
		return fmt.Errorf("delete other sessions: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
