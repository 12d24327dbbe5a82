package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tmcfarland/shepherd/internal/model"
)

type APIKeyStore struct {
	db *sql.DB
}

func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

func scanAPIKey(scanner interface{ Scan(...any) error }) (*model.APIKey, error) {
	var k model.APIKey
	var scopes string
	var expiresAt, lastUsedAt sql.NullTime
	var revoked int
	err := scanner.Scan(
		&k.ID, &k.AccountID, &k.Name, &k.KeyHash, &k.KeyPrefix, &scopes,
		&expiresAt, &revoked, &lastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scopes != "" {
		k.Scopes = strings.Split(scopes, ",")
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	k.Revoked = revoked != 0
	return &k, nil
}

const apiKeyCols = `id, account_id, name, key_hash, key_prefix, scopes, expires_at, revoked, last_used_at, created_at`

func (s *APIKeyStore) Create(accountID int64, name, keyHash, keyPrefix string, scopes []string, expiresAt *time.Time) (*model.APIKey, error) {
	result, err := s.db.Exec(
		`INSERT INTO api_keys (account_id, name, key_hash, key_prefix, scopes, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, name, keyHash, keyPrefix, strings.Join(scopes, ","), nullableTime(expiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *APIKeyStore) GetByID(id int64) (*model.APIKey, error) {
	row := s.db.QueryRow(`SELECT `+apiKeyCols+` FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *APIKeyStore) GetByHash(keyHash string) (*model.APIKey, error) {
	row := s.db.QueryRow(`SELECT `+apiKeyCols+` FROM api_keys WHERE key_hash = ?`, keyHash)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

func (s *APIKeyStore) ListByAccountID(accountID int64) ([]model.APIKey, error) {
	rows, err := s.db.Query(
		`SELECT `+apiKeyCols+` FROM api_keys WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Revoke is terminal; there is no un-revoke.
func (s *APIKeyStore) Revoke(id int64) error {
	_, err := s.db.Exec(`UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

func (s *APIKeyStore) TouchLastUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
