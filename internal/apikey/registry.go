package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
)

var (
	ErrNotFound     = errors.New("api key not found")
	ErrRevoked      = errors.New("api key revoked")
	ErrExpired      = errors.New("api key expired")
	ErrInvalidScope = errors.New("invalid scope")
)

const (
	ScopeRead  = "read"
	ScopeWrite = "write"

	keyPrefixLen = 12
)

// ValidScopes reports whether every scope is a member of the closed scope set
// and the set is non-empty.
func ValidScopes(scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for _, s := range scopes {
		if s != ScopeRead && s != ScopeWrite {
			return false
		}
	}
	return true
}

// Registry manages scoped machine credentials.
type Registry struct {
	keys   *store.APIKeyStore
	logger *slog.Logger
}

func NewRegistry(keys *store.APIKeyStore, logger *slog.Logger) *Registry {
	return &Registry{keys: keys, logger: logger}
}

// Create generates a high-entropy key and returns the plaintext exactly once.
// Only the SHA-256 hash and a display prefix are persisted; there is no read
// path that can recover the plaintext afterwards.
func (r *Registry) Create(accountID int64, name string, scopes []string, expiresAt *time.Time) (*model.APIKey, string, error) {
	if !ValidScopes(scopes) {
		return nil, "", ErrInvalidScope
	}
	plaintext, err := generateKey()
	if err != nil {
		return nil, "", err
	}
	key, err := r.keys.Create(accountID, name, hashKey(plaintext), plaintext[:keyPrefixLen], scopes, expiresAt)
	if err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}

// Verify hashes the presented value and looks it up. Revoked and expired keys
// fail with distinct errors; the last-used touch is best-effort and never
// blocks the caller.
func (r *Registry) Verify(presented string) (*model.APIKey, error) {
	key, err := r.keys.GetByHash(hashKey(presented))
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if key == nil {
		return nil, ErrNotFound
	}
	if key.Revoked {
		return nil, ErrRevoked
	}
	if key.ExpiresAt != nil && time.Now().UTC().After(*key.ExpiresAt) {
		return nil, ErrExpired
	}

	go func(id int64) {
		if err := r.keys.TouchLastUsed(id); err != nil {
			r.logger.Debug("touch api key last used", "key_id", id, "error", err)
		}
	}(key.ID)

	return key, nil
}

// Revoke is terminal and irreversible; a revoked key fails Verify even before
// its expiry. The account check keeps one tenant from revoking another's keys.
func (r *Registry) Revoke(accountID, id int64) error {
	key, err := r.keys.GetByID(id)
	if err != nil {
		return err
	}
	if key == nil || key.AccountID != accountID {
		return ErrNotFound
	}
	return r.keys.Revoke(id)
}

func (r *Registry) List(accountID int64) ([]model.APIKey, error) {
	return r.keys.ListByAccountID(accountID)
}

func (r *Registry) Get(id int64) (*model.APIKey, error) {
	return r.keys.GetByID(id)
}

// generateKey returns a key shaped like sk_<43 chars of base64url>.
func generateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
