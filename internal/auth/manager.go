package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
)

var (
	// ErrInvalidCredential covers every "we don't say more" failure: bad
	// password, unknown email, malformed or forged token. Deliberately
	// indistinguishable so callers cannot enumerate identifiers.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpired           = errors.New("credential expired")
	// ErrAlreadyUsed means a refresh token that was once valid has already
	// been redeemed. Distinct from ErrInvalidCredential so clients can tell
	// replay (forced re-login) from garbage input.
	ErrAlreadyUsed     = errors.New("refresh token already used")
	ErrAccountDisabled = errors.New("account disabled")
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	redeemTimeout     = 3 * time.Second
)

// TokenPair is what a successful login or refresh redemption returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Manager issues, verifies, and rotates session credentials.
type Manager struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	accounts   *store.AccountStore
	sessions   *store.SessionStore
	logger     *slog.Logger
}

type ManagerOption func(*Manager)

func WithAccessTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.accessTTL = d }
}

func WithRefreshTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.refreshTTL = d }
}

func NewManager(signingKey []byte, accounts *store.AccountStore, sessions *store.SessionStore, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		signingKey: signingKey,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		accounts:   accounts,
		sessions:   sessions,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates an account with a bcrypt-hashed password.
func (m *Manager) Register(email, password string) (*model.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return m.accounts.Create(email, string(hash))
}

// Login checks credentials and issues a fresh session. Unknown email and wrong
// password produce the same error.
func (m *Manager) Login(email, password string) (*model.Account, *TokenPair, error) {
	account, err := m.accounts.GetByEmail(email)
	if err != nil {
		return nil, nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		// Burn a comparison anyway so response timing doesn't reveal
		// whether the email exists.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000uGyYCRjDOSy9yKScCpAUaYfYaTOhMbS6"), []byte(password))
		return nil, nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredential
	}
	if !account.IsActive {
		return nil, nil, ErrAccountDisabled
	}
	pair, err := m.IssueSession(account)
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// IssueSession mints an access token and starts a new refresh lineage. Only the
// refresh token's hash is persisted.
func (m *Manager) IssueSession(account *model.Account) (*TokenPair, error) {
	access, err := mintAccessToken(m.signingKey, account.ID, account.Role, m.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	_, err = m.sessions.Create(account.ID, hashToken(refresh), time.Now().UTC().Add(m.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess is stateless: signature plus expiry, no storage lookup, never
// blocks.
func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	return parseAccessToken(m.signingKey, tokenString)
}

// RedeemRefresh exchanges a refresh token for a new pair, rotating the lineage.
// The rotation is a conditional update keyed on the presented hash, so of two
// concurrent redemptions exactly one succeeds and the other observes
// ErrAlreadyUsed. Replaying a token that was already rotated away invalidates
// the whole lineage: if someone is presenting old tokens, either the client is
// broken or the token was stolen, and in both cases forcing re-authentication
// is the safe move.
func (m *Manager) RedeemRefresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, redeemTimeout)
	defer cancel()

	type result struct {
		pair *TokenPair
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		pair, err := m.redeemRefresh(refreshToken)
		ch <- result{pair, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("redeem refresh: %w", ctx.Err())
	case res := <-ch:
		return res.pair, res.err
	}
}

func (m *Manager) redeemRefresh(refreshToken string) (*TokenPair, error) {
	presented := hashToken(refreshToken)

	sess, err := m.sessions.GetByTokenHash(presented)
	if err != nil {
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}
	if sess == nil {
		return nil, m.classifyMiss(presented)
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		m.sessions.Delete(sess.ID)
		return nil, ErrExpired
	}

	account, err := m.accounts.GetByID(sess.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil || !account.IsActive {
		m.sessions.Delete(sess.ID)
		return nil, ErrInvalidCredential
	}

	refresh, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	rotated, err := m.sessions.Rotate(sess.ID, presented, hashToken(refresh), time.Now().UTC().Add(m.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	if !rotated {
		// Lost a race with a concurrent redemption of the same token.
		return nil, ErrAlreadyUsed
	}

	access, err := mintAccessToken(m.signingKey, account.ID, account.Role, m.accessTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// classifyMiss distinguishes "already rotated away" from "never existed". A
// prev-hash hit is treated as theft evidence and kills the lineage.
func (m *Manager) classifyMiss(presented string) error {
	sess, err := m.sessions.GetByPrevTokenHash(presented)
	if err != nil {
		return fmt.Errorf("look up replayed token: %w", err)
	}
	if sess != nil {
		if err := m.sessions.Delete(sess.ID); err != nil {
			m.logger.Error("invalidate lineage after replay", "session_id", sess.ID, "error", err)
		} else {
			m.logger.Warn("refresh token replay detected, lineage invalidated",
				"session_id", sess.ID, "account_id", sess.AccountID)
		}
		return ErrAlreadyUsed
	}
	return ErrInvalidCredential
}

// Logout revokes the lineage the refresh token belongs to. Unknown tokens are
// a no-op; logout never fails on bad input.
func (m *Manager) Logout(refreshToken string) error {
	presented := hashToken(refreshToken)
	sess, err := m.sessions.GetByTokenHash(presented)
	if err != nil {
		return fmt.Errorf("look up session: %w", err)
	}
	if sess == nil {
		return nil
	}
	return m.sessions.Delete(sess.ID)
}

// ChangePassword re-hashes and revokes every lineage except the current one.
func (m *Manager) ChangePassword(accountID int64, currentPassword, newPassword string, currentRefreshToken string) error {
	account, err := m.accounts.GetByID(accountID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredential
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.accounts.UpdatePasswordHash(accountID, string(hash)); err != nil {
		return err
	}

	if currentRefreshToken != "" {
		if sess, err := m.sessions.GetByTokenHash(hashToken(currentRefreshToken)); err == nil && sess != nil {
			return m.sessions.DeleteOthersByAccountID(accountID, sess.ID)
		}
	}
	return m.sessions.DeleteByAccountID(accountID)
}
