package model

import "time"

const (
	RoleStandard = "standard"
	RoleAdmin    = "admin"
)

type Account struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Role             string    `json:"role"`
	IsActive         bool      `json:"is_active"`
	StripeCustomerID *string   `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Session is a refresh-token lineage. Only hashes of refresh tokens are stored;
// TokenHash is the currently valid hash, PrevTokenHash the one rotated away most
// recently (kept so replay of a redeemed token is distinguishable from garbage).
type Session struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	TokenHash     string    `json:"-"`
	PrevTokenHash *string   `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}
