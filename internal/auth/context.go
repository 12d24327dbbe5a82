package auth

import "context"

type contextKey struct{}

// Identity is the authenticated caller attached to a request context, whether
// it arrived via access token or API key.
type Identity struct {
	AccountID int64
	Role      string
	// Scopes is non-nil only for API-key callers.
	Scopes []string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func AccountID(ctx context.Context) int64 {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return 0
	}
	return id.AccountID
}

func IsAdmin(ctx context.Context) bool {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return false
	}
	return id.Role == "admin"
}
