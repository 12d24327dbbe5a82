package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tmcfarland/shepherd/internal/apikey"
	"github.com/tmcfarland/shepherd/internal/auth"
)

// APIKeyHeader carries the plaintext key on key-authenticated endpoints.
const APIKeyHeader = "X-API-Key"

// RequireSession validates a Bearer access token and attaches the caller
// identity. Expired tokens get a distinct error body so clients know to
// attempt exactly one refresh before retrying; every other failure is the
// same uniform 401.
func RequireSession(mgr *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "invalid credentials")
				return
			}

			claims, err := mgr.VerifyAccess(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpired) {
					unauthorized(w, "token expired")
					return
				}
				unauthorized(w, "invalid credentials")
				return
			}

			ctx := auth.WithIdentity(r.Context(), auth.Identity{
				AccountID: claims.AccountID(),
				Role:      claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIKey validates the X-API-Key header and checks the required scope.
// Missing, revoked, expired, and unknown keys all produce the same 401 so key
// material cannot be probed.
func RequireAPIKey(registry *apikey.Registry, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if presented == "" {
				unauthorized(w, "invalid credentials")
				return
			}

			key, err := registry.Verify(presented)
			if err != nil {
				unauthorized(w, "invalid credentials")
				return
			}
			if !key.HasScope(scope) {
				forbidden(w, "insufficient scope")
				return
			}

			ctx := auth.WithIdentity(r.Context(), auth.Identity{
				AccountID: key.AccountID,
				Role:      "standard",
				Scopes:    key.Scopes,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated caller has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			forbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func forbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
