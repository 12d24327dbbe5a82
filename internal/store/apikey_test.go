package store

import (
	"testing"
	"time"
)

func TestAPIKeyCreateAndGetByHash(t *testing.T) {
	db := openTestDB(t)
	ks := NewAPIKeyStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	created, err := ks.Create(account.ID, "laptop", "hash-1", "sk_abc123def4", []string{"read", "write"}, nil)
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if created.KeyPrefix != "sk_abc123def4" {
		t.Errorf("prefix = %q, want sk_abc123def4", created.KeyPrefix)
	}
	if len(created.Scopes) != 2 {
		t.Errorf("scopes = %v, want [read write]", created.Scopes)
	}
	if created.Revoked {
		t.Error("new key should not be revoked")
	}

	key, err := ks.GetByHash("hash-1")
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if key == nil || key.ID != created.ID {
		t.Error("expected key by hash")
	}

	missing, err := ks.GetByHash("no-such-hash")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown hash")
	}
}

func TestAPIKeyCreateWithExpiry(t *testing.T) {
	db := openTestDB(t)
	ks := NewAPIKeyStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	created, err := ks.Create(account.ID, "temp", "hash-2", "sk_tempprefix", []string{"read"}, &expires)
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if created.ExpiresAt == nil {
		t.Fatal("expected expiry to round-trip")
	}
}

func TestAPIKeyRevoke(t *testing.T) {
	db := openTestDB(t)
	ks := NewAPIKeyStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	created, _ := ks.Create(account.ID, "laptop", "hash-3", "sk_prefix00000", []string{"read"}, nil)

	if err := ks.Revoke(created.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, _ := ks.GetByID(created.ID)
	if !got.Revoked {
		t.Error("expected key to be revoked")
	}
}

func TestAPIKeyListByAccountID(t *testing.T) {
	db := openTestDB(t)
	ks := NewAPIKeyStore(db)
	alice := mustCreateAccount(t, db, "alice@example.com")
	bob := mustCreateAccount(t, db, "bob@example.com")

	ks.Create(alice.ID, "one", "hash-a1", "sk_prefix11111", []string{"read"}, nil)
	ks.Create(alice.ID, "two", "hash-a2", "sk_prefix22222", []string{"read"}, nil)
	ks.Create(bob.ID, "other", "hash-b1", "sk_prefix33333", []string{"read"}, nil)

	keys, err := ks.ListByAccountID(alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("len = %d, want 2", len(keys))
	}
}

func TestAPIKeyTouchLastUsed(t *testing.T) {
	db := openTestDB(t)
	ks := NewAPIKeyStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	created, _ := ks.Create(account.ID, "laptop", "hash-4", "sk_prefix44444", []string{"read"}, nil)
	if created.LastUsedAt != nil {
		t.Error("fresh key should have no last_used_at")
	}

	if err := ks.TouchLastUsed(created.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := ks.GetByID(created.ID)
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}
}
