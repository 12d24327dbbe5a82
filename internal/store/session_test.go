package store

import (
	"testing"
	"time"
)

func TestSessionCreateAndGetByTokenHash(t *testing.T) {
	db := openTestDB(t)
	ss := NewSessionStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	created, err := ss.Create(account.ID, "hash-a", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if created.PrevTokenHash != nil {
		t.Error("expected no prev hash on a fresh session")
	}

	sess, err := ss.GetByTokenHash("hash-a")
	if err != nil {
		t.Fatalf("get by token hash: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %d, want %d", sess.ID, created.ID)
	}
}

func TestSessionRotate(t *testing.T) {
	db := openTestDB(t)
	ss := NewSessionStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	sess, _ := ss.Create(account.ID, "hash-a", time.Now().Add(time.Hour))

	ok, err := ss.Rotate(sess.ID, "hash-a", "hash-b", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !ok {
		t.Fatal("expected rotation to succeed")
	}

	// The new hash resolves, the old one only via prev lookup.
	if got, _ := ss.GetByTokenHash("hash-b"); got == nil {
		t.Error("expected session under new hash")
	}
	if got, _ := ss.GetByTokenHash("hash-a"); got != nil {
		t.Error("old hash should no longer be current")
	}
	prev, err := ss.GetByPrevTokenHash("hash-a")
	if err != nil {
		t.Fatalf("get by prev hash: %v", err)
	}
	if prev == nil || prev.ID != sess.ID {
		t.Error("expected old hash to resolve via prev_token_hash")
	}
}

func TestSessionRotateStaleHashFails(t *testing.T) {
	db := openTestDB(t)
	ss := NewSessionStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	sess, _ := ss.Create(account.ID, "hash-a", time.Now().Add(time.Hour))
	if ok, _ := ss.Rotate(sess.ID, "hash-a", "hash-b", time.Now().Add(time.Hour)); !ok {
		t.Fatal("first rotation should succeed")
	}

	// Second rotation against the already-replaced hash must lose.
	ok, err := ss.Rotate(sess.ID, "hash-a", "hash-c", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if ok {
		t.Error("rotation with a stale hash should not succeed")
	}
	if got, _ := ss.GetByTokenHash("hash-b"); got == nil {
		t.Error("winning hash should still be current")
	}
}

func TestSessionDeleteOthersByAccountID(t *testing.T) {
	db := openTestDB(t)
	ss := NewSessionStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	keep, _ := ss.Create(account.ID, "hash-keep", time.Now().Add(time.Hour))
	ss.Create(account.ID, "hash-other1", time.Now().Add(time.Hour))
	ss.Create(account.ID, "hash-other2", time.Now().Add(time.Hour))

	if err := ss.DeleteOthersByAccountID(account.ID, keep.ID); err != nil {
		t.Fatalf("delete others: %v", err)
	}

	if got, _ := ss.GetByTokenHash("hash-keep"); got == nil {
		t.Error("kept session should survive")
	}
	if got, _ := ss.GetByTokenHash("hash-other1"); got != nil {
		t.Error("other sessions should be gone")
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	db := openTestDB(t)
	ss := NewSessionStore(db)
	account := mustCreateAccount(t, db, "alice@example.com")

	ss.Create(account.ID, "hash-old", time.Now().UTC().Add(-time.Hour))
	ss.Create(account.ID, "hash-live", time.Now().UTC().Add(time.Hour))

	n, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got, _ := ss.GetByTokenHash("hash-live"); got == nil {
		t.Error("live session should survive cleanup")
	}
}
