package store

import (
	"database/sql"
	"testing"

	"github.com/tmcfarland/shepherd/internal/database"
	"github.com/tmcfarland/shepherd/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateAccount(t *testing.T, db *sql.DB, email string) *model.Account {
	t.Helper()
	account, err := NewAccountStore(db).Create(email, "hashed-password")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func TestAccountCreate(t *testing.T) {
	db := openTestDB(t)
	as := NewAccountStore(db)

	account, err := as.Create("alice@example.com", "hash123")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if account.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", account.Email)
	}
	if account.Role != model.RoleStandard {
		t.Errorf("role = %q, want standard", account.Role)
	}
	if !account.IsActive {
		t.Error("expected new account to be active")
	}
}

func TestAccountCreateDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	as := NewAccountStore(db)

	if _, err := as.Create("alice@example.com", "hash1"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := as.Create("alice@example.com", "hash2"); err == nil {
		t.Error("expected error for duplicate email")
	}
}

func TestAccountGetByEmail(t *testing.T) {
	db := openTestDB(t)
	as := NewAccountStore(db)

	created := mustCreateAccount(t, db, "bob@example.com")

	account, err := as.GetByEmail("bob@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if account == nil {
		t.Fatal("expected account, got nil")
	}
	if account.ID != created.ID {
		t.Errorf("id = %d, want %d", account.ID, created.ID)
	}

	missing, err := as.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestAccountSetActive(t *testing.T) {
	db := openTestDB(t)
	as := NewAccountStore(db)

	account := mustCreateAccount(t, db, "carol@example.com")

	if err := as.SetActive(account.ID, false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}
	got, _ := as.GetByID(account.ID)
	if got.IsActive {
		t.Error("expected account to be inactive")
	}

	if err := as.SetActive(account.ID, true); err != nil {
		t.Fatalf("set active: %v", err)
	}
	got, _ = as.GetByID(account.ID)
	if !got.IsActive {
		t.Error("expected account to be active again")
	}
}

func TestAccountUpdateStripeCustomerID(t *testing.T) {
	db := openTestDB(t)
	as := NewAccountStore(db)

	account := mustCreateAccount(t, db, "dave@example.com")
	if account.StripeCustomerID != nil {
		t.Error("expected no stripe customer id on a fresh account")
	}

	if err := as.UpdateStripeCustomerID(account.ID, "cus_123"); err != nil {
		t.Fatalf("update stripe customer id: %v", err)
	}
	got, _ := as.GetByID(account.ID)
	if got.StripeCustomerID == nil || *got.StripeCustomerID != "cus_123" {
		t.Errorf("stripe customer id = %v, want cus_123", got.StripeCustomerID)
	}
}
