package store

import (
	"testing"
	"time"
)

func setupDeliveryTest(t *testing.T) (*DeliveryStore, int64) {
	t.Helper()
	db := openTestDB(t)
	account := mustCreateAccount(t, db, "alice@example.com")
	sub, err := NewWebhookStore(db).Create(account.ID, "https://example.com/hook", []string{"alert.created"}, "s1", "")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return NewDeliveryStore(db), sub.ID
}

func TestDeliveryCreateAndRecordAttempt(t *testing.T) {
	ds, subID := setupDeliveryTest(t)

	d, err := ds.Create("dlv-1", subID, "alert.created", `{"id":"evt-1"}`)
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if d.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", d.Attempts)
	}

	if err := ds.RecordAttempt("dlv-1", 500, "endpoint returned 500"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	got, _ := ds.GetByID("dlv-1")
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastStatus == nil || *got.LastStatus != 500 {
		t.Errorf("last status = %v, want 500", got.LastStatus)
	}
	if got.LastError != "endpoint returned 500" {
		t.Errorf("last error = %q", got.LastError)
	}
}

func TestDeliveryRecordAttemptNoResponse(t *testing.T) {
	ds, subID := setupDeliveryTest(t)

	ds.Create("dlv-1", subID, "alert.created", `{}`)
	if err := ds.RecordAttempt("dlv-1", 0, "connection refused"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	got, _ := ds.GetByID("dlv-1")
	if got.LastStatus != nil {
		t.Errorf("last status = %v, want nil when no response arrived", got.LastStatus)
	}
}

func TestDeliveryMarkDelivered(t *testing.T) {
	ds, subID := setupDeliveryTest(t)

	ds.Create("dlv-1", subID, "alert.created", `{}`)
	ds.RecordAttempt("dlv-1", 500, "endpoint returned 500")
	if err := ds.MarkDelivered("dlv-1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	got, _ := ds.GetByID("dlv-1")
	if got.DeliveredAt == nil {
		t.Error("expected delivered_at to be set")
	}
	if got.LastError != "" {
		t.Errorf("last error = %q, want cleared", got.LastError)
	}
}

func TestDeliveryMarkExhausted(t *testing.T) {
	ds, subID := setupDeliveryTest(t)

	ds.Create("dlv-1", subID, "alert.created", `{}`)
	if err := ds.MarkExhausted("dlv-1"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}
	got, _ := ds.GetByID("dlv-1")
	if !got.Exhausted {
		t.Error("expected delivery to be exhausted")
	}
}

func TestDeliveryListBySubscriptionID(t *testing.T) {
	ds, subID := setupDeliveryTest(t)

	ds.Create("dlv-1", subID, "alert.created", `{}`)
	ds.Create("dlv-2", subID, "alert.created", `{}`)
	ds.Create("dlv-3", subID, "alert.created", `{}`)

	all, err := ds.ListBySubscriptionID(subID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}

	limited, _ := ds.ListBySubscriptionID(subID, 2)
	if len(limited) != 2 {
		t.Errorf("len = %d, want 2", len(limited))
	}
}

func TestDeliveryDeleteOlderThan(t *testing.T) {
	ds, subID := setupDeliveryTest(t)

	ds.Create("dlv-1", subID, "alert.created", `{}`)

	// A future cutoff catches the fresh row, a past cutoff does not.
	n, err := ds.DeleteOlderThan(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}

	n, err = ds.DeleteOlderThan(time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
