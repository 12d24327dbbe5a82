package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmcfarland/shepherd/internal/database"
	"github.com/tmcfarland/shepherd/internal/store"
)

type engineFixture struct {
	engine     *Engine
	registry   *Registry
	deliveries *store.DeliveryStore
	accountID  int64
}

func setupEngine(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	account, err := store.NewAccountStore(db).Create("alice@example.com", "hash")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	webhooks := store.NewWebhookStore(db)
	deliveries := store.NewDeliveryStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	base := []EngineOption{WithBaseDelay(time.Millisecond), WithAttemptTimeout(time.Second)}
	engine := NewEngine(webhooks, deliveries, logger, append(base, opts...)...)
	t.Cleanup(engine.Close)

	return &engineFixture{
		engine:     engine,
		registry:   NewRegistry(webhooks),
		deliveries: deliveries,
		accountID:  account.ID,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestEngineEmitDeliversSignedEvent(t *testing.T) {
	var gotBody []byte
	var gotSig, gotEvent, gotDelivery string
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		gotDelivery = r.Header.Get(DeliveryHeader)
		received <- struct{}{}
	}))
	defer srv.Close()

	f := setupEngine(t)
	sub, secret, err := f.registry.Create(f.accountID, srv.URL, []string{"alert.created"}, "")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	f.engine.Emit(f.accountID, EventAlertCreated, map[string]any{"site": "example.org"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery arrived")
	}

	if !VerifySignature(secret, gotBody, gotSig) {
		t.Error("delivery signature does not verify against the subscription secret")
	}
	if gotEvent != "alert.created" {
		t.Errorf("event header = %q", gotEvent)
	}

	var envelope Envelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Event != "alert.created" {
		t.Errorf("envelope event = %q", envelope.Event)
	}
	if envelope.ID == "" || envelope.Timestamp == "" {
		t.Error("envelope must carry id and timestamp")
	}
	if envelope.Payload["site"] != "example.org" {
		t.Errorf("payload = %v", envelope.Payload)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		d, _ := f.deliveries.GetByID(gotDelivery)
		return d != nil && d.DeliveredAt != nil
	})
	if !ok {
		t.Error("delivery row was not marked delivered")
	}
	d, _ := f.deliveries.GetByID(gotDelivery)
	if d.SubscriptionID != sub.ID {
		t.Errorf("delivery subscription = %d, want %d", d.SubscriptionID, sub.ID)
	}
	if d.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", d.Attempts)
	}
}

func TestEngineEmitSkipsNonMatchingSubscription(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := setupEngine(t)
	sub, _, _ := f.registry.Create(f.accountID, srv.URL, []string{"device.online"}, "")

	f.engine.Emit(f.accountID, EventAlertCreated, nil)

	time.Sleep(50 * time.Millisecond)
	if n := hits.Load(); n != 0 {
		t.Errorf("hits = %d, want 0", n)
	}
	rows, _ := f.deliveries.ListBySubscriptionID(sub.ID, 10)
	if len(rows) != 0 {
		t.Errorf("delivery rows = %d, want 0", len(rows))
	}
}

func TestEngineRetriesThenExhausts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := setupEngine(t, WithMaxAttempts(3))
	sub, _, _ := f.registry.Create(f.accountID, srv.URL, []string{"alert.created"}, "")

	f.engine.Emit(f.accountID, EventAlertCreated, nil)

	ok := waitFor(t, 3*time.Second, func() bool {
		rows, _ := f.deliveries.ListBySubscriptionID(sub.ID, 10)
		return len(rows) == 1 && rows[0].Exhausted
	})
	if !ok {
		t.Fatal("delivery never marked exhausted")
	}

	rows, _ := f.deliveries.ListBySubscriptionID(sub.ID, 10)
	d := rows[0]
	if d.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", d.Attempts)
	}
	if d.DeliveredAt != nil {
		t.Error("exhausted delivery must not be marked delivered")
	}
	if d.LastStatus == nil || *d.LastStatus != http.StatusInternalServerError {
		t.Errorf("last status = %v, want 500", d.LastStatus)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("endpoint hits = %d, want 3", n)
	}
}

func TestEngineRecoversMidway(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	f := setupEngine(t)
	sub, _, _ := f.registry.Create(f.accountID, srv.URL, []string{"alert.created"}, "")

	f.engine.Emit(f.accountID, EventAlertCreated, nil)

	ok := waitFor(t, 2*time.Second, func() bool {
		rows, _ := f.deliveries.ListBySubscriptionID(sub.ID, 10)
		return len(rows) == 1 && rows[0].DeliveredAt != nil
	})
	if !ok {
		t.Fatal("delivery never succeeded")
	}
	rows, _ := f.deliveries.ListBySubscriptionID(sub.ID, 10)
	if rows[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", rows[0].Attempts)
	}
	if rows[0].Exhausted {
		t.Error("recovered delivery must not be exhausted")
	}
}

func TestEngineFansOutToAllMatches(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hitsA.Add(1) }))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hitsB.Add(1) }))
	defer srvB.Close()

	f := setupEngine(t)
	f.registry.Create(f.accountID, srvA.URL, []string{"alert.created"}, "")
	f.registry.Create(f.accountID, srvB.URL, []string{"alert.created", "device.online"}, "")

	f.engine.Emit(f.accountID, EventAlertCreated, nil)

	ok := waitFor(t, 2*time.Second, func() bool {
		return hitsA.Load() == 1 && hitsB.Load() == 1
	})
	if !ok {
		t.Errorf("hits = %d/%d, want 1/1", hitsA.Load(), hitsB.Load())
	}
}

func TestTestFire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := setupEngine(t)
	sub, _, _ := f.registry.Create(f.accountID, srv.URL, []string{"alert.created"}, "")

	status, err := f.engine.TestFire(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("test fire: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("status = %d, want 204", status)
	}
}

func TestTestFireReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := setupEngine(t)
	sub, _, _ := f.registry.Create(f.accountID, srv.URL, []string{"alert.created"}, "")

	status, err := f.engine.TestFire(context.Background(), sub.ID)
	if err == nil {
		t.Error("expected error for non-2xx response")
	}
	if status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", status)
	}
}

func TestTestFireUnknownSubscription(t *testing.T) {
	f := setupEngine(t)

	if _, err := f.engine.TestFire(context.Background(), 9999); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
