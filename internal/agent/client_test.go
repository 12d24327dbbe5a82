package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientNotConfigured(t *testing.T) {
	c := NewClient("")
	if c.Configured() {
		t.Error("empty base URL should read as not configured")
	}
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("expected error from unconfigured client")
	}
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Status{Installed: true, Running: true, ActiveFeatures: []string{"dns"}, BlockedCount: 3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.BlockedCount != 3 {
		t.Errorf("status = %+v", status)
	}
}

func TestClientToggleSendsEnabledFlag(t *testing.T) {
	var gotPath string
	var gotBody map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(Status{Installed: true, Running: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.SetDNSBlocking(context.Background(), true); err != nil {
		t.Fatalf("set dns blocking: %v", err)
	}
	if gotPath != "/blocking/dns" {
		t.Errorf("path = %q", gotPath)
	}
	if !gotBody["enabled"] {
		t.Error("expected enabled=true in body")
	}

	if _, err := c.SetGameBlocking(context.Background(), false); err != nil {
		t.Fatalf("set game blocking: %v", err)
	}
	if gotPath != "/blocking/games" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["enabled"] {
		t.Error("expected enabled=false in body")
	}
}

func TestClientFirewallEndpoints(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(Status{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.EnableFirewall(context.Background())
	if gotPath != "/firewall/enable" {
		t.Errorf("path = %q", gotPath)
	}
	c.DisableFirewall(context.Background())
	if gotPath != "/firewall/disable" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestClientAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("expected error for 500 from agent")
	}
}
