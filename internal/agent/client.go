// Package agent is the boundary to the local enforcement agent. The agent
// itself (process/DNS/firewall blocking) is a separate program; this client
// only queries status and sends idempotent toggles, and every command returns
// the resulting effective state rather than a bare acknowledgment.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Status is the agent's reported state.
type Status struct {
	Installed      bool     `json:"installed"`
	Running        bool     `json:"running"`
	ActiveFeatures []string `json:"active_features"`
	BlockedCount   int      `json:"blocked_count"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if an agent endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Status queries the agent's current state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	return c.do(ctx, http.MethodGet, "/status", nil)
}

// SetGameBlocking toggles game process blocking. Safe to call repeatedly with
// the same argument.
func (c *Client) SetGameBlocking(ctx context.Context, enabled bool) (*Status, error) {
	return c.toggle(ctx, "/blocking/games", enabled)
}

// SetDNSBlocking toggles the DNS filter.
func (c *Client) SetDNSBlocking(ctx context.Context, enabled bool) (*Status, error) {
	return c.toggle(ctx, "/blocking/dns", enabled)
}

// SetBrowserBlocking toggles browser-level site blocking.
func (c *Client) SetBrowserBlocking(ctx context.Context, enabled bool) (*Status, error) {
	return c.toggle(ctx, "/blocking/browser", enabled)
}

// EnableFirewall turns on firewall-level blocking.
func (c *Client) EnableFirewall(ctx context.Context) (*Status, error) {
	return c.do(ctx, http.MethodPost, "/firewall/enable", nil)
}

// DisableFirewall turns off firewall-level blocking.
func (c *Client) DisableFirewall(ctx context.Context) (*Status, error) {
	return c.do(ctx, http.MethodPost, "/firewall/disable", nil)
}

func (c *Client) toggle(ctx context.Context, path string, enabled bool) (*Status, error) {
	body := map[string]bool{"enabled": enabled}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Status, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("agent client not configured")
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode agent status: %w", err)
	}
	return &status, nil
}
