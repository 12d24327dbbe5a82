package devicehub

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"
)

const pingInterval = 30 * time.Second

// deviceMessage is what a connected agent sends upstream.
type deviceMessage struct {
	Type    string         `json:"type"`
	Event   string         `json:"event,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Client represents a single connected enforcement agent.
type Client struct {
	hub        *Hub
	conn       *ws.Conn
	accountID  int64
	deviceName string
}

func NewClient(hub *Hub, conn *ws.Conn, accountID int64, deviceName string) *Client {
	return &Client{hub: hub, conn: conn, accountID: accountID, deviceName: deviceName}
}

// Run registers the client, starts the ping loop, and reads until the
// connection closes, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.pingLoop(ctx)
	c.readLoop(ctx)
}

// readLoop decodes inbound messages. Alerts are forwarded to the hub;
// heartbeats and anything unrecognized are dropped. Returns on read error
// (connection close).
func (c *Client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg deviceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "alert" {
			c.hub.handleAlert(c, msg.Event, msg.Payload)
		}
	}
}

// pingLoop detects stale connections.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.conn.Close(ws.StatusGoingAway, "ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
