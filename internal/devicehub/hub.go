package devicehub

import (
	"log/slog"
	"sync"

	"github.com/tmcfarland/shepherd/internal/webhook"
)

// Emitter hands device events to the webhook delivery engine.
type Emitter interface {
	Emit(accountID int64, event webhook.Event, payload map[string]any)
}

// Hub tracks connected enforcement agents per account. The first connection
// for an account emits device.online, the last disconnect device.offline;
// reconnects of additional devices under the same account stay quiet.
type Hub struct {
	mu      sync.RWMutex
	devices map[int64]map[*Client]struct{}
	emitter Emitter
	logger  *slog.Logger
}

func NewHub(emitter Emitter, logger *slog.Logger) *Hub {
	return &Hub{
		devices: make(map[int64]map[*Client]struct{}),
		emitter: emitter,
		logger:  logger,
	}
}

// Register adds a connection and emits device.online when the account comes up.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	conns, ok := h.devices[c.accountID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.devices[c.accountID] = conns
	}
	first := len(conns) == 0
	conns[c] = struct{}{}
	h.mu.Unlock()

	if first {
		h.emitter.Emit(c.accountID, webhook.EventDeviceOnline, map[string]any{
			"device": c.deviceName,
		})
	}
	h.logger.Info("device connected", "account_id", c.accountID, "device", c.deviceName)
}

// Unregister removes a connection and emits device.offline when the account's
// last device drops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	conns := h.devices[c.accountID]
	delete(conns, c)
	last := len(conns) == 0
	if last {
		delete(h.devices, c.accountID)
	}
	h.mu.Unlock()

	if last {
		h.emitter.Emit(c.accountID, webhook.EventDeviceOffline, map[string]any{
			"device": c.deviceName,
		})
	}
	h.logger.Info("device disconnected", "account_id", c.accountID, "device", c.deviceName)
}

// Online reports whether any device for the account is currently connected.
func (h *Hub) Online(accountID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[accountID]) > 0
}

// handleAlert forwards a device-reported event into the delivery engine.
// Devices may only report alert and settings events; anything else (including
// malformed names) is dropped.
func (h *Hub) handleAlert(c *Client, eventName string, payload map[string]any) {
	event, err := webhook.ParseEvent(eventName)
	if err != nil {
		h.logger.Warn("device sent unknown event", "account_id", c.accountID, "event", eventName)
		return
	}
	switch event {
	case webhook.EventAlertCreated, webhook.EventAlertBlockedSite, webhook.EventAlertBlockedApp,
		webhook.EventAlertScreenTimeLimit, webhook.EventAlertTamperAttempt, webhook.EventSettingsChanged:
	default:
		h.logger.Warn("device sent disallowed event", "account_id", c.accountID, "event", eventName)
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["device"] = c.deviceName
	h.emitter.Emit(c.accountID, event, payload)
}
