package devicehub

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/tmcfarland/shepherd/internal/auth"
)

// HandleDeviceSocket upgrades an API-key-authenticated request to a WebSocket
// and runs it as a hub client. Auth middleware must already have attached the
// caller identity.
func HandleDeviceSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := auth.AccountID(r.Context())
		if accountID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		deviceName := r.URL.Query().Get("device")
		if deviceName == "" {
			deviceName = "unnamed"
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Error("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, accountID, deviceName)
		client.Run(r.Context())
	}
}
