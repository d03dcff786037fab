package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/weekplate/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a Hub
// client for the signed-in user.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("accept websocket", "error", err)
			return
		}

		NewClient(hub, conn, userID).Run(r.Context())
	}
}
