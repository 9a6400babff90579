package handlers

import (
	"encoding/json"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/middleware"
)

// joinFrame is the only client->server frame the gateway understands
type joinFrame struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// SocketUpgrade gates /ws behind a proper websocket upgrade request
func SocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Socket returns the websocket handler that feeds clients into the hub.
// Clients join per-user rooms with {"event":"join","userId":"..."} and
// from then on only receive events scoped to those users.
func (h *WhatsAppHandler) Socket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client := messaging.NewSocketClient(conn)

		// Write pump: everything the hub routes to this client
		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}

			var frame joinFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}

			switch frame.Event {
			case "join":
				if frame.UserID == "" {
					continue
				}
				if err := middleware.VerifyRoomToken(frame.Token, frame.UserID); err != nil {
					log.Printf("[%s] ❌ Socket join rejected: %v", frame.UserID, err)
					reply, _ := json.Marshal(fiber.Map{
						"event": "error",
						"data":  fiber.Map{"message": "unauthorized"},
					})
					select {
					case client.Send <- reply:
					default:
					}
					continue
				}
				h.Hub.Join(client, frame.UserID)
				log.Printf("[%s] 🔌 Socket client %s joined", frame.UserID, client.ID)
			}
		}

		h.Hub.Remove(client)
		<-done
	})
}
