package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/services"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
)

// HealthHandler serves the read-only health aggregate
type HealthHandler struct {
	Sessions *services.SessionManager
	Store    storage.Store
	Hub      *messaging.Hub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sessions *services.SessionManager, store storage.Store, hub *messaging.Hub) *HealthHandler {
	return &HealthHandler{
		Sessions: sessions,
		Store:    store,
		Hub:      hub,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	total, err := h.Store.TotalMessages()
	if err != nil {
		total = 0
	}

	return c.JSON(fiber.Map{
		"status":                "healthy",
		"message":               "WhatsApp service is running",
		"active_clients":        h.Sessions.Count(),
		"total_messages_stored": total,
		"socket_connections":    h.Hub.ConnectionCount(),
	})
}
