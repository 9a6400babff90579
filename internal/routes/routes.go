package routes

import (
	"github.com/dentalsync/whatsapp-gateway/internal/handlers"
	"github.com/dentalsync/whatsapp-gateway/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, h *handlers.WhatsAppHandler, health *handlers.HealthHandler) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to the WhatsApp Gateway!",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health": "/health",
				"api":    "/api",
				"socket": "/ws",
			},
		})
	})

	// Health check
	app.Get("/health", health.Check)

	// Socket.IO-style event stream
	app.Use("/ws", handlers.SocketUpgrade)
	app.Get("/ws", h.Socket())

	// API routes
	api := app.Group("/api", middleware.RequireServiceAuth())

	// Session lifecycle
	api.Post("/initialize/:userId", h.Initialize)
	api.Get("/status/:userId", h.Status)
	api.Post("/disconnect/:userId", h.Disconnect)

	// Outbound messaging
	api.Post("/send/:userId", h.SendText)
	api.Post("/send-button/:userId", h.SendButton)
	api.Post("/send-list/:userId", h.SendList)
	api.Post("/send-contact/:userId", h.SendContact)

	// History
	api.Get("/chats/:userId", h.Chats)
	api.Get("/messages/:userId", h.Messages)
	api.Get("/messages/:userId/:phone", h.ChatMessages)
}
