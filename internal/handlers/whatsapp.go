package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/services"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
	"github.com/dentalsync/whatsapp-gateway/internal/utils"
)

const (
	// sendTimeout bounds every dispatch so a hung connection fails the
	// request instead of hanging it forever
	sendTimeout = 45 * time.Second

	// activationWait is how long the initialize endpoint waits for a QR
	// code or ready state before telling the frontend to poll
	activationWait = 30 * time.Second
)

// WhatsAppHandler serves the gateway's HTTP API
type WhatsAppHandler struct {
	Sessions *services.SessionManager
	Service  *services.WhatsAppService
	Store    storage.Store
	Hub      *messaging.Hub
}

// NewWhatsAppHandler creates the API handler
func NewWhatsAppHandler(sessions *services.SessionManager, service *services.WhatsAppService, store storage.Store, hub *messaging.Hub) *WhatsAppHandler {
	return &WhatsAppHandler{
		Sessions: sessions,
		Service:  service,
		Store:    store,
		Hub:      hub,
	}
}

// Initialize starts (or resumes) a user's WhatsApp session and waits
// briefly for a QR code or ready state
func (h *WhatsAppHandler) Initialize(c *fiber.Ctx) error {
	userID := c.Params("userId")

	sess, err := h.Sessions.GetOrCreate(userID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"status": "error",
			"error":  err.Error(),
		})
	}

	h.Sessions.WaitForActivation(c.Context(), sess, activationWait)

	if errText := sess.LastError(); errText != "" {
		return c.Status(500).JSON(fiber.Map{
			"status": "error",
			"error":  errText,
		})
	}

	switch status := h.Sessions.Status(userID); status.Status {
	case "ready":
		return c.JSON(fiber.Map{
			"status":       "ready",
			"phone_number": status.PhoneNumber,
			"message":      "WhatsApp is ready",
		})
	case "qr_ready":
		return c.JSON(fiber.Map{
			"status":  "qr_ready",
			"qr_code": status.QRCode,
			"message": "Scan QR code with your phone",
		})
	default:
		return c.JSON(fiber.Map{
			"status":  "connecting",
			"message": "Initializing WhatsApp... This may take 30-60 seconds. Please wait.",
		})
	}
}

// Status reports a user's connection state without side effects
func (h *WhatsAppHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.Sessions.Status(c.Params("userId")))
}

// SendText handles POST /api/send/:userId
func (h *WhatsAppHandler) SendText(c *fiber.Ctx) error {
	var req models.SendTextRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Phone == "" || req.Message == "" {
		return badRequest(c, "Phone number and message are required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), sendTimeout)
	defer cancel()

	id, err := h.Service.SendText(ctx, c.Params("userId"), req.Phone, req.Message)
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"message":      fmt.Sprintf("Message sent to %s successfully", req.Phone),
		"messageId":    id,
		"phone_number": utils.StripNonDigits(req.Phone),
	})
}

// SendButton handles POST /api/send-button/:userId
func (h *WhatsAppHandler) SendButton(c *fiber.Ctx) error {
	var req models.SendButtonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Phone == "" || req.Message == "" || len(req.Buttons) == 0 {
		return badRequest(c, "Phone, message and at least one button are required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), sendTimeout)
	defer cancel()

	id, err := h.Service.SendButtons(ctx, c.Params("userId"), &req)
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Button message sent successfully",
		"messageId": id,
	})
}

// SendList handles POST /api/send-list/:userId
func (h *WhatsAppHandler) SendList(c *fiber.Ctx) error {
	var req models.SendListRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Phone == "" || req.Title == "" || req.ButtonText == "" || len(req.Sections) == 0 {
		return badRequest(c, "Phone, title, button text and at least one section are required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), sendTimeout)
	defer cancel()

	id, err := h.Service.SendList(ctx, c.Params("userId"), &req)
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "List message sent successfully",
		"messageId": id,
	})
}

// SendContact handles POST /api/send-contact/:userId
func (h *WhatsAppHandler) SendContact(c *fiber.Ctx) error {
	var req models.SendContactRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Phone == "" {
		return badRequest(c, "Phone number is required")
	}
	if req.Contact.Name == "" || req.Contact.Number == "" {
		return badRequest(c, "Contact name and number are required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), sendTimeout)
	defer cancel()

	id, err := h.Service.SendContact(ctx, c.Params("userId"), &req)
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Contact card sent successfully",
		"messageId": id,
	})
}

// Disconnect handles POST /api/disconnect/:userId
func (h *WhatsAppHandler) Disconnect(c *fiber.Ctx) error {
	userID := c.Params("userId")

	if _, exists := h.Sessions.Get(userID); !exists {
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Already disconnected",
		})
	}

	if err := h.Sessions.Destroy(c.Context(), userID); err != nil {
		log.Printf("[%s] Error disconnecting: %v", userID, err)
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Disconnected (with errors)",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Disconnected successfully",
	})
}

// Chats handles GET /api/chats/:userId
func (h *WhatsAppHandler) Chats(c *fiber.Ctx) error {
	chats, err := h.Store.Chats(c.Params("userId"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to get chats"})
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	return c.JSON(fiber.Map{"chats": chats})
}

// Messages handles GET /api/messages/:userId
func (h *WhatsAppHandler) Messages(c *fiber.Ctx) error {
	msgs, err := h.Store.MessagesForUser(c.Params("userId"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to get messages"})
	}
	if msgs == nil {
		msgs = []*models.MessageRecord{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// ChatMessages handles GET /api/messages/:userId/:phone and resets the
// chat's unread count
func (h *WhatsAppHandler) ChatMessages(c *fiber.Ctx) error {
	userID := c.Params("userId")
	phone := utils.StripNonDigits(c.Params("phone"))
	limit := c.QueryInt("limit", 500)

	msgs, err := h.Store.MessagesForChat(userID, phone, limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to get messages"})
	}
	if msgs == nil {
		msgs = []*models.MessageRecord{}
	}

	if err := h.Store.ResetUnread(userID, phone); err != nil {
		log.Printf("[%s] Failed to reset unread count for %s: %v", userID, phone, err)
	}

	return c.JSON(fiber.Map{"messages": msgs})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(400).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// sendError maps wrapper errors onto the response contract: validation
// and state problems are 400, dispatch failures are 500, and every body
// carries success:false with a readable error.
func sendError(c *fiber.Ctx, err error) error {
	var btnErr *services.ButtonValidationError
	var depErr *services.DeprecationError

	switch {
	case errors.Is(err, services.ErrSessionNotReady):
		return badRequest(c, services.ErrSessionNotReady.Error())
	case errors.As(err, &btnErr):
		return badRequest(c, btnErr.Message)
	case strings.Contains(err.Error(), "invalid phone number"):
		return badRequest(c, err.Error())
	case errors.As(err, &depErr):
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"error":   depErr.Message,
		})
	default:
		log.Printf("Send failed: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to send message",
		})
	}
}
