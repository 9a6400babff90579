package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/services"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
)

type testEnv struct {
	app   *fiber.App
	store *storage.MemoryStore
	hub   *messaging.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore(0)
	hub := messaging.NewHub()
	go hub.Run()

	sessions := services.NewSessionManager(nil, nil, hub, store)
	service := services.NewWhatsAppService(sessions, store, hub)
	h := NewWhatsAppHandler(sessions, service, store, hub)
	health := NewHealthHandler(sessions, store, hub)

	app := fiber.New()
	app.Get("/health", health.Check)
	api := app.Group("/api")
	api.Post("/send/:userId", h.SendText)
	api.Post("/send-button/:userId", h.SendButton)
	api.Post("/send-list/:userId", h.SendList)
	api.Post("/send-contact/:userId", h.SendContact)
	api.Post("/disconnect/:userId", h.Disconnect)
	api.Get("/chats/:userId", h.Chats)
	api.Get("/messages/:userId", h.Messages)
	api.Get("/messages/:userId/:phone", h.ChatMessages)

	return &testEnv{app: app, store: store, hub: hub}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestSendTextRequiresFields(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send/user-1", fiber.Map{"phone": "15551234567"})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Phone number and message are required", body["error"])
}

func TestSendTextWithoutSessionReturnsNotReady(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send/user-1", fiber.Map{
		"phone":   "15551234567",
		"message": "hello",
	})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "WhatsApp session not ready", body["error"])
}

func TestSendButtonDuplicateTextMentionedOnce(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send-button/user-1", fiber.Map{
		"phone":   "15551234567",
		"message": "Confirm?",
		"buttons": []string{"Yes", "No", "Yes"},
	})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	errText, _ := body["error"].(string)
	assert.Contains(t, errText, `"Yes"`)
	assert.Equal(t, 1, strings.Count(errText, `"Yes"`))
}

func TestSendButtonLongTextNamesOffenders(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send-button/user-1", fiber.Map{
		"phone":   "15551234567",
		"message": "Pick one",
		"buttons": []string{"This button text is far too long", "OK"},
	})
	assert.Equal(t, 400, resp.StatusCode)

	errText, _ := body["error"].(string)
	assert.Contains(t, errText, "exceeds 20 characters")
	assert.Contains(t, errText, `"This button text is far too long"`)
	assert.NotContains(t, errText, `"OK"`)
}

func TestSendButtonRequiresButtons(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send-button/user-1", fiber.Map{
		"phone":   "15551234567",
		"message": "Pick one",
		"buttons": []string{},
	})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "Phone, message and at least one button are required", body["error"])
}

func TestSendListRequiresSections(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send-list/user-1", fiber.Map{
		"phone":      "15551234567",
		"title":      "Available slots",
		"buttonText": "Choose",
		"sections":   []fiber.Map{},
	})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Phone, title, button text and at least one section are required", body["error"])
}

func TestSendContactRequiresNameAndNumber(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send-contact/user-1", fiber.Map{
		"phone":   "15551234567",
		"contact": fiber.Map{"name": "Jane"},
	})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Contact name and number are required", body["error"])
}

func TestSendContactRequiresPhone(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/send-contact/user-1", fiber.Map{
		"contact": fiber.Map{"name": "Jane", "number": "15559876543"},
	})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "Phone number is required", body["error"])
}

func TestDisconnectUnknownUserIsNoop(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/disconnect/ghost", fiber.Map{})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Already disconnected", body["message"])
}

func TestHealthReportsCounts(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.store.AppendMessage(&models.MessageRecord{
			MessageID: "m" + string(rune('0'+i)),
			UserID:    "user-1",
			ChatID:    "15551234567@s.whatsapp.net",
			Body:      "hi",
			Timestamp: time.Now().UnixMilli(),
		}))
	}

	resp, body := env.get(t, "/health")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["active_clients"])
	assert.Equal(t, float64(3), body["total_messages_stored"])
	assert.Equal(t, float64(0), body["socket_connections"])
}

func TestChatsAndMessagesReturnEmptySlices(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/chats/user-1")
	assert.Equal(t, 200, resp.StatusCode)
	chats, ok := body["chats"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, chats)

	resp, body = env.get(t, "/api/messages/user-1")
	assert.Equal(t, 200, resp.StatusCode)
	msgs, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, msgs)
}

func TestChatMessagesResetsUnread(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.store.BumpChat("user-1", "15551234567", "Jane", "hola", time.Now().UnixMilli(), true))
	require.NoError(t, env.store.AppendMessage(&models.MessageRecord{
		MessageID: "m1",
		UserID:    "user-1",
		ChatID:    "15551234567@s.whatsapp.net",
		From:      "15551234567",
		Body:      "hola",
		Timestamp: time.Now().UnixMilli(),
	}))

	resp, body := env.get(t, "/api/messages/user-1/+1-555-123-4567")
	assert.Equal(t, 200, resp.StatusCode)
	msgs, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, msgs, 1)

	chats, err := env.store.Chats("user-1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, 0, chats[0].UnreadCount)
}
