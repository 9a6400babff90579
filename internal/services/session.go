package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mdp/qrterminal"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
)

// Session is the gateway's record of one user's WhatsApp connection
type Session struct {
	UserID    string
	Client    *whatsmeow.Client
	CreatedAt time.Time

	state       models.SessionState
	qrCode      string // base64 PNG data URL, cleared once ready
	phoneNumber string
	lastError   string
	readyAt     time.Time
	destroyed   bool

	limiter *rate.Limiter
	mu      sync.RWMutex
}

// State returns the session's current lifecycle state
func (s *Session) State() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsReady reports whether the handshake has completed
func (s *Session) IsReady() bool {
	return s.State() == models.StateReady
}

// QRCode returns the pending pairing payload, or "" when none
func (s *Session) QRCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrCode
}

// PhoneNumber returns the connected WhatsApp number, or "" before ready
func (s *Session) PhoneNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phoneNumber
}

// LastError returns the most recent failure message, or ""
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Wait blocks on the session's outbound rate limiter
func (s *Session) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// client returns the transport handle under the session lock
func (s *Session) client() *whatsmeow.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Client
}

// installClient records the freshly built client, unless the session was
// torn down while the client was being prepared — in that case the
// connect attempt must be abandoned so no orphaned connection outlives
// the session.
func (s *Session) installClient(client *whatsmeow.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.Client = client
	return true
}

// Disconnect drops the underlying connection if one was established
func (s *Session) Disconnect() {
	if c := s.client(); c != nil {
		c.Disconnect()
	}
}

// SessionManager owns every user's session. The map entry is created
// synchronously under the store lock, so concurrent connect requests for
// one user always land on the same session and only one underlying
// connection is ever started (single-flight).
type SessionManager struct {
	container *sqlstore.Container
	links     *DeviceLinks
	hub       *messaging.Hub
	store     storage.Store

	sessions map[string]*Session
	mu       sync.RWMutex

	sendLimit  rate.Limit
	sendBurst  int
	qrTerminal bool

	// connect starts the underlying client; replaced in tests
	connect func(sess *Session) error
}

// NewSessionManager creates the session store. The container may be nil
// only in tests that stub out connect.
func NewSessionManager(container *sqlstore.Container, links *DeviceLinks, hub *messaging.Hub, store storage.Store) *SessionManager {
	sm := &SessionManager{
		container:  container,
		links:      links,
		hub:        hub,
		store:      store,
		sessions:   make(map[string]*Session),
		sendLimit:  rate.Limit(envFloat("SEND_RATE_LIMIT", 10)),
		sendBurst:  envInt("SEND_RATE_BURST", 20),
		qrTerminal: os.Getenv("QR_TERMINAL") == "true",
	}
	sm.connect = sm.startClient
	return sm
}

// GetOrCreate returns the user's session, creating and connecting a new
// one when none exists. Idempotent per userId.
func (sm *SessionManager) GetOrCreate(userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required")
	}

	sm.mu.Lock()
	if sess, exists := sm.sessions[userID]; exists {
		sm.mu.Unlock()
		return sess, nil
	}

	sess := &Session{
		UserID:    userID,
		CreatedAt: time.Now(),
		state:     models.StateInitializing,
		limiter:   rate.NewLimiter(sm.sendLimit, sm.sendBurst),
	}
	sm.sessions[userID] = sess
	sm.mu.Unlock()

	log.Printf("[%s] Starting fresh initialization...", userID)
	sm.transition(sess, models.StateInitializing, nil)

	go func() {
		if err := sm.connect(sess); err != nil {
			log.Printf("[%s] ❌ Failed to initialize client: %v", userID, err)
			sm.failSession(sess, fmt.Sprintf("Authentication failed: %v", err))
		}
	}()

	return sess, nil
}

// Get returns an existing session without creating one
func (sm *SessionManager) Get(userID string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[userID]
	return sess, ok
}

// Count returns how many sessions are live
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Sessions returns a snapshot of every live session
func (sm *SessionManager) Sessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		out = append(out, sess)
	}
	return out
}

// Destroy tears down a user's connection, deletes the stored device
// credentials and removes the session. No-op for unknown users.
func (sm *SessionManager) Destroy(ctx context.Context, userID string) error {
	sm.mu.Lock()
	sess, exists := sm.sessions[userID]
	if exists {
		delete(sm.sessions, userID)
	}
	sm.mu.Unlock()

	if !exists {
		return nil
	}

	log.Printf("[%s] Disconnecting client...", userID)

	// Marking the session destroyed first stops an in-flight connect
	// attempt from installing a client nobody would ever tear down
	sess.mu.Lock()
	sess.destroyed = true
	client := sess.Client
	sess.mu.Unlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			log.Printf("[%s] Logout error (ignoring): %v", userID, err)
		}
		client.Disconnect()
		if client.Store != nil && client.Store.ID != nil {
			if err := client.Store.Delete(ctx); err != nil {
				log.Printf("[%s] Device delete error (ignoring): %v", userID, err)
			}
		}
	}
	if sm.links != nil {
		if err := sm.links.Delete(userID); err != nil {
			log.Printf("[%s] Device link delete error (ignoring): %v", userID, err)
		}
	}

	sess.mu.Lock()
	sess.state = models.StateDisconnected
	sess.qrCode = ""
	sess.mu.Unlock()

	sm.hub.Emit(userID, messaging.EventDisconnected, map[string]interface{}{"reason": "logout"})
	sm.hub.Emit(userID, messaging.EventStateChanged, map[string]interface{}{"state": models.StateDisconnected})

	log.Printf("[%s] Client disconnected and removed", userID)
	return nil
}

// Status builds the wire status for a user (used by GET /api/status)
func (sm *SessionManager) Status(userID string) *models.SessionStatus {
	sess, ok := sm.Get(userID)
	if !ok {
		return &models.SessionStatus{Status: "disconnected"}
	}

	if errText := sess.LastError(); errText != "" {
		return &models.SessionStatus{Status: "error", Error: errText}
	}

	switch sess.State() {
	case models.StateReady:
		return &models.SessionStatus{Status: "ready", PhoneNumber: sess.PhoneNumber()}
	case models.StateQRPending:
		return &models.SessionStatus{Status: "qr_ready", QRCode: sess.QRCode()}
	default:
		return &models.SessionStatus{Status: "connecting"}
	}
}

// WaitForActivation blocks until the session produces a QR code, becomes
// ready, or fails — or until the timeout passes. Mirrors the polling the
// product's connect screen expects from the initialize endpoint.
func (sm *SessionManager) WaitForActivation(ctx context.Context, sess *Session, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		switch sess.State() {
		case models.StateReady, models.StateQRPending, models.StateAuthFailure, models.StateDisconnected:
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// transition records a state change and fans it out
func (sm *SessionManager) transition(sess *Session, state models.SessionState, extra map[string]interface{}) {
	sess.mu.Lock()
	sess.state = state
	if state == models.StateReady {
		sess.qrCode = ""
		sess.readyAt = time.Now()
	}
	sess.mu.Unlock()

	payload := map[string]interface{}{"state": state}
	for k, v := range extra {
		payload[k] = v
	}
	sm.hub.Emit(sess.UserID, messaging.EventStateChanged, payload)
}

// failSession marks a session as failed, emits auth_failure and evicts it
// so the next connect request starts from a fresh QR
func (sm *SessionManager) failSession(sess *Session, reason string) {
	sess.mu.Lock()
	sess.lastError = reason
	sess.mu.Unlock()

	sm.transition(sess, models.StateAuthFailure, map[string]interface{}{"error": reason})
	sm.hub.Emit(sess.UserID, messaging.EventAuthFailure, map[string]interface{}{"error": reason})

	sm.mu.Lock()
	if current, ok := sm.sessions[sess.UserID]; ok && current == sess {
		delete(sm.sessions, sess.UserID)
	}
	sm.mu.Unlock()
}

// startClient builds the whatsmeow client for a session and connects it.
// Handlers are registered before Connect so no early event is lost.
func (sm *SessionManager) startClient(sess *Session) error {
	deviceStore, err := sm.deviceForUser(sess.UserID)
	if err != nil {
		return err
	}

	clientLog := waLog.Stdout("Client-"+sess.UserID, "INFO", true)
	client := whatsmeow.NewClient(deviceStore, clientLog)
	client.AddEventHandler(sm.eventHandler(sess))

	if !sess.installClient(client) {
		log.Printf("[%s] Session destroyed before connect, abandoning", sess.UserID)
		return nil
	}

	ctx := context.Background()

	if client.Store.ID == nil {
		// No stored credentials: QR pairing flow
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return err
		}
		if err := client.Connect(); err != nil {
			return err
		}

		go func() {
			for evt := range qrChan {
				switch evt.Event {
				case "code":
					sm.publishQR(sess, evt.Code)
				case "success":
					log.Printf("[%s] ✅ QR authentication successful", sess.UserID)
					sm.transition(sess, models.StateAuthenticated, nil)
					sm.hub.Emit(sess.UserID, messaging.EventAuthenticated, nil)
				default:
					log.Printf("[%s] QR channel closed: %s", sess.UserID, evt.Event)
					sm.failSession(sess, "QR pairing "+evt.Event)
					return
				}
			}
		}()
		return nil
	}

	// Stored session: reconnect without pairing
	log.Printf("[%s] 📱 Existing session found, connecting...", sess.UserID)
	return client.Connect()
}

// deviceForUser loads the user's linked device from the credential store,
// or allocates a fresh one
func (sm *SessionManager) deviceForUser(userID string) (*wastore.Device, error) {
	ctx := context.Background()

	if sm.links != nil {
		jidText, err := sm.links.Get(userID)
		if err != nil {
			return nil, err
		}
		if jidText != "" {
			jid, err := types.ParseJID(jidText)
			if err == nil {
				dev, err := sm.container.GetDevice(ctx, jid)
				if err == nil && dev != nil {
					return dev, nil
				}
				log.Printf("[%s] Stored device %s missing, pairing fresh", userID, jidText)
			}
		}
	}

	return sm.container.NewDevice(), nil
}

// publishQR renders the pairing code and pushes it to the user's room
func (sm *SessionManager) publishQR(sess *Session, code string) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		log.Printf("[%s] ❌ Error generating QR code: %v", sess.UserID, err)
		return
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	sess.mu.Lock()
	sess.qrCode = dataURL
	sess.mu.Unlock()

	if sm.qrTerminal {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	}

	log.Printf("[%s] ✅ QR code received", sess.UserID)
	sm.transition(sess, models.StateQRPending, map[string]interface{}{"qr": dataURL})
	sm.hub.Emit(sess.UserID, messaging.EventQR, map[string]interface{}{"qr": dataURL})
}

// eventHandler adapts whatsmeow events into the gateway's vocabulary
func (sm *SessionManager) eventHandler(sess *Session) func(interface{}) {
	return func(evt interface{}) {
		switch e := evt.(type) {
		case *events.Connected:
			sm.handleConnected(sess)

		case *events.Disconnected:
			log.Printf("[%s] ⚠️ Client disconnected", sess.UserID)
			sm.transition(sess, models.StateDisconnected, nil)
			sm.hub.Emit(sess.UserID, messaging.EventDisconnected, map[string]interface{}{"reason": "connection lost"})

		case *events.LoggedOut:
			log.Printf("[%s] 🔴 Device logged out, session must be recreated", sess.UserID)
			sm.failSession(sess, "Device logged out")

		case *events.ConnectFailure:
			sm.failSession(sess, fmt.Sprintf("Connection failure: %s", e.Reason))

		case *events.Message:
			sm.handleIncomingMessage(sess, e)

		case *events.Receipt:
			sm.handleReceipt(sess, e)

		case *events.JoinedGroup:
			sm.hub.Emit(sess.UserID, messaging.EventGroupJoin, map[string]interface{}{
				"groupId": e.JID.String(),
				"name":    e.GroupName.Name,
			})

		case *events.GroupInfo:
			for _, jid := range e.Join {
				sm.hub.Emit(sess.UserID, messaging.EventGroupJoin, map[string]interface{}{
					"groupId":     e.JID.String(),
					"participant": jid.String(),
				})
			}
			for _, jid := range e.Leave {
				sm.hub.Emit(sess.UserID, messaging.EventGroupLeave, map[string]interface{}{
					"groupId":     e.JID.String(),
					"participant": jid.String(),
				})
			}
		}
	}
}

func (sm *SessionManager) handleConnected(sess *Session) {
	phone := ""
	if client := sess.client(); client != nil && client.Store.ID != nil {
		phone = client.Store.ID.User
		if sm.links != nil {
			if err := sm.links.Set(sess.UserID, client.Store.ID.String()); err != nil {
				log.Printf("[%s] Failed to persist device link: %v", sess.UserID, err)
			}
		}
	}

	sess.mu.Lock()
	sess.phoneNumber = phone
	sess.lastError = ""
	sess.mu.Unlock()

	log.Printf("[%s] ✅ Connected to WhatsApp as %s", sess.UserID, phone)
	sm.transition(sess, models.StateReady, map[string]interface{}{"phone_number": phone})
	sm.hub.Emit(sess.UserID, messaging.EventReady, map[string]interface{}{"phone_number": phone})
}

func (sm *SessionManager) handleIncomingMessage(sess *Session, e *events.Message) {
	body, msgType, hasMedia := describeMessage(e.Message)
	isGroup := e.Info.Chat.Server == types.GroupServer
	phone := e.Info.Sender.User
	timestamp := e.Info.Timestamp.UnixMilli()

	rec := &models.MessageRecord{
		MessageID: string(e.Info.ID),
		UserID:    sess.UserID,
		ChatID:    e.Info.Chat.String(),
		From:      phone,
		FromName:  e.Info.PushName,
		Body:      body,
		Type:      msgType,
		Timestamp: timestamp,
		IsGroup:   isGroup,
		HasMedia:  hasMedia,
		IsSent:    e.Info.IsFromMe,
	}
	if e.Info.IsFromMe {
		rec.FromName = "You"
	} else if rec.FromName == "" {
		rec.FromName = phone
	}

	if sm.store != nil {
		if err := sm.store.AppendMessage(rec); err != nil {
			log.Printf("[%s] Failed to store message: %v", sess.UserID, err)
		}
		if !isGroup {
			chatPhone := e.Info.Chat.User
			if err := sm.store.BumpChat(sess.UserID, chatPhone, e.Info.PushName, body, timestamp, !e.Info.IsFromMe); err != nil {
				log.Printf("[%s] Failed to update chat: %v", sess.UserID, err)
			}
		}
	}

	sm.hub.Emit(sess.UserID, messaging.EventMessageCreate, rec)
	if !e.Info.IsFromMe {
		log.Printf("[%s] 📨 Incoming message from %s", sess.UserID, phone)
		sm.hub.Emit(sess.UserID, messaging.EventMessage, rec)
	}
}

func (sm *SessionManager) handleReceipt(sess *Session, e *events.Receipt) {
	ack := 2 // delivered
	switch e.Type {
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		ack = 3
	case types.ReceiptTypePlayed:
		ack = 4
	}

	ids := make([]string, len(e.MessageIDs))
	for i, id := range e.MessageIDs {
		ids[i] = string(id)
	}

	sm.hub.Emit(sess.UserID, messaging.EventMessageAck, map[string]interface{}{
		"messageIds": ids,
		"ack":        ack,
		"chatId":     e.Chat.String(),
		"timestamp":  e.Timestamp.UnixMilli(),
	})
}

// describeMessage extracts a display body and coarse type from a message proto
func describeMessage(msg *waProto.Message) (body, msgType string, hasMedia bool) {
	switch {
	case msg == nil:
		return "", "unknown", false
	case msg.GetConversation() != "":
		return msg.GetConversation(), "chat", false
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), "chat", false
	case msg.GetImageMessage() != nil:
		return firstNonEmpty(msg.GetImageMessage().GetCaption(), "[Media]"), "image", true
	case msg.GetVideoMessage() != nil:
		return firstNonEmpty(msg.GetVideoMessage().GetCaption(), "[Media]"), "video", true
	case msg.GetAudioMessage() != nil:
		return "[Media]", "audio", true
	case msg.GetDocumentMessage() != nil:
		return firstNonEmpty(msg.GetDocumentMessage().GetTitle(), "[Media]"), "document", true
	case msg.GetContactMessage() != nil:
		return msg.GetContactMessage().GetDisplayName(), "vcard", false
	case msg.GetButtonsResponseMessage() != nil:
		return msg.GetButtonsResponseMessage().GetSelectedDisplayText(), "buttons_response", false
	case msg.GetListResponseMessage() != nil:
		return msg.GetListResponseMessage().GetTitle(), "list_response", false
	default:
		return "", "unknown", false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
