package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
	"github.com/dentalsync/whatsapp-gateway/internal/utils"
)

// maxButtonTextLength is WhatsApp's hard limit on reply button text
const maxButtonTextLength = 20

// WhatsAppService adapts a user's connection into the gateway's send
// operations. Every operation requires the session to be READY and
// applies the same phone normalization.
type WhatsAppService struct {
	sessions *SessionManager
	store    storage.Store
	hub      *messaging.Hub

	// dispatch performs the actual send; replaced in tests
	dispatch func(ctx context.Context, sess *Session, to types.JID, msg *waProto.Message) (whatsmeow.SendResponse, error)
}

// NewWhatsAppService creates the send-operation wrapper
func NewWhatsAppService(sessions *SessionManager, store storage.Store, hub *messaging.Hub) *WhatsAppService {
	w := &WhatsAppService{
		sessions: sessions,
		store:    store,
		hub:      hub,
	}
	w.dispatch = func(ctx context.Context, sess *Session, to types.JID, msg *waProto.Message) (whatsmeow.SendResponse, error) {
		client := sess.client()
		if client == nil {
			return whatsmeow.SendResponse{}, ErrSessionNotReady
		}
		return client.SendMessage(ctx, to, msg)
	}
	return w
}

// readySession resolves the user's session and enforces readiness
func (w *WhatsAppService) readySession(userID string) (*Session, error) {
	sess, ok := w.sessions.Get(userID)
	if !ok || !sess.IsReady() {
		return nil, ErrSessionNotReady
	}
	return sess, nil
}

// SendText sends a plain text message and returns the message id
func (w *WhatsAppService) SendText(ctx context.Context, userID, phone, message string) (string, error) {
	sess, err := w.readySession(userID)
	if err != nil {
		return "", err
	}

	msg := &waProto.Message{Conversation: proto.String(message)}
	return w.deliver(ctx, sess, phone, msg, message, "chat")
}

// SendButtons sends a reply-button message. Button bodies are capped at
// 20 characters and must be unique; violations name the offenders.
func (w *WhatsAppService) SendButtons(ctx context.Context, userID string, req *models.SendButtonRequest) (string, error) {
	buttons, err := NormalizeButtons(req.Buttons)
	if err != nil {
		return "", err
	}

	sess, err := w.readySession(userID)
	if err != nil {
		return "", err
	}

	protoButtons := make([]*waProto.ButtonsMessage_Button, len(buttons))
	for i, b := range buttons {
		protoButtons[i] = &waProto.ButtonsMessage_Button{
			ButtonID:   proto.String(b.ID),
			ButtonText: &waProto.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(b.Body)},
			Type:       waProto.ButtonsMessage_Button_RESPONSE.Enum(),
		}
	}

	buttonsMsg := &waProto.ButtonsMessage{
		ContentText: proto.String(req.Message),
		Buttons:     protoButtons,
		HeaderType:  waProto.ButtonsMessage_EMPTY.Enum(),
	}
	if req.Footer != "" {
		buttonsMsg.FooterText = proto.String(req.Footer)
	}

	if req.Media != "" {
		image, err := w.uploadImage(ctx, sess, req.Media, req.MediaType)
		if err != nil {
			return "", fmt.Errorf("failed to attach media: %w", err)
		}
		image.Caption = proto.String(req.Message)
		buttonsMsg.Header = &waProto.ButtonsMessage_ImageMessage{ImageMessage: image}
		buttonsMsg.HeaderType = waProto.ButtonsMessage_IMAGE.Enum()
	}

	// Button messages must ride inside a ViewOnce envelope or newer
	// clients silently drop them
	msg := &waProto.Message{
		ViewOnceMessage: &waProto.FutureProofMessage{
			Message: &waProto.Message{ButtonsMessage: buttonsMsg},
		},
	}

	id, err := w.deliver(ctx, sess, req.Phone, msg, req.Message, "buttons")
	if err != nil && isDeprecatedSendError(err) {
		return "", &DeprecationError{
			Message: "Button messages are no longer supported by WhatsApp. Use a list message or regular text instead.",
		}
	}
	return id, err
}

// SendList sends an interactive list message
func (w *WhatsAppService) SendList(ctx context.Context, userID string, req *models.SendListRequest) (string, error) {
	sess, err := w.readySession(userID)
	if err != nil {
		return "", err
	}

	sections := make([]*waProto.ListMessage_Section, len(req.Sections))
	for i, sec := range req.Sections {
		rows := make([]*waProto.ListMessage_Row, len(sec.Rows))
		for j, row := range sec.Rows {
			rowID := row.ID
			if rowID == "" {
				rowID = utils.Slugify(row.Title)
			}
			rows[j] = &waProto.ListMessage_Row{
				RowID:       proto.String(rowID),
				Title:       proto.String(row.Title),
				Description: proto.String(row.Description),
			}
		}
		sections[i] = &waProto.ListMessage_Section{
			Title: proto.String(sec.Title),
			Rows:  rows,
		}
	}

	listMsg := &waProto.ListMessage{
		Title:       proto.String(req.Title),
		Description: proto.String(req.Description),
		ButtonText:  proto.String(req.ButtonText),
		ListType:    waProto.ListMessage_SINGLE_SELECT.Enum(),
		Sections:    sections,
	}
	if req.Footer != "" {
		listMsg.FooterText = proto.String(req.Footer)
	}

	msg := &waProto.Message{
		ViewOnceMessage: &waProto.FutureProofMessage{
			Message: &waProto.Message{ListMessage: listMsg},
		},
	}

	return w.deliver(ctx, sess, req.Phone, msg, req.Title, "list")
}

// SendContact sends a contact card built from name and number
func (w *WhatsAppService) SendContact(ctx context.Context, userID string, req *models.SendContactRequest) (string, error) {
	sess, err := w.readySession(userID)
	if err != nil {
		return "", err
	}

	displayName := req.Contact.DisplayName
	if displayName == "" {
		displayName = req.Contact.Name
	}
	digits := utils.StripNonDigits(req.Contact.Number)

	vcard := fmt.Sprintf(
		"BEGIN:VCARD\nVERSION:3.0\nFN:%s\nTEL;type=CELL;type=VOICE;waid=%s:+%s\nEND:VCARD",
		req.Contact.Name, digits, digits)

	msg := &waProto.Message{
		ContactMessage: &waProto.ContactMessage{
			DisplayName: proto.String(displayName),
			Vcard:       proto.String(vcard),
		},
	}

	return w.deliver(ctx, sess, req.Phone, msg, "Contact: "+displayName, "vcard")
}

// Status reports whether sends are currently possible for a user
func (w *WhatsAppService) Status(userID string) *models.ServiceStatus {
	sess, ok := w.sessions.Get(userID)
	if !ok {
		return &models.ServiceStatus{
			Available: false,
			Connected: false,
			Message:   "WhatsApp session not initialized. Please initialize first.",
		}
	}

	switch sess.State() {
	case models.StateReady:
		return &models.ServiceStatus{Available: true, Connected: true, Message: "WhatsApp is ready"}
	case models.StateQRPending:
		return &models.ServiceStatus{Available: false, Connected: false, Message: "Scan QR code with your phone"}
	case models.StateAuthFailure:
		return &models.ServiceStatus{Available: false, Connected: false, Message: "Authentication failed. Please reconnect."}
	default:
		return &models.ServiceStatus{Available: false, Connected: false, Message: "Connecting to WhatsApp..."}
	}
}

// deliver normalizes the destination, rate-limits, dispatches and records
// the sent message
func (w *WhatsAppService) deliver(ctx context.Context, sess *Session, phone string, msg *waProto.Message, body, msgType string) (string, error) {
	to, err := utils.ToJID(phone)
	if err != nil {
		return "", err
	}

	if err := sess.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := w.dispatch(ctx, sess, to, msg)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().UnixMilli()
	rec := &models.MessageRecord{
		MessageID: string(resp.ID),
		UserID:    sess.UserID,
		ChatID:    to.String(),
		From:      sess.PhoneNumber(),
		FromName:  "You",
		Body:      body,
		Type:      msgType,
		Timestamp: timestamp,
		IsGroup:   to.Server == types.GroupServer,
		IsSent:    true,
	}

	if w.store != nil {
		if err := w.store.AppendMessage(rec); err != nil {
			log.Printf("[%s] Failed to store sent message: %v", sess.UserID, err)
		}
		if !rec.IsGroup {
			if err := w.store.BumpChat(sess.UserID, to.User, "", body, timestamp, false); err != nil {
				log.Printf("[%s] Failed to update chat: %v", sess.UserID, err)
			}
		}
	}

	log.Printf("[%s] 📤 Sent %s message %s to %s", sess.UserID, msgType, resp.ID, to.User)
	w.hub.Emit(sess.UserID, messaging.EventMessageSent, rec)

	return string(resp.ID), nil
}

// uploadImage decodes a base64/data-URL payload and uploads it to the
// platform's media servers
func (w *WhatsAppService) uploadImage(ctx context.Context, sess *Session, media, mimeType string) (*waProto.ImageMessage, error) {
	raw := media
	if i := strings.Index(raw, "base64,"); i >= 0 {
		raw = raw[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("media must be base64 encoded: %w", err)
	}

	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	client := sess.client()
	if client == nil {
		return nil, ErrSessionNotReady
	}
	resp, err := client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, err
	}

	return &waProto.ImageMessage{
		Mimetype:      proto.String(mimeType),
		URL:           &resp.URL,
		DirectPath:    &resp.DirectPath,
		MediaKey:      resp.MediaKey,
		FileEncSHA256: resp.FileEncSHA256,
		FileSHA256:    resp.FileSHA256,
		FileLength:    &resp.FileLength,
	}, nil
}

// NormalizeButtons validates button specs and fills in missing ids.
// Returns ButtonValidationError naming every offending entry.
func NormalizeButtons(specs []models.ButtonSpec) ([]models.ButtonSpec, error) {
	if len(specs) == 0 {
		return nil, &ButtonValidationError{Message: "At least one button is required"}
	}

	out := make([]models.ButtonSpec, len(specs))
	var tooLong []string
	for i, spec := range specs {
		body := strings.TrimSpace(spec.Body)
		if body == "" {
			return nil, &ButtonValidationError{
				Message: fmt.Sprintf("Button %d has no text", i+1),
			}
		}
		if len([]rune(body)) > maxButtonTextLength {
			tooLong = append(tooLong, fmt.Sprintf("%q", body))
		}

		id := spec.ID
		if id == "" {
			id = utils.Slugify(body)
		}
		out[i] = models.ButtonSpec{ID: id, Body: body}
	}
	if len(tooLong) > 0 {
		return nil, &ButtonValidationError{
			Message: fmt.Sprintf("Button text exceeds %d characters: %s",
				maxButtonTextLength, strings.Join(tooLong, ", ")),
		}
	}

	seen := make(map[string]int)
	var duplicates []string
	for _, b := range out {
		seen[b.Body]++
		if seen[b.Body] == 2 {
			duplicates = append(duplicates, fmt.Sprintf("%q", b.Body))
		}
	}
	if len(duplicates) > 0 {
		return nil, &ButtonValidationError{
			Message: "Duplicate button text: " + strings.Join(duplicates, ", "),
		}
	}

	return out, nil
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
