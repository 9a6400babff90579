package storage

import (
	"github.com/dentalsync/whatsapp-gateway/internal/models"
)

// Store is the message history buffer: an observational, bounded per-user
// log of messages plus the chat summaries the product inbox renders.
// It is never consulted for correctness decisions, only for reporting.
type Store interface {
	// Message history
	AppendMessage(rec *models.MessageRecord) error
	MessagesForUser(userID string) ([]*models.MessageRecord, error)
	MessagesForChat(userID, phone string, limit int) ([]*models.MessageRecord, error)
	MessageCount(userID string) (int, error)
	TotalMessages() (int, error)

	// Chat summaries
	BumpChat(userID, phone, name, lastMessage string, timestamp int64, incrementUnread bool) error
	Chats(userID string) ([]*models.Chat, error)
	ResetUnread(userID, phone string) error
}
