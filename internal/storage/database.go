package storage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/dentalsync/whatsapp-gateway/internal/models"
)

// DatabaseStore keeps the message history in PostgreSQL so it survives
// gateway restarts. Same interface and eviction behavior as MemoryStore.
type DatabaseStore struct {
	db           *gorm.DB
	historyLimit int
}

// NewDatabaseStore creates a PostgreSQL-backed message store
func NewDatabaseStore(db *gorm.DB, historyLimit int) *DatabaseStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &DatabaseStore{db: db, historyLimit: historyLimit}
}

func (d *DatabaseStore) AppendMessage(rec *models.MessageRecord) error {
	if err := d.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	// FIFO trim: drop the oldest rows once the user's buffer exceeds the cap
	var count int64
	if err := d.db.Model(&models.MessageRecord{}).Where("user_id = ?", rec.UserID).Count(&count).Error; err != nil {
		return nil
	}
	if count > int64(d.historyLimit) {
		var ids []uint
		d.db.Model(&models.MessageRecord{}).
			Where("user_id = ?", rec.UserID).
			Order("id asc").
			Limit(int(count - int64(d.historyLimit))).
			Pluck("id", &ids)
		if len(ids) > 0 {
			d.db.Delete(&models.MessageRecord{}, ids)
		}
	}
	return nil
}

func (d *DatabaseStore) MessagesForUser(userID string) ([]*models.MessageRecord, error) {
	var out []*models.MessageRecord
	err := d.db.Where("user_id = ?", userID).Order("timestamp asc").Find(&out).Error
	return out, err
}

func (d *DatabaseStore) MessagesForChat(userID, phone string, limit int) ([]*models.MessageRecord, error) {
	query := d.db.Where("user_id = ? AND (\"from\" = ? OR chat_id LIKE ?)", userID, phone, phone+"@%").
		Order("timestamp desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var newestFirst []*models.MessageRecord
	if err := query.Find(&newestFirst).Error; err != nil {
		return nil, err
	}

	// Flip back to chronological order
	out := make([]*models.MessageRecord, len(newestFirst))
	for i, rec := range newestFirst {
		out[len(newestFirst)-1-i] = rec
	}
	return out, nil
}

func (d *DatabaseStore) MessageCount(userID string) (int, error) {
	var count int64
	err := d.db.Model(&models.MessageRecord{}).Where("user_id = ?", userID).Count(&count).Error
	return int(count), err
}

func (d *DatabaseStore) TotalMessages() (int, error) {
	var count int64
	err := d.db.Model(&models.MessageRecord{}).Count(&count).Error
	return int(count), err
}

func (d *DatabaseStore) BumpChat(userID, phone, name, lastMessage string, timestamp int64, incrementUnread bool) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		err := tx.Where("user_id = ? AND phone = ?", userID, phone).First(&chat).Error
		if err == gorm.ErrRecordNotFound {
			chat = models.Chat{UserID: userID, Phone: phone}
		} else if err != nil {
			return err
		}

		if name != "" {
			chat.Name = name
		}
		if chat.Name == "" {
			chat.Name = phone
		}
		chat.LastMessage = lastMessage
		chat.LastMessageTime = timestamp
		if incrementUnread {
			chat.UnreadCount++
		} else {
			chat.UnreadCount = 0
		}
		return tx.Save(&chat).Error
	})
}

func (d *DatabaseStore) Chats(userID string) ([]*models.Chat, error) {
	var out []*models.Chat
	err := d.db.Where("user_id = ?", userID).Order("last_message_time desc").Find(&out).Error
	return out, err
}

func (d *DatabaseStore) ResetUnread(userID, phone string) error {
	return d.db.Model(&models.Chat{}).
		Where("user_id = ? AND phone = ?", userID, phone).
		Update("unread_count", 0).Error
}
