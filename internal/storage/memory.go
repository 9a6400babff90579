package storage

import (
	"sort"
	"sync"

	"github.com/dentalsync/whatsapp-gateway/internal/models"
)

// DefaultHistoryLimit caps the per-user message buffer when no explicit
// limit is configured
const DefaultHistoryLimit = 1000

// MemoryStore holds the message history in memory. This is the default
// store: the buffer is observational, so losing it on restart is fine.
type MemoryStore struct {
	messages map[string][]*models.MessageRecord
	chats    map[string]map[string]*models.Chat

	messageMu sync.RWMutex
	chatMu    sync.RWMutex

	historyLimit int
}

// NewMemoryStore creates an in-memory message store with the given
// per-user history cap (0 means DefaultHistoryLimit)
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MemoryStore{
		messages:     make(map[string][]*models.MessageRecord),
		chats:        make(map[string]map[string]*models.Chat),
		historyLimit: historyLimit,
	}
}

// AppendMessage records one observed message, evicting the oldest entry
// once the user's buffer is full (strict FIFO)
func (m *MemoryStore) AppendMessage(rec *models.MessageRecord) error {
	m.messageMu.Lock()
	defer m.messageMu.Unlock()

	buf := append(m.messages[rec.UserID], rec)
	if len(buf) > m.historyLimit {
		buf = buf[len(buf)-m.historyLimit:]
	}
	m.messages[rec.UserID] = buf
	return nil
}

func (m *MemoryStore) MessagesForUser(userID string) ([]*models.MessageRecord, error) {
	m.messageMu.RLock()
	defer m.messageMu.RUnlock()

	buf := m.messages[userID]
	out := make([]*models.MessageRecord, len(buf))
	copy(out, buf)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

func (m *MemoryStore) MessagesForChat(userID, phone string, limit int) ([]*models.MessageRecord, error) {
	m.messageMu.RLock()
	defer m.messageMu.RUnlock()

	var out []*models.MessageRecord
	for _, rec := range m.messages[userID] {
		if rec.From == phone || chatIDUser(rec.ChatID) == phone {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) MessageCount(userID string) (int, error) {
	m.messageMu.RLock()
	defer m.messageMu.RUnlock()
	return len(m.messages[userID]), nil
}

func (m *MemoryStore) TotalMessages() (int, error) {
	m.messageMu.RLock()
	defer m.messageMu.RUnlock()

	total := 0
	for _, buf := range m.messages {
		total += len(buf)
	}
	return total, nil
}

// BumpChat creates or refreshes the chat summary for a conversation
func (m *MemoryStore) BumpChat(userID, phone, name, lastMessage string, timestamp int64, incrementUnread bool) error {
	m.chatMu.Lock()
	defer m.chatMu.Unlock()

	userChats, ok := m.chats[userID]
	if !ok {
		userChats = make(map[string]*models.Chat)
		m.chats[userID] = userChats
	}

	chat, ok := userChats[phone]
	if !ok {
		chat = &models.Chat{UserID: userID, Phone: phone}
		userChats[phone] = chat
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
	return nil
}

// Chats returns a user's chat summaries, most recent activity first
func (m *MemoryStore) Chats(userID string) ([]*models.Chat, error) {
	m.chatMu.RLock()
	defer m.chatMu.RUnlock()

	out := make([]*models.Chat, 0, len(m.chats[userID]))
	for _, chat := range m.chats[userID] {
		copied := *chat
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime > out[j].LastMessageTime
	})
	return out, nil
}

func (m *MemoryStore) ResetUnread(userID, phone string) error {
	m.chatMu.Lock()
	defer m.chatMu.Unlock()

	if chat, ok := m.chats[userID][phone]; ok {
		chat.UnreadCount = 0
	}
	return nil
}

// chatIDUser extracts the user part of a chat identifier like
// "5215512345678@s.whatsapp.net"
func chatIDUser(chatID string) string {
	for i := 0; i < len(chatID); i++ {
		if chatID[i] == '@' {
			return chatID[:i]
		}
	}
	return chatID
}
