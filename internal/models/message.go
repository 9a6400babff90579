package models

import "time"

// MessageRecord is one observed message (inbound or outbound) in a user's history
type MessageRecord struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	MessageID string    `json:"id" gorm:"index"`
	UserID    string    `json:"-" gorm:"index"`
	ChatID    string    `json:"chatId" gorm:"index"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
	IsGroup   bool      `json:"isGroup"`
	HasMedia  bool      `json:"hasMedia"`
	IsSent    bool      `json:"isSent"`
	CreatedAt time.Time `json:"-"`
}

// Chat is the per-conversation summary shown in the product's inbox list
type Chat struct {
	ID              uint   `json:"-" gorm:"primaryKey"`
	UserID          string `json:"-" gorm:"uniqueIndex:idx_chats_user_phone"`
	Phone           string `json:"phone" gorm:"uniqueIndex:idx_chats_user_phone"`
	Name            string `json:"name"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"`
	UnreadCount     int    `json:"unreadCount"`
}
