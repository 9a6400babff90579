package utils

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

const (
	// DefaultChatServer is the JID domain for individual chats
	DefaultChatServer = "s.whatsapp.net"
	// GroupChatServer is the JID domain for group chats
	GroupChatServer = "g.us"
)

// StripNonDigits removes everything except 0-9 from a phone string
func StripNonDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeChatID turns any phone input into a chat identifier:
// all non-digit characters are stripped and the individual-chat domain is
// appended. Inputs that already carry a JID domain keep that domain.
func NormalizeChatID(phone string) string {
	server := DefaultChatServer
	if i := strings.Index(phone, "@"); i >= 0 {
		if s := strings.TrimSpace(phone[i+1:]); s != "" {
			server = s
		}
		phone = phone[:i]
	}
	return StripNonDigits(phone) + "@" + server
}

// ToJID builds the whatsmeow JID for a normalized phone input
func ToJID(phone string) (types.JID, error) {
	chatID := NormalizeChatID(phone)
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid phone number %q: %w", phone, err)
	}
	if jid.User == "" {
		return types.JID{}, fmt.Errorf("invalid phone number %q: no digits", phone)
	}
	return jid, nil
}

// Slugify converts button text into a stable button id
// ("Book Appointment" -> "book-appointment")
func Slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
