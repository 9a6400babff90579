package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentalsync/whatsapp-gateway/internal/models"
)

func TestAppendMessageEvictsOldestFirst(t *testing.T) {
	store := NewMemoryStore(3)

	for i := 1; i <= 5; i++ {
		err := store.AppendMessage(&models.MessageRecord{
			MessageID: fmt.Sprintf("msg-%d", i),
			UserID:    "u1",
			Timestamp: int64(i),
		})
		require.NoError(t, err)
	}

	msgs, err := store.MessagesForUser("u1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-3", msgs[0].MessageID)
	assert.Equal(t, "msg-5", msgs[2].MessageID)
}

func TestMessageCountsArePerUser(t *testing.T) {
	store := NewMemoryStore(0)

	require.NoError(t, store.AppendMessage(&models.MessageRecord{UserID: "u1", Timestamp: 1}))
	require.NoError(t, store.AppendMessage(&models.MessageRecord{UserID: "u1", Timestamp: 2}))
	require.NoError(t, store.AppendMessage(&models.MessageRecord{UserID: "u2", Timestamp: 3}))

	count, err := store.MessageCount("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := store.TotalMessages()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestMessagesForChatFiltersAndLimits(t *testing.T) {
	store := NewMemoryStore(0)

	for i := 1; i <= 4; i++ {
		require.NoError(t, store.AppendMessage(&models.MessageRecord{
			MessageID: fmt.Sprintf("a-%d", i),
			UserID:    "u1",
			ChatID:    "5215512345678@s.whatsapp.net",
			From:      "5215512345678",
			Timestamp: int64(i),
		}))
	}
	require.NoError(t, store.AppendMessage(&models.MessageRecord{
		MessageID: "other",
		UserID:    "u1",
		ChatID:    "19998887777@s.whatsapp.net",
		From:      "19998887777",
		Timestamp: 10,
	}))

	msgs, err := store.MessagesForChat("u1", "5215512345678", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a-3", msgs[0].MessageID)
	assert.Equal(t, "a-4", msgs[1].MessageID)
}

func TestBumpChatTracksUnreadAndOrdering(t *testing.T) {
	store := NewMemoryStore(0)

	require.NoError(t, store.BumpChat("u1", "111", "Jane", "hola", 100, true))
	require.NoError(t, store.BumpChat("u1", "111", "", "segunda", 200, true))
	require.NoError(t, store.BumpChat("u1", "222", "Luis", "hey", 300, false))

	chats, err := store.Chats("u1")
	require.NoError(t, err)
	require.Len(t, chats, 2)

	// Most recent activity first
	assert.Equal(t, "222", chats[0].Phone)
	assert.Equal(t, 0, chats[0].UnreadCount)

	assert.Equal(t, "111", chats[1].Phone)
	assert.Equal(t, "Jane", chats[1].Name)
	assert.Equal(t, 2, chats[1].UnreadCount)

	require.NoError(t, store.ResetUnread("u1", "111"))
	chats, err = store.Chats("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, chats[1].UnreadCount)
}

func TestSendingResetsUnread(t *testing.T) {
	store := NewMemoryStore(0)

	require.NoError(t, store.BumpChat("u1", "111", "Jane", "hola", 100, true))
	require.NoError(t, store.BumpChat("u1", "111", "", "reply", 200, false))

	chats, err := store.Chats("u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, 0, chats[0].UnreadCount)
	assert.Equal(t, "reply", chats[0].LastMessage)
}
