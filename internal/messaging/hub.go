package messaging

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Server → client event names. Payloads are forwarded verbatim from the
// client wrapper plus the originating userId.
const (
	EventMessage       = "message"
	EventMessageAck    = "message_ack"
	EventMessageCreate = "message_create"
	EventMessageSent   = "message_sent"
	EventReady         = "ready"
	EventQR            = "qr"
	EventAuthenticated = "authenticated"
	EventAuthFailure   = "auth_failure"
	EventDisconnected  = "disconnected"
	EventGroupJoin     = "group_join"
	EventGroupLeave    = "group_leave"
	EventStateChanged  = "state_changed"
)

// Event is one frame pushed to every socket in the user's room
type Event struct {
	Event  string      `json:"event"`
	UserID string      `json:"userId"`
	Data   interface{} `json:"data,omitempty"`
}

// SocketClient is one connected WebSocket subscriber
type SocketClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// NewSocketClient wraps a websocket connection for hub registration
func NewSocketClient(conn *websocket.Conn) *SocketClient {
	return &SocketClient{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 64),
	}
}

const (
	opJoin = iota
	opLeave
)

// command is a join or leave request. Joins and leaves share one channel
// so they are applied in the order the socket issued them: a leave can
// never overtake the join that preceded it and close a channel the join
// would then resurrect.
type command struct {
	op     int
	client *SocketClient
	userID string
}

// Hub relays wrapper events to sockets joined to per-user rooms. Purely
// live fan-out: a socket that rejoins later does not get missed events.
type Hub struct {
	rooms map[string]map[*SocketClient]bool

	commands  chan command
	broadcast chan Event

	mu sync.RWMutex
}

// NewHub creates the fan-out hub. Call Run in a goroutine before use.
func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[*SocketClient]bool),
		commands:  make(chan command, 32),
		broadcast: make(chan Event, 256),
	}
}

// Run processes joins, disconnects and broadcasts. The single loop keeps
// per-user event ordering intact.
func (h *Hub) Run() {
	for {
		select {
		case cmd := <-h.commands:
			switch cmd.op {
			case opJoin:
				h.mu.Lock()
				if h.rooms[cmd.userID] == nil {
					h.rooms[cmd.userID] = make(map[*SocketClient]bool)
				}
				h.rooms[cmd.userID][cmd.client] = true
				h.mu.Unlock()
				log.Printf("[Hub] Socket %s joined room %s", cmd.client.ID, cmd.userID)

			case opLeave:
				h.mu.Lock()
				for userID, members := range h.rooms {
					if members[cmd.client] {
						delete(members, cmd.client)
						if len(members) == 0 {
							delete(h.rooms, userID)
						}
					}
				}
				h.mu.Unlock()
				close(cmd.client.Send)
			}

		case event := <-h.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("[Hub] Failed to marshal %s event: %v", event.Event, err)
				continue
			}

			h.mu.RLock()
			for client := range h.rooms[event.UserID] {
				select {
				case client.Send <- payload:
				default:
					// Slow consumer; drop the frame rather than block the loop
					log.Printf("[Hub] Dropping %s event for slow socket %s", event.Event, client.ID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Join subscribes a socket to a user's room. A socket may join several rooms.
func (h *Hub) Join(client *SocketClient, userID string) {
	h.commands <- command{op: opJoin, client: client, userID: userID}
}

// Remove drops a socket from every room and closes its send channel
func (h *Hub) Remove(client *SocketClient) {
	h.commands <- command{op: opLeave, client: client}
}

// Emit queues an event for everyone in the user's room
func (h *Hub) Emit(userID, event string, data interface{}) {
	h.broadcast <- Event{Event: event, UserID: userID, Data: data}
}

// ConnectionCount returns the total room membership across all users
// (a socket in two rooms counts twice, matching the Socket.IO semantics
// the product frontend expects)
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, members := range h.rooms {
		total += len(members)
	}
	return total
}

// RoomSize returns how many sockets are subscribed to one user's events
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}
