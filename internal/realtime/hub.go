// Package realtime fans room broadcasts and private notices out to
// websocket clients and feeds their chat sends into ingress.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chat-game-server/internal/game"
	"chat-game-server/internal/ledger"
	"chat-game-server/internal/model"
)

// Outbound message types.
const (
	TypeMessage        = "chat:message"
	TypeNotice         = "chat:notice"
	TypeCreditsUpdated = "credits:updated"
)

// Message types of room broadcasts.
const (
	MessageTypeChat = "chat"
	MessageTypeBot  = "bot"
)

// Outbound is the envelope written to clients.
type Outbound struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	RoomID      string         `json:"roomId,omitempty"`
	Username    string         `json:"username,omitempty"`
	Message     string         `json:"message,omitempty"`
	MessageType string         `json:"messageType,omitempty"`
	BotType     string         `json:"botType,omitempty"`
	Event       string         `json:"event,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Code        string         `json:"code,omitempty"`
	Balance     *int64         `json:"balance,omitempty"`
	Tagged      *int64         `json:"taggedBalance,omitempty"`
	Timestamp   int64          `json:"timestamp"`

	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Client is one subscribed connection.
type Client struct {
	RoomID   string
	UserID   int64
	Username string
	Send     chan []byte
}

// NewClient creates a client with a buffered send queue.
func NewClient(roomID string, userID int64, username string) *Client {
	return &Client{RoomID: roomID, UserID: userID, Username: username, Send: make(chan []byte, 256)}
}

// envelope is a queued delivery. Exactly one of room, user or client
// selects the audience; roomID narrows a user delivery to one room.
type envelope struct {
	roomID string
	userID int64
	client *Client
	msg    *Outbound
}

// Hub tracks room and user subscriptions. Deliveries are processed in
// submission order by a single goroutine.
type Hub struct {
	rooms map[string]map[*Client]struct{}
	users map[int64]map[*Client]struct{}
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
	closeOnce  sync.Once

	now func() time.Time
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		users:      make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run processes subscriptions and deliveries until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for c := range clients {
			close(c.Send)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.users = make(map[int64]map[*Client]struct{})
}

// Register subscribes c to its room and its user channel.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.Send)
	}
}

// Unregister removes c and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// RoomSize returns the number of clients subscribed to roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[*Client]struct{})
	}
	h.rooms[c.RoomID][c] = struct{}{}
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]struct{})
	}
	h.users[c.UserID][c] = struct{}{}
	log.Debug().Str("room", c.RoomID).Int64("user_id", c.UserID).Msg("Client subscribed")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[c.RoomID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, c.RoomID)
	}
	if byUser := h.users[c.UserID]; byUser != nil {
		delete(byUser, c)
		if len(byUser) == 0 {
			delete(h.users, c.UserID)
		}
	}
	close(c.Send)
	log.Debug().Str("room", c.RoomID).Int64("user_id", c.UserID).Msg("Client unsubscribed")
}

func (h *Hub) deliver(env envelope) {
	data, err := json.Marshal(env.msg)
	if err != nil {
		log.Error().Err(err).Str("type", env.msg.Type).Msg("Failed to encode outbound message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case env.client != nil:
		if _, ok := h.rooms[env.client.RoomID][env.client]; ok {
			h.push(env.client, data)
		}
	case env.userID != 0:
		for c := range h.users[env.userID] {
			if env.roomID == "" || c.RoomID == env.roomID {
				h.push(c, data)
			}
		}
	default:
		for c := range h.rooms[env.roomID] {
			h.push(c, data)
		}
	}
}

// push drops the message when the client's queue is full.
func (h *Hub) push(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("room", c.RoomID).Int64("user_id", c.UserID).Msg("Client send buffer full, dropping message")
	}
}

func (h *Hub) enqueue(env envelope) {
	if env.msg.Timestamp == 0 {
		env.msg.Timestamp = h.now().UnixMilli()
	}
	select {
	case h.broadcast <- env:
	case <-h.done:
	}
}

// Broadcast sends msg to every client in roomID.
func (h *Hub) Broadcast(roomID string, msg *Outbound) {
	h.enqueue(envelope{roomID: roomID, msg: msg})
}

// SendToUser sends msg to every connection of userID.
func (h *Hub) SendToUser(userID int64, msg *Outbound) {
	h.enqueue(envelope{userID: userID, msg: msg})
}

// SendToClient sends msg to one connection.
func (h *Hub) SendToClient(c *Client, msg *Outbound) {
	h.enqueue(envelope{client: c, msg: msg})
}

// BroadcastChat sends a plain chat line to its room.
func (h *Hub) BroadcastChat(msg *model.ChatMessage) {
	h.Broadcast(msg.RoomID, &Outbound{
		Type:            TypeMessage,
		ID:              msg.ID,
		RoomID:          msg.RoomID,
		Username:        msg.Username,
		Message:         msg.Text,
		MessageType:     MessageTypeChat,
		Timestamp:       msg.CreatedAt.UnixMilli(),
		ClientMessageID: msg.ClientMessageID,
	})
}

// Announce broadcasts game events as bot messages.
func (h *Hub) Announce(roomID string, gt model.GameType, events ...game.Event) {
	for _, ev := range events {
		h.Broadcast(roomID, &Outbound{
			Type:        TypeMessage,
			ID:          uuid.NewString(),
			RoomID:      roomID,
			Username:    botUsername(gt),
			Message:     ev.Text,
			MessageType: MessageTypeBot,
			BotType:     string(gt),
			Event:       ev.Kind,
			Data:        ev.Data,
		})
	}
}

// NotifyBalance sends credits:updated to the user's own connections.
func (h *Hub) NotifyBalance(userID int64, b ledger.Balances) {
	balance, tagged := b.Main, b.Tagged
	h.SendToUser(userID, &Outbound{
		Type:    TypeCreditsUpdated,
		Balance: &balance,
		Tagged:  &tagged,
	})
}

// Notify sends a private notice to the user's connections in roomID.
func (h *Hub) Notify(userID int64, roomID, text string) {
	h.enqueue(envelope{userID: userID, roomID: roomID, msg: &Outbound{
		Type:    TypeNotice,
		RoomID:  roomID,
		Message: text,
	}})
}

func botUsername(gt model.GameType) string {
	switch gt {
	case model.GameDice:
		return "DiceBot"
	case model.GameLowCard:
		return "LowCardBot"
	default:
		return "GameBot"
	}
}
