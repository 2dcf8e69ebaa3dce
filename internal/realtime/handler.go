package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chat-game-server/internal/ingress"
	"chat-game-server/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	// maxMessageSize leaves room for a frame whose text is at the ingress
	// length limit with every rune escaped as a surrogate pair. Longer text
	// is rejected by the length gate instead of dropping the connection.
	maxMessageSize = 64 << 10
	handleTimeout  = 15 * time.Second
)

// TypeChatSend is the inbound frame type for a chat line.
const TypeChatSend = "chat:send"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Ingress handles one inbound chat event.
type Ingress interface {
	Handle(ctx context.Context, in model.Inbound) error
}

// Users makes sure a connecting user has an account.
type Users interface {
	GetOrCreate(ctx context.Context, userID int64, username string) (*model.User, bool, error)
}

// Frame is an inbound client frame.
type Frame struct {
	Type            string `json:"type"`
	RoomID          string `json:"roomId"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Handler upgrades websocket connections and pumps frames.
type Handler struct {
	hub     *Hub
	ingress Ingress
	users   Users
	ctx     context.Context
}

// NewHandler creates a websocket handler. ctx bounds the lifetime of
// inbound event processing.
func NewHandler(ctx context.Context, hub *Hub, in Ingress, users Users) *Handler {
	return &Handler{hub: hub, ingress: in, users: users, ctx: ctx}
}

// Health checks the server's backing services. A nil Health always
// reports ok.
type Health interface {
	Check(ctx context.Context) error
}

// NewRouter routes the websocket endpoint and the health check.
func NewRouter(h *Handler, wsPath string, health Health) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz(health)).Methods(http.MethodGet)
	r.HandleFunc(wsPath, h.ServeWS).Methods(http.MethodGet)
	return r
}

func healthz(health Health) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health != nil {
			if err := health.Check(r.Context()); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ServeWS handles GET /ws?roomId=&userId=&username=
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := strings.TrimSpace(q.Get("roomId"))
	username := strings.TrimSpace(q.Get("username"))
	userID, err := strconv.ParseInt(q.Get("userId"), 10, 64)
	if roomID == "" || username == "" || err != nil || userID <= 0 {
		http.Error(w, "roomId, userId and username are required", http.StatusBadRequest)
		return
	}

	if h.users != nil {
		if _, created, err := h.users.GetOrCreate(r.Context(), userID, username); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load user")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		} else if created {
			log.Info().Int64("user_id", userID).Str("username", username).Msg("New user registered")
		}
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := NewClient(roomID, userID, username)
	h.hub.Register(c)

	log.Info().Str("room", roomID).Int64("user_id", userID).Msg("Client connected")

	go h.writePump(wsConn, c)
	go h.readPump(wsConn, c)
}

func (h *Handler) readPump(wsConn *websocket.Conn, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Int64("user_id", c.UserID).Msg("WebSocket read error")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.hub.SendToClient(c, &Outbound{Type: TypeNotice, Code: "bad_frame", Message: "Malformed message."})
			continue
		}
		h.handleFrame(c, &f)
	}
}

func (h *Handler) handleFrame(c *Client, f *Frame) {
	if f.Type != TypeChatSend {
		log.Debug().Str("type", f.Type).Int64("user_id", c.UserID).Msg("Ignoring frame")
		return
	}
	if f.RoomID != "" && f.RoomID != c.RoomID {
		h.hub.SendToClient(c, &Outbound{Type: TypeNotice, RoomID: f.RoomID, Code: "wrong_room", Message: "You are not in that room."})
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, handleTimeout)
	defer cancel()

	err := h.ingress.Handle(ctx, model.Inbound{
		RoomID:          c.RoomID,
		UserID:          c.UserID,
		Username:        c.Username,
		Text:            f.Text,
		ClientMessageID: f.ClientMessageID,
	})
	if err == nil {
		return
	}
	if rej, ok := ingress.AsRejection(err); ok {
		h.hub.SendToClient(c, &Outbound{
			Type:            TypeNotice,
			RoomID:          c.RoomID,
			Code:            rej.Code,
			Message:         rej.Notice,
			ClientMessageID: f.ClientMessageID,
		})
		return
	}
	log.Error().Err(err).Str("room", c.RoomID).Int64("user_id", c.UserID).Msg("Failed to handle chat send")
	h.hub.SendToClient(c, &Outbound{
		Type:            TypeNotice,
		RoomID:          c.RoomID,
		Code:            "error",
		Message:         "Failed to send message. Please try again.",
		ClientMessageID: f.ClientMessageID,
	})
}

func (h *Handler) writePump(wsConn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
