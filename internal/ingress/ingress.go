// Package ingress gates every inbound chat event before it reaches the
// command dispatcher or the room. Gates run in a fixed order and the first
// failing gate rejects the event with a user-visible notice.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chat-game-server/internal/config"
	"chat-game-server/internal/model"
	"chat-game-server/internal/moderation"
	"chat-game-server/internal/repository"
	"chat-game-server/internal/store"
)

// Rejection codes.
const (
	CodeEmpty         = "empty"
	CodeTooLong       = "too_long"
	CodeFlood         = "flood"
	CodeRateLimited   = "rate_limited"
	CodeRoomSilenced  = "room_silenced"
	CodeRoomLocked    = "room_locked"
	CodeUserSilenced  = "user_silenced"
	CodeKicked        = "kicked"
	CodeLegacySilence = "user_muted"
	CodeBanned        = "banned"
)

// Rejection is a policy failure shown only to the sender.
type Rejection struct {
	Code   string
	Notice string
}

func (r *Rejection) Error() string {
	return "rejected: " + r.Code
}

func reject(code, notice string) error {
	return &Rejection{Code: code, Notice: notice}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

// Rooms reads room state and staff roles.
type Rooms interface {
	GetRoomOwnerAndRoles(ctx context.Context, roomID string) (*model.Room, error)
	IsRoomAdminOrModerator(ctx context.Context, roomID string, userID int64) (bool, error)
}

// CommandHandler receives sigil-prefixed text that passed every gate.
type CommandHandler interface {
	Dispatch(ctx context.Context, in *model.Inbound) error
}

// ChatBroadcaster fans a plain chat message out to the room.
type ChatBroadcaster interface {
	BroadcastChat(msg *model.ChatMessage)
}

// History persists chat messages.
type History interface {
	Append(ctx context.Context, msg *model.ChatMessage) error
}

// TaskSubmitter runs background side effects.
type TaskSubmitter interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// HandlerFunc processes one inbound event.
type HandlerFunc func(ctx context.Context, req *Request) error

// Gate wraps a handler with one check.
type Gate func(next HandlerFunc) HandlerFunc

// Request is an inbound event on its way through the gates.
type Request struct {
	model.Inbound

	room       *model.Room
	privileged bool
	loaded     bool
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store      store.Store
	Rooms      Rooms
	Moderation moderation.Checker
	Commands   CommandHandler
	Chat       ChatBroadcaster
	History    History
	Tasks      TaskSubmitter
	Now        func() time.Time
}

// Pipeline is the ordered gate chain.
type Pipeline struct {
	cfg     config.IngressConfig
	deps    Deps
	handler HandlerFunc
}

// New builds the pipeline. Gates run in this order: length, flood,
// rate limit, room silence, room lock, user silence, kick, legacy
// silence, room ban.
func New(cfg config.IngressConfig, deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	p := &Pipeline{cfg: cfg, deps: deps}
	p.handler = chain(p.deliver,
		p.lengthGate,
		p.floodGate,
		p.rateGate,
		p.roomSilenceGate,
		p.roomLockGate,
		p.userSilenceGate,
		p.kickGate,
		p.legacySilenceGate,
		p.banGate,
	)
	return p
}

func chain(final HandlerFunc, gates ...Gate) HandlerFunc {
	h := final
	for i := len(gates) - 1; i >= 0; i-- {
		h = gates[i](h)
	}
	return h
}

// Handle runs in through the gates. A *Rejection is a policy failure for
// the sender; any other error is an infrastructure failure.
func (p *Pipeline) Handle(ctx context.Context, in model.Inbound) error {
	err := p.handler(ctx, &Request{Inbound: in})
	if err == nil {
		return nil
	}
	if r, ok := AsRejection(err); ok {
		log.Debug().
			Str("room", in.RoomID).
			Int64("user_id", in.UserID).
			Str("code", r.Code).
			Msg("Message rejected")
		return err
	}
	log.Error().Err(err).
		Str("room", in.RoomID).
		Int64("user_id", in.UserID).
		Msg("Failed to process message")
	return err
}

func (p *Pipeline) lengthGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if strings.TrimSpace(req.Text) == "" {
			return reject(CodeEmpty, "Message is empty.")
		}
		if limit := p.cfg.MaxMessageLength; limit > 0 && utf8.RuneCountInString(req.Text) > limit {
			return reject(CodeTooLong, fmt.Sprintf("Message too long (max %d characters).", limit))
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) floodGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		n, err := p.deps.Store.SlidingWindowHit(ctx, fmt.Sprintf("flood:%d", req.UserID), p.cfg.FloodWindow)
		if err != nil {
			return fmt.Errorf("flood check: %w", err)
		}
		if n > p.cfg.FloodLimit {
			return reject(CodeFlood, "You are sending messages too fast. Slow down.")
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) rateGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		n, err := p.deps.Store.FixedWindowHit(ctx, fmt.Sprintf("rate:%d", req.UserID), p.cfg.RateWindow)
		if err != nil {
			return fmt.Errorf("rate check: %w", err)
		}
		if n > p.cfg.RateLimit {
			return reject(CodeRateLimited, "Message limit reached. Try again later.")
		}
		return next(ctx, req)
	}
}

// access loads the room and the sender's staff status once per request.
func (p *Pipeline) access(ctx context.Context, req *Request) (*model.Room, bool, error) {
	if req.loaded {
		return req.room, req.privileged, nil
	}
	room, err := p.deps.Rooms.GetRoomOwnerAndRoles(ctx, req.RoomID)
	if errors.Is(err, repository.ErrRoomNotFound) {
		room = &model.Room{ID: req.RoomID}
	} else if err != nil {
		return nil, false, fmt.Errorf("room lookup: %w", err)
	}

	privileged := room.OwnerID != 0 && room.OwnerID == req.UserID
	if !privileged && (room.IsSilenced || room.IsLocked) {
		privileged, err = p.deps.Rooms.IsRoomAdminOrModerator(ctx, req.RoomID, req.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("role lookup: %w", err)
		}
	}
	req.room, req.privileged, req.loaded = room, privileged, true
	return room, privileged, nil
}

func (p *Pipeline) roomSilenceGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		room, privileged, err := p.access(ctx, req)
		if err != nil {
			return err
		}
		if room.IsSilenced && !privileged {
			return reject(CodeRoomSilenced, "This room is silenced.")
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) roomLockGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		room, privileged, err := p.access(ctx, req)
		if err != nil {
			return err
		}
		if room.IsLocked && !privileged {
			return reject(CodeRoomLocked, "This room is locked.")
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) userSilenceGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		silenced, err := p.deps.Moderation.IsUserSilenced(ctx, req.RoomID, req.UserID)
		if err != nil {
			return fmt.Errorf("silence check: %w", err)
		}
		if silenced {
			return reject(CodeUserSilenced, "You are silenced in this room.")
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) kickGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		until, kicked, err := p.deps.Moderation.KickedUntil(ctx, req.RoomID, req.UserID)
		if err != nil {
			return fmt.Errorf("kick check: %w", err)
		}
		if kicked {
			left := until.Sub(p.deps.Now()).Round(time.Second)
			return reject(CodeKicked, fmt.Sprintf("You were kicked from this room. Try again in %s.", left))
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) legacySilenceGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		muted, err := p.deps.Moderation.IsLegacySilenced(ctx, req.RoomID, req.UserID)
		if err != nil {
			return fmt.Errorf("mute check: %w", err)
		}
		if muted {
			return reject(CodeLegacySilence, "You are silenced in this room.")
		}
		return next(ctx, req)
	}
}

func (p *Pipeline) banGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		banned, err := p.deps.Moderation.IsBanned(ctx, req.RoomID, req.UserID)
		if err != nil {
			return fmt.Errorf("ban check: %w", err)
		}
		if banned {
			return reject(CodeBanned, "You are banned from this room.")
		}
		return next(ctx, req)
	}
}

// IsCommand reports whether text carries a command sigil.
func IsCommand(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "!") || strings.HasPrefix(t, "/")
}

// deliver routes a message that passed every gate.
func (p *Pipeline) deliver(ctx context.Context, req *Request) error {
	if IsCommand(req.Text) {
		if p.deps.Commands == nil {
			return nil
		}
		in := req.Inbound
		return p.deps.Commands.Dispatch(ctx, &in)
	}

	msg := &model.ChatMessage{
		ID:              uuid.Must(uuid.NewV7()).String(),
		RoomID:          req.RoomID,
		UserID:          req.UserID,
		Username:        req.Username,
		Text:            req.Text,
		ClientMessageID: req.ClientMessageID,
		CreatedAt:       p.deps.Now(),
	}
	if p.deps.Chat != nil {
		p.deps.Chat.BroadcastChat(msg)
	}
	if p.deps.History != nil && p.deps.Tasks != nil {
		p.deps.Tasks.Submit("persist-message", func(ctx context.Context) error {
			return p.deps.History.Append(ctx, msg)
		})
	}
	return nil
}
