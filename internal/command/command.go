// Package command parses sigil-prefixed chat text and routes it to the
// game engine. The verb table is built once from the registered variants.
// Unknown verbs, and action verbs of a game type that is not active in the
// room, are ignored without any reply.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"chat-game-server/internal/game"
	"chat-game-server/internal/model"
	"chat-game-server/internal/repository"
	"chat-game-server/internal/store"
)

// Engine is the game engine surface the dispatcher drives.
type Engine interface {
	Start(ctx context.Context, roomID string, gt model.GameType, actor game.Actor, amount int64) (*game.Session, error)
	Join(ctx context.Context, roomID string, gt model.GameType, actor game.Actor) (*game.Session, error)
	Act(ctx context.Context, roomID string, gt model.GameType, actor game.Actor) error
	Cancel(ctx context.Context, roomID string, gt model.GameType, actor game.Actor) error
	Disable(ctx context.Context, roomID string, gt model.GameType) error
	Session(ctx context.Context, roomID string, gt model.GameType) (*game.Session, error)
}

// Rooms resolves room ownership and admin roles.
type Rooms interface {
	GetRoomOwnerAndRoles(ctx context.Context, roomID string) (*model.Room, error)
	IsRoomAdmin(ctx context.Context, roomID string, userID int64) (bool, error)
}

// Notifier sends an ephemeral notice to one user in a room.
type Notifier interface {
	Notify(userID int64, roomID, text string)
}

// handler runs one verb.
type handler func(ctx context.Context, in *model.Inbound, args []string) error

// Dispatcher routes commands through the verb table.
type Dispatcher struct {
	registry  *game.Registry
	engine    Engine
	store     store.Store
	rooms     Rooms
	notifier  Notifier
	announcer game.Announcer
	isAdmin   func(userID int64) bool
	verbs     map[string]handler
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Registry  *game.Registry
	Engine    Engine
	Store     store.Store
	Rooms     Rooms
	Notifier  Notifier
	Announcer game.Announcer
	IsAdmin   func(userID int64) bool
}

// New builds the dispatcher and its verb table.
func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		registry:  deps.Registry,
		engine:    deps.Engine,
		store:     deps.Store,
		rooms:     deps.Rooms,
		notifier:  deps.Notifier,
		announcer: deps.Announcer,
		isAdmin:   deps.IsAdmin,
	}
	if d.isAdmin == nil {
		d.isAdmin = func(int64) bool { return false }
	}

	d.verbs = map[string]handler{
		"/bot":    d.handleBot,
		"!start":  d.handleStart,
		"!join":   d.handleJoin,
		"!j":      d.handleJoin,
		"!cancel": d.handleCancel,
	}
	for _, v := range d.registry.List() {
		for _, verb := range v.ActionVerbs() {
			d.verbs["!"+verb] = func(ctx context.Context, in *model.Inbound, _ []string) error {
				return d.handleAction(ctx, in, v)
			}
		}
	}
	return d
}

// Verbs returns the registered verbs.
func (d *Dispatcher) Verbs() []string {
	out := make([]string, 0, len(d.verbs))
	for v := range d.verbs {
		out = append(out, v)
	}
	return out
}

// Dispatch runs a command. Policy failures become a private notice and
// infrastructure failures a generic one; neither is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, in *model.Inbound) error {
	fields := strings.Fields(in.Text)
	if len(fields) == 0 {
		return nil
	}
	verb := strings.ToLower(fields[0])
	h, ok := d.verbs[verb]
	if !ok {
		return nil
	}

	err := h(ctx, in, fields[1:])
	switch {
	case err == nil:
	case errors.Is(err, errIgnore):
	case game.IsPolicy(err) || isNotice(err):
		d.notify(in, noticeFor(err))
	default:
		log.Error().Err(err).
			Str("room", in.RoomID).
			Int64("user_id", in.UserID).
			Str("verb", verb).
			Msg("Command failed")
		d.notify(in, fmt.Sprintf("Failed to %s. Please try again.", strings.TrimLeft(verb, "!/")))
	}
	return nil
}

// errIgnore swallows a command silently.
var errIgnore = errors.New("ignored")

// notice is a user-facing message that is not a game error.
type notice string

func (n notice) Error() string { return string(n) }

func isNotice(err error) bool {
	var n notice
	return errors.As(err, &n)
}

func noticeFor(err error) string {
	var n notice
	if errors.As(err, &n) {
		return string(n)
	}
	switch {
	case errors.Is(err, game.ErrInsufficientFunds):
		return "Insufficient credits."
	case errors.Is(err, game.ErrStartContended):
		return "A game is already starting. Try again in a moment."
	case errors.Is(err, game.ErrGameInProgress):
		return "A game is already in progress."
	case errors.Is(err, game.ErrAlreadyJoined):
		return "You have already joined."
	case errors.Is(err, game.ErrJoinClosed):
		return "Joining is closed for this game."
	case errors.Is(err, game.ErrGameNotFound):
		return "There is no game in progress."
	case errors.Is(err, game.ErrNotPlayer):
		return "You are not playing in this game."
	case errors.Is(err, game.ErrSittingOut):
		return "You sit out this tie-break round."
	case errors.Is(err, game.ErrAlreadyActed):
		return "You have already played this round."
	case errors.Is(err, game.ErrRoundNotOpen):
		return "Wait for the next round."
	case errors.Is(err, game.ErrNotPermitted):
		return "You are not allowed to do that."
	}
	// ErrBetOutOfRange carries its limits.
	return strings.ToUpper(err.Error()[:1]) + err.Error()[1:] + "."
}

func (d *Dispatcher) notify(in *model.Inbound, text string) {
	if d.notifier != nil {
		d.notifier.Notify(in.UserID, in.RoomID, text)
	}
}

func (d *Dispatcher) actor(ctx context.Context, in *model.Inbound) (game.Actor, error) {
	a := game.Actor{UserID: in.UserID, Username: in.Username, SystemAdmin: d.isAdmin(in.UserID)}
	roomAdmin, err := d.isRoomAdmin(ctx, in)
	if err != nil {
		return a, err
	}
	a.RoomAdmin = roomAdmin
	return a, nil
}

// canManageBots is true for system admins, the room owner and room admins.
func (d *Dispatcher) canManageBots(ctx context.Context, in *model.Inbound) (bool, error) {
	if d.isAdmin(in.UserID) {
		return true, nil
	}
	return d.isRoomAdmin(ctx, in)
}

// isRoomAdmin is true for the room owner and room admins.
func (d *Dispatcher) isRoomAdmin(ctx context.Context, in *model.Inbound) (bool, error) {
	room, err := d.rooms.GetRoomOwnerAndRoles(ctx, in.RoomID)
	if err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
		return false, err
	}
	if err == nil && room.OwnerID == in.UserID {
		return true, nil
	}
	return d.rooms.IsRoomAdmin(ctx, in.RoomID, in.UserID)
}

// activeVariant returns the variant marked active for the room, if any.
func (d *Dispatcher) activeVariant(ctx context.Context, roomID string) (game.Variant, bool, error) {
	gt, err := store.GetActiveGameType(ctx, d.store, roomID)
	if err != nil {
		return nil, false, err
	}
	if gt == model.GameNone {
		return nil, false, nil
	}
	v, ok := d.registry.Get(gt)
	return v, ok, nil
}

// handleStart starts the active game. With no active game type the verb is
// offered to the variants in priority order and the first one enabled for
// the room takes it.
func (d *Dispatcher) handleStart(ctx context.Context, in *model.Inbound, args []string) error {
	v, ok, err := d.activeVariant(ctx, in.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		v, err = d.firstAccepting(ctx, in.RoomID, func(v game.Variant) (bool, error) {
			return store.HasBotFlag(ctx, d.store, in.RoomID, v.Type())
		})
		if err != nil {
			return err
		}
		if v == nil {
			return errIgnore
		}
		if err := store.SetActiveGameType(ctx, d.store, in.RoomID, v.Type()); err != nil {
			return err
		}
	}

	amount := v.Settings().MinBet
	if len(args) > 0 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || n <= 0 {
			return notice(fmt.Sprintf("Usage: !start <amount> (%d-%d).", v.Settings().MinBet, v.Settings().MaxBet))
		}
		amount = n
	}

	actor, err := d.actor(ctx, in)
	if err != nil {
		return err
	}
	_, err = d.engine.Start(ctx, in.RoomID, v.Type(), actor, amount)
	return err
}

// handleJoin joins the active game, or with no active game type the first
// variant holding a waiting session in the room.
func (d *Dispatcher) handleJoin(ctx context.Context, in *model.Inbound, _ []string) error {
	v, ok, err := d.activeVariant(ctx, in.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		v, err = d.firstAccepting(ctx, in.RoomID, func(v game.Variant) (bool, error) {
			s, err := d.engine.Session(ctx, in.RoomID, v.Type())
			if errors.Is(err, game.ErrGameNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return s.Status == game.StatusWaiting, nil
		})
		if err != nil {
			return err
		}
		if v == nil {
			return errIgnore
		}
	}

	actor, err := d.actor(ctx, in)
	if err != nil {
		return err
	}
	_, err = d.engine.Join(ctx, in.RoomID, v.Type(), actor)
	return err
}

func (d *Dispatcher) firstAccepting(ctx context.Context, roomID string, accepts func(game.Variant) (bool, error)) (game.Variant, error) {
	for _, v := range d.registry.List() {
		ok, err := accepts(v)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug().Str("room", roomID).Str("game", string(v.Type())).Msg("Variant accepted shared verb")
			return v, nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) handleAction(ctx context.Context, in *model.Inbound, v game.Variant) error {
	active, ok, err := d.activeVariant(ctx, in.RoomID)
	if err != nil {
		return err
	}
	if !ok || active.Type() != v.Type() {
		return errIgnore
	}
	actor, err := d.actor(ctx, in)
	if err != nil {
		return err
	}
	return d.engine.Act(ctx, in.RoomID, v.Type(), actor)
}

func (d *Dispatcher) handleCancel(ctx context.Context, in *model.Inbound, _ []string) error {
	v, ok, err := d.activeVariant(ctx, in.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		return errIgnore
	}
	actor, err := d.actor(ctx, in)
	if err != nil {
		return err
	}
	return d.engine.Cancel(ctx, in.RoomID, v.Type(), actor)
}

// handleBot toggles a game type: /bot <game> add|remove|off.
func (d *Dispatcher) handleBot(ctx context.Context, in *model.Inbound, args []string) error {
	allowed, err := d.canManageBots(ctx, in)
	if err != nil {
		return err
	}
	if !allowed {
		return game.ErrNotPermitted
	}
	if len(args) != 2 {
		return notice("Usage: /bot <game> add|remove")
	}
	v, ok := d.registry.Get(model.GameType(strings.ToLower(args[0])))
	if !ok {
		return notice(fmt.Sprintf("Unknown game %q.", args[0]))
	}

	switch strings.ToLower(args[1]) {
	case "add":
		return d.enable(ctx, in, v)
	case "remove", "off":
		return d.disable(ctx, in, v)
	default:
		return notice("Usage: /bot <game> add|remove")
	}
}

func (d *Dispatcher) enable(ctx context.Context, in *model.Inbound, v game.Variant) error {
	active, err := store.GetActiveGameType(ctx, d.store, in.RoomID)
	if err != nil {
		return err
	}
	if active != model.GameNone && active != v.Type() {
		enabled, err := store.HasBotFlag(ctx, d.store, in.RoomID, active)
		if err != nil {
			return err
		}
		if enabled {
			return notice(fmt.Sprintf("The %s bot is active in this room. Remove it first.", active))
		}
	}

	if err := store.SetBotFlag(ctx, d.store, in.RoomID, v.Type()); err != nil {
		return err
	}
	if err := store.SetActiveGameType(ctx, d.store, in.RoomID, v.Type()); err != nil {
		return err
	}

	log.Info().Str("room", in.RoomID).Str("game", string(v.Type())).Int64("user_id", in.UserID).Msg("Game bot enabled")
	d.announce(in.RoomID, v, fmt.Sprintf("%s bot enabled. Type !start <amount> to begin.", v.Name()))
	return nil
}

func (d *Dispatcher) disable(ctx context.Context, in *model.Inbound, v game.Variant) error {
	if err := d.engine.Disable(ctx, in.RoomID, v.Type()); err != nil {
		return err
	}
	if err := store.ClearBotFlag(ctx, d.store, in.RoomID, v.Type()); err != nil {
		return err
	}
	active, err := store.GetActiveGameType(ctx, d.store, in.RoomID)
	if err != nil {
		return err
	}
	if active == v.Type() {
		if err := store.ClearActiveGameType(ctx, d.store, in.RoomID); err != nil {
			return err
		}
	}

	log.Info().Str("room", in.RoomID).Str("game", string(v.Type())).Int64("user_id", in.UserID).Msg("Game bot disabled")
	d.announce(in.RoomID, v, fmt.Sprintf("%s bot removed.", v.Name()))
	return nil
}

func (d *Dispatcher) announce(roomID string, v game.Variant, text string) {
	if d.announcer == nil {
		return
	}
	d.announcer.Announce(roomID, v.Type(), game.Event{Kind: "bot:status", Text: text})
}
