// Package game implements the round-based wagering engine that the chat
// mini-games plug into. A session moves absent -> waiting -> playing ->
// finished, and every transition is a compare-and-swap update of the
// session document in the state store.
package game

import (
	"errors"
	"math/rand/v2"
)

// Policy rejections reported to the acting user.
var (
	ErrUnknownGame       = errors.New("unknown game type")
	ErrGameNotFound      = errors.New("no game in progress")
	ErrGameInProgress    = errors.New("a game is already in progress")
	ErrStartContended    = errors.New("a game is already starting, try again")
	ErrBetOutOfRange     = errors.New("entry amount out of range")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyJoined     = errors.New("already joined")
	ErrJoinClosed        = errors.New("joining is closed")
	ErrNotPlayer         = errors.New("not an active player")
	ErrSittingOut        = errors.New("sitting out this round")
	ErrRoundNotOpen      = errors.New("round is not open")
	ErrAlreadyActed      = errors.New("already acted this round")
	ErrNotPermitted      = errors.New("not permitted")
)

// errStale marks a timer callback or update that no longer matches the
// session it was armed for.
var errStale = errors.New("stale session state")

// IsPolicy reports whether err is a user-facing rejection rather than an
// infrastructure failure.
func IsPolicy(err error) bool {
	for _, target := range []error{
		ErrUnknownGame, ErrGameNotFound, ErrGameInProgress, ErrStartContended,
		ErrBetOutOfRange, ErrInsufficientFunds, ErrAlreadyJoined, ErrJoinClosed,
		ErrNotPlayer, ErrSittingOut, ErrRoundNotOpen, ErrAlreadyActed, ErrNotPermitted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Rand is the randomness source of dice rolls and deck shuffles.
type Rand interface {
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}

type defaultRand struct{}

func (defaultRand) Intn(n int) int { return rand.IntN(n) }

// NewRand returns the process-wide goroutine-safe random source.
func NewRand() Rand { return defaultRand{} }

// Event kinds broadcast to room subscribers.
const (
	EventStarted   = "game:started"
	EventJoined    = "game:joined"
	EventRound     = "game:round"
	EventAction    = "game:action"
	EventTally     = "game:tally"
	EventFinished  = "game:finished"
	EventCancelled = "game:cancelled"
)

// Event is one bot announcement produced by a state transition.
type Event struct {
	Kind string
	Text string
	Data map[string]any
}

// Actor is the user issuing a game command, with the roles the caller
// resolved for the room.
type Actor struct {
	UserID      int64
	Username    string
	SystemAdmin bool
	// RoomAdmin is the room owner or a room admin. Moderators are not.
	RoomAdmin   bool
}
