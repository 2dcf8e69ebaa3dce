package game

import (
	"time"

	"chat-game-server/internal/config"
	"chat-game-server/internal/model"
)

// Settings are the wager limits and phase timings of a variant.
type Settings struct {
	MinBet       int64
	MaxBet       int64
	FeePercent   int64
	JoinWindow   time.Duration
	ActionWindow time.Duration
	Countdown    time.Duration
	FinishedTTL  time.Duration
}

// SettingsFromConfig converts a variant's configuration section.
func SettingsFromConfig(c config.GameConfig) Settings {
	return Settings{
		MinBet:       c.MinBet,
		MaxBet:       c.MaxBet,
		FeePercent:   c.FeePercent,
		JoinWindow:   c.JoinWindow(),
		ActionWindow: c.ActionWindow(),
		Countdown:    c.Countdown(),
		FinishedTTL:  c.FinishedRetention(),
	}
}

// Resolution is a variant's verdict on a closed round.
type Resolution struct {
	// Eliminated lists the players knocked out this round.
	Eliminated []int64
	// WinnerID ends the game at once when non-zero.
	WinnerID int64
	// Replay voids the round; survivors play it again.
	Replay bool
	// Invalid reports a round that could not be resolved at all.
	Invalid bool
	Events  []Event
}

// Variant supplies the rules of one game type. The engine owns the
// session lifecycle, wagers and timers; a variant only mutates the round
// fields of the session it is handed. Methods run inside store updates
// that may be retried, so they must not have side effects.
type Variant interface {
	Type() model.GameType
	Name() string
	// ActionVerbs are the in-game command verbs exclusive to this variant.
	ActionVerbs() []string
	Settings() Settings
	// Payout is the winner's share of pot after the house fee.
	Payout(pot int64) int64

	// Setup prepares variant state when the session starts playing.
	Setup(s *Session, r Rand)
	// BeginRound prepares a fresh round for the active players.
	BeginRound(s *Session, r Rand) []Event
	// Act performs p's action. auto marks a server-generated action.
	Act(s *Session, p *Player, r Rand, auto bool) Event
	// Resolve tallies a round in which every expected player has acted.
	Resolve(s *Session, timedOut bool) Resolution
}

// FeePayout applies a floor-rounded percentage fee to pot.
func FeePayout(pot, feePercent int64) int64 {
	return pot - pot*feePercent/100
}
