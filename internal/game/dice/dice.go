// Package dice implements the dice elimination game. Each round the bot
// rolls a target with two dice; players who match or beat it stay in.
package dice

import (
	"fmt"
	"strings"
	"time"

	"chat-game-server/internal/game"
	"chat-game-server/internal/model"
)

const (
	DefaultMinBet       = 10
	DefaultMaxBet       = 10000
	DefaultFeePercent   = 10
	DefaultJoinWindow   = 30 * time.Second
	DefaultActionWindow = 20 * time.Second
	DefaultCountdown    = 3 * time.Second
	DefaultFinishedTTL  = 60 * time.Second
)

// Game implements game.Variant for dice.
type Game struct {
	settings game.Settings
}

// Config holds configuration for the dice game. Zero fields take defaults.
type Config struct {
	Settings game.Settings
}

// New creates a dice game with the given configuration.
func New(cfg *Config) *Game {
	s := game.Settings{
		MinBet:       DefaultMinBet,
		MaxBet:       DefaultMaxBet,
		FeePercent:   DefaultFeePercent,
		JoinWindow:   DefaultJoinWindow,
		ActionWindow: DefaultActionWindow,
		Countdown:    DefaultCountdown,
		FinishedTTL:  DefaultFinishedTTL,
	}
	if cfg != nil {
		c := cfg.Settings
		if c.MinBet > 0 {
			s.MinBet = c.MinBet
		}
		if c.MaxBet > 0 {
			s.MaxBet = c.MaxBet
		}
		if c.FeePercent > 0 {
			s.FeePercent = c.FeePercent
		}
		if c.JoinWindow > 0 {
			s.JoinWindow = c.JoinWindow
		}
		if c.ActionWindow > 0 {
			s.ActionWindow = c.ActionWindow
		}
		if c.Countdown > 0 {
			s.Countdown = c.Countdown
		}
		if c.FinishedTTL > 0 {
			s.FinishedTTL = c.FinishedTTL
		}
	}
	return &Game{settings: s}
}

func (g *Game) Type() model.GameType { return model.GameDice }
func (g *Game) Name() string { return "Dice" }
func (g *Game) ActionVerbs() []string { return []string{"roll", "r"} }
func (g *Game) Settings() game.Settings { return g.settings }
func (g *Game) Payout(pot int64) int64 { return game.FeePayout(pot, g.settings.FeePercent) }
func (g *Game) Setup(*game.Session, game.Rand) {}

// Roll throws two six-sided dice.
func Roll(r game.Rand) []int {
	return []int{r.Intn(6) + 1, r.Intn(6) + 1}
}

// Total sums a roll.
func Total(d []int) int {
	t := 0
	for _, v := range d {
		t += v
	}
	return t
}

// IsMaxDouble reports a (6,6) roll.
func IsMaxDouble(d []int) bool {
	return len(d) == 2 && d[0] == 6 && d[1] == 6
}

// StaysIn reports whether a roll survives the round.
// Rules:
//   - total >= target stays in
//   - an immune player stays in regardless of the roll
//   - a (6,6) always stays in
func StaysIn(d []int, target int, immune bool) bool {
	return immune || IsMaxDouble(d) || Total(d) >= target
}

// BeginRound moves earned immunity into effect and rolls the target.
func (g *Game) BeginRound(s *game.Session, r game.Rand) []game.Event {
	var immune []string
	for _, p := range s.Active() {
		p.Immune = p.ImmunityNext
		p.ImmunityNext = false
		if p.Immune {
			immune = append(immune, p.Username)
		}
	}

	s.TargetDice = Roll(r)
	s.Target = Total(s.TargetDice)

	text := fmt.Sprintf("Round %d: the bot rolled %d + %d = %d. Type !roll within %s.",
		s.CurrentRound, s.TargetDice[0], s.TargetDice[1], s.Target, g.settings.ActionWindow)
	if len(immune) > 0 {
		text += " Immune this round: " + strings.Join(immune, ", ") + "."
	}
	return []game.Event{{
		Kind: game.EventRound,
		Text: text,
		Data: map[string]any{"round": s.CurrentRound, "target": s.Target, "targetDice": s.TargetDice},
	}}
}

// Act rolls for p. A (6,6) earns immunity for the next round.
func (g *Game) Act(s *game.Session, p *game.Player, r game.Rand, auto bool) game.Event {
	p.Dice = Roll(r)
	p.HasActed = true
	p.AutoActed = auto
	if IsMaxDouble(p.Dice) {
		p.ImmunityNext = true
	}

	total := Total(p.Dice)
	var verdict string
	switch {
	case IsMaxDouble(p.Dice):
		verdict = "double six, immune next round"
	case total >= s.Target:
		verdict = "safe"
	case p.Immune:
		verdict = "saved by immunity"
	default:
		verdict = "below target"
	}
	prefix := ""
	if auto {
		prefix = "(auto) "
	}
	return game.Event{
		Kind: game.EventAction,
		Text: fmt.Sprintf("%s%s rolled %d + %d = %d, %s.", prefix, p.Username, p.Dice[0], p.Dice[1], total, verdict),
		Data: map[string]any{"userId": p.UserID, "dice": p.Dice, "total": total, "auto": auto},
	}
}

// Resolve eliminates everyone who fell below the target. A round where
// nobody stays in is void.
func (g *Game) Resolve(s *game.Session, _ bool) game.Resolution {
	var in, out []*game.Player
	for _, p := range s.Active() {
		if StaysIn(p.Dice, s.Target, p.Immune) {
			in = append(in, p)
		} else {
			out = append(out, p)
		}
	}

	if len(in) == 0 {
		return game.Resolution{
			Replay: true,
			Events: []game.Event{{
				Kind: game.EventTally,
				Text: fmt.Sprintf("Nobody reached %d. The round is replayed.", s.Target),
				Data: map[string]any{"round": s.CurrentRound, "void": true},
			}},
		}
	}

	ids := make([]int64, 0, len(out))
	names := make([]string, 0, len(out))
	for _, p := range out {
		ids = append(ids, p.UserID)
		names = append(names, p.Username)
	}
	text := fmt.Sprintf("Round %d: everyone stays in.", s.CurrentRound)
	if len(out) > 0 {
		text = fmt.Sprintf("Round %d: eliminated %s. %d remaining.", s.CurrentRound, strings.Join(names, ", "), len(in))
	}
	return game.Resolution{
		Eliminated: ids,
		Events: []game.Event{{
			Kind: game.EventTally,
			Text: text,
			Data: map[string]any{"round": s.CurrentRound, "eliminated": ids},
		}},
	}
}
