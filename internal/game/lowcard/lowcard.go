// Package lowcard implements the low card elimination game. Every round
// each active player draws one card and the lowest card is knocked out.
package lowcard

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"chat-game-server/internal/game"
	"chat-game-server/internal/model"
)

const (
	DefaultMinBet       = 10
	DefaultMaxBet       = 10000
	DefaultFeePercent   = 5
	DefaultJoinWindow   = 30 * time.Second
	DefaultActionWindow = 20 * time.Second
	DefaultCountdown    = 3 * time.Second
	DefaultFinishedTTL  = 60 * time.Second
)

// Suits of the ranking deck.
var Suits = []string{"♠", "♥", "♦", "♣"}

// Game implements game.Variant for low card.
type Game struct {
	settings game.Settings
}

// Config holds configuration for the low card game. Zero fields take defaults.
type Config struct {
	Settings game.Settings
}

// New creates a low card game with the given configuration.
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

func (g *Game) Type() model.GameType { return model.GameLowCard }
func (g *Game) Name() string { return "Low Card" }
func (g *Game) ActionVerbs() []string { return []string{"draw", "d"} }
func (g *Game) Settings() game.Settings { return g.settings }
func (g *Game) Payout(pot int64) int64 { return game.FeePayout(pot, g.settings.FeePercent) }

// NewDeck returns an ordered 52 card deck.
func NewDeck() []game.Card {
	deck := make([]game.Card, 0, 52)
	for _, suit := range Suits {
		for rank := 2; rank <= 14; rank++ {
			deck = append(deck, game.Card{Rank: rank, Suit: suit})
		}
	}
	return deck
}

// Shuffle permutes deck in place (Fisher-Yates).
func Shuffle(deck []game.Card, r game.Rand) {
	for i := len(deck) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
}

// Draw takes the top card, regenerating the deck when it runs out.
func Draw(s *game.Session, r game.Rand) game.Card {
	if len(s.Deck) == 0 {
		s.Deck = NewDeck()
		Shuffle(s.Deck, r)
	}
	c := s.Deck[len(s.Deck)-1]
	s.Deck = s.Deck[:len(s.Deck)-1]
	return c
}

// Setup shuffles a fresh deck for the session.
func (g *Game) Setup(s *game.Session, r game.Rand) {
	s.Deck = NewDeck()
	Shuffle(s.Deck, r)
	s.TiedPlayers = nil
	s.PreviousTiedLosers = nil
}

// BeginRound marks who draws. During a tie-break only the tied players
// draw and everyone else sits the round out.
func (g *Game) BeginRound(s *game.Session, _ game.Rand) []game.Event {
	if len(s.TiedPlayers) == 0 {
		return []game.Event{{
			Kind: game.EventRound,
			Text: fmt.Sprintf("Round %d: %d players. Type !draw within %s.",
				s.CurrentRound, len(s.Active()), g.settings.ActionWindow),
			Data: map[string]any{"round": s.CurrentRound},
		}}
	}

	var names []string
	for _, p := range s.Active() {
		if slices.Contains(s.TiedPlayers, p.UserID) {
			names = append(names, p.Username)
		} else {
			p.Exempt = true
		}
	}
	return []game.Event{{
		Kind: game.EventRound,
		Text: fmt.Sprintf("Round %d tie-break: %s draw again within %s.",
			s.CurrentRound, strings.Join(names, ", "), g.settings.ActionWindow),
		Data: map[string]any{"round": s.CurrentRound, "tied": s.TiedPlayers},
	}}
}

// Act draws a card for p.
func (g *Game) Act(s *game.Session, p *game.Player, r game.Rand, auto bool) game.Event {
	c := Draw(s, r)
	p.Card = &c
	p.HasActed = true
	p.AutoActed = auto

	prefix := ""
	if auto {
		prefix = "(auto) "
	}
	return game.Event{
		Kind: game.EventAction,
		Text: fmt.Sprintf("%s%s drew %s.", prefix, p.Username, c),
		Data: map[string]any{"userId": p.UserID, "card": c, "auto": auto},
	}
}

// Resolve applies the round rules:
//   - with exactly three players left and no timeout or tie-break, a
//     strictly highest card wins the game outright
//   - a single lowest card is eliminated
//   - a lowest card shared by some but not all drawers sends only the tied
//     players to a redraw
//   - a redraw that ties the same set again on a timeout eliminates them
//     all, as long as somebody survives
//   - a tie among all drawers replays the round
func (g *Game) Resolve(s *game.Session, timedOut bool) game.Resolution {
	active := s.Active()
	var drawn []*game.Player
	for _, p := range active {
		if !p.Exempt && p.Card != nil {
			drawn = append(drawn, p)
		}
	}
	if len(drawn) == 0 {
		return game.Resolution{Invalid: true}
	}

	tieBreak := len(s.TiedPlayers) > 0

	if !tieBreak && !timedOut && len(active) == 3 {
		if top := extreme(drawn, func(a, b int) bool { return a > b }); len(top) == 1 {
			s.TiedPlayers, s.PreviousTiedLosers = nil, nil
			w := top[0]
			return game.Resolution{
				WinnerID: w.UserID,
				Events: []game.Event{{
					Kind: game.EventTally,
					Text: fmt.Sprintf("Round %d: %s holds the highest card %s and takes the game.", s.CurrentRound, w.Username, w.Card),
					Data: map[string]any{"round": s.CurrentRound, "highest": w.UserID},
				}},
			}
		}
	}

	losers := extreme(drawn, func(a, b int) bool { return a < b })
	lowest := losers[0].Card
	ids := playerIDs(losers)

	switch {
	case len(losers) == 1:
		s.TiedPlayers, s.PreviousTiedLosers = nil, nil
		return eliminate(s, losers, fmt.Sprintf("%s drew the lowest card %s and is out.", losers[0].Username, lowest))

	case tieBreak && timedOut && sameSet(ids, s.PreviousTiedLosers) && len(losers) < len(active):
		s.TiedPlayers, s.PreviousTiedLosers = nil, nil
		return eliminate(s, losers, fmt.Sprintf("%s tied on %s again and are all out.", names(losers), lowest))

	case len(losers) == len(drawn) && !tieBreak:
		s.TiedPlayers, s.PreviousTiedLosers = nil, nil
		return game.Resolution{
			Replay: true,
			Events: []game.Event{{
				Kind: game.EventTally,
				Text: fmt.Sprintf("Round %d: everyone tied on %s. The round is replayed.", s.CurrentRound, lowest),
				Data: map[string]any{"round": s.CurrentRound, "void": true},
			}},
		}

	default:
		s.TiedPlayers = ids
		s.PreviousTiedLosers = ids
		return game.Resolution{
			Events: []game.Event{{
				Kind: game.EventTally,
				Text: fmt.Sprintf("Round %d: %s tied on %s and redraw.", s.CurrentRound, names(losers), lowest),
				Data: map[string]any{"round": s.CurrentRound, "tied": ids},
			}},
		}
	}
}

func eliminate(s *game.Session, out []*game.Player, text string) game.Resolution {
	ids := playerIDs(out)
	return game.Resolution{
		Eliminated: ids,
		Events: []game.Event{{
			Kind: game.EventTally,
			Text: fmt.Sprintf("Round %d: %s", s.CurrentRound, text),
			Data: map[string]any{"round": s.CurrentRound, "eliminated": ids},
		}},
	}
}

// extreme returns the players whose rank wins the comparison better.
func extreme(ps []*game.Player, better func(a, b int) bool) []*game.Player {
	var out []*game.Player
	for _, p := range ps {
		switch {
		case len(out) == 0 || better(p.Card.Rank, out[0].Card.Rank):
			out = []*game.Player{p}
		case p.Card.Rank == out[0].Card.Rank:
			out = append(out, p)
		}
	}
	return out
}

func playerIDs(ps []*game.Player) []int64 {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.UserID
	}
	return ids
}

func names(ps []*game.Player) string {
	n := make([]string, len(ps))
	for i, p := range ps {
		n[i] = p.Username
	}
	return strings.Join(n, ", ")
}

func sameSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}
