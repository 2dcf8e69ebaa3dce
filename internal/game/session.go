package game

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-game-server/internal/model"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Card is a ranked playing card. Ranks run 2..14 with aces high.
type Card struct {
	Rank int    `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) String() string {
	var rank string
	switch c.Rank {
	case 11:
		rank = "J"
	case 12:
		rank = "Q"
	case 13:
		rank = "K"
	case 14:
		rank = "A"
	default:
		rank = fmt.Sprint(c.Rank)
	}
	return rank + c.Suit
}

// Player is one participant. Join order is preserved by Session.Players.
type Player struct {
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	IsEliminated bool   `json:"isEliminated"`

	// Round-scoped.
	HasActed  bool  `json:"hasActed"`
	AutoActed bool  `json:"autoActed,omitempty"`
	Dice      []int `json:"dice,omitempty"`
	Card      *Card `json:"card,omitempty"`
	Exempt    bool  `json:"exempt,omitempty"`

	// Carried between dice rounds.
	Immune       bool `json:"immune,omitempty"`
	ImmunityNext bool `json:"immunityNext,omitempty"`
}

func (p *Player) resetRound() {
	p.HasActed = false
	p.AutoActed = false
	p.Dice = nil
	p.Card = nil
	p.Exempt = false
}

// Session is the game document stored per room and game type.
type Session struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"roomId"`
	Game        model.GameType `json:"game"`
	Status      Status         `json:"status"`
	StarterID   int64          `json:"starterId"`
	EntryAmount int64          `json:"entryAmount"`
	Pot         int64          `json:"pot"`

	CurrentRound  int       `json:"currentRound"`
	RoundOpen     bool      `json:"roundOpen"`
	Players       []*Player `json:"players"`
	JoinDeadline  time.Time `json:"joinDeadline"`
	RoundDeadline time.Time `json:"roundDeadline"`

	WinnerID int64 `json:"winnerId,omitempty"`
	Payout   int64 `json:"payout,omitempty"`

	// Dice.
	Target     int   `json:"target,omitempty"`
	TargetDice []int `json:"targetDice,omitempty"`

	// Low card.
	Deck               []Card  `json:"deck,omitempty"`
	TiedPlayers        []int64 `json:"tiedPlayers,omitempty"`
	PreviousTiedLosers []int64 `json:"previousTiedLosers,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// Player returns the participant with userID, or nil.
func (s *Session) Player(userID int64) *Player {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Active returns the non-eliminated players in join order.
func (s *Session) Active() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsEliminated {
			out = append(out, p)
		}
	}
	return out
}

// Pending returns the players still expected to act this round.
func (s *Session) Pending() []*Player {
	var out []*Player
	for _, p := range s.Players {
		if !p.IsEliminated && !p.Exempt && !p.HasActed {
			out = append(out, p)
		}
	}
	return out
}

// AllActed reports whether every expected player has acted.
func (s *Session) AllActed() bool {
	return len(s.Pending()) == 0
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func encodeSession(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}
