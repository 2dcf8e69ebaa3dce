// Package model defines the data models shared across the chat game server.
package model

import "time"

// User represents a chat user's credit account in the store of record.
type User struct {
	ID            int64     `db:"id"`
	Username      string    `db:"username"`
	Balance       int64     `db:"balance"`
	TaggedBalance int64     `db:"tagged_balance"` // promotional credits, wagering only
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Transaction represents an immutable balance change record.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Tagged      int64     `db:"tagged_amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeBet    = "bet"    // Wager debited on start/join
	TxTypeWin    = "win"    // Pot paid to the winner
	TxTypeRefund = "refund" // Wager returned on cancellation
	TxTypeBonus  = "bonus"  // Promotional (tagged) credits granted
)

// GameType identifies a mini-game variant that can be enabled for a room.
type GameType string

const (
	GameNone    GameType = ""
	GameDice    GameType = "dice"
	GameLowCard GameType = "lowcard"
)

// Valid reports whether g names a known game variant.
func (g GameType) Valid() bool {
	return g == GameDice || g == GameLowCard
}

// Room is the subset of room state the ingress gates need.
type Room struct {
	ID         string
	OwnerID    int64
	IsLocked   bool
	IsSilenced bool
}

// ChatMessage is a persisted chat line handed to the message history.
type ChatMessage struct {
	ID              string    `db:"id"`
	RoomID          string    `db:"room_id"`
	UserID          int64     `db:"user_id"`
	Username        string    `db:"username"`
	Text            string    `db:"text"`
	ClientMessageID string    `db:"client_message_id"`
	CreatedAt       time.Time `db:"created_at"`
}

// Inbound is one chat send event received from a client.
type Inbound struct {
	RoomID          string `json:"roomId"`
	UserID          int64  `json:"userId"`
	Username        string `json:"username"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}
