// Package store provides the ephemeral, expiring per-room state used by the
// game engine and the ingress gates: session documents with compare-and-swap
// updates, bot flags, the active game type marker, short-lived locks and
// rate counters.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-game-server/internal/model"
)

// Errors returned by Store implementations.
var (
	ErrNotFound = errors.New("key not found")
	ErrConflict = errors.New("concurrent update conflict")
)

// MaxUpdateRetries bounds optimistic retries of Update.
const MaxUpdateRetries = 8

// UpdateFunc receives the current document (nil when absent) and returns the
// next one. Returning a nil document deletes the key. Returning an error
// aborts the update and leaves the key untouched. The function may run more
// than once when a concurrent writer wins, so it must not have side effects.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the ephemeral state contract shared by the redis and in-memory
// backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Update is the single transactional read-modify-write primitive.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	// AcquireLock sets key only if absent. The returned token must be passed
	// to ReleaseLock; a lock that is not released expires after ttl.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error

	// SlidingWindowHit records a hit and returns the hits seen in the last window.
	SlidingWindowHit(ctx context.Context, key string, window time.Duration) (int64, error)
	// FixedWindowHit increments a counter that resets every window.
	FixedWindowHit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// SessionKey addresses the game session document of a room.
func SessionKey(roomID string, game model.GameType) string {
	return fmt.Sprintf("game:%s:%s", game, roomID)
}

// BotFlagKey addresses the "game enabled" flag of a room.
func BotFlagKey(roomID string, game model.GameType) string {
	return fmt.Sprintf("bot:%s:%s", game, roomID)
}

// ActiveGameKey addresses the room's active game type marker.
func ActiveGameKey(roomID string) string {
	return "room:active_game:" + roomID
}

// LockKey addresses a room+action scoped lock.
func LockKey(roomID, action string) string {
	return fmt.Sprintf("lock:%s:%s", action, roomID)
}

// GetActiveGameType returns the room's active game type, or GameNone.
func GetActiveGameType(ctx context.Context, s Store, roomID string) (model.GameType, error) {
	v, err := s.Get(ctx, ActiveGameKey(roomID))
	if errors.Is(err, ErrNotFound) {
		return model.GameNone, nil
	}
	if err != nil {
		return model.GameNone, err
	}
	return model.GameType(v), nil
}

// SetActiveGameType marks game as the room's active game type.
func SetActiveGameType(ctx context.Context, s Store, roomID string, game model.GameType) error {
	return s.Put(ctx, ActiveGameKey(roomID), []byte(game), 0)
}

// ClearActiveGameType removes the room's active game type marker.
func ClearActiveGameType(ctx context.Context, s Store, roomID string) error {
	return s.Delete(ctx, ActiveGameKey(roomID))
}

// SetBotFlag enables a game type for a room.
func SetBotFlag(ctx context.Context, s Store, roomID string, game model.GameType) error {
	return s.Put(ctx, BotFlagKey(roomID, game), []byte("1"), 0)
}

// HasBotFlag reports whether a game type is enabled for a room.
func HasBotFlag(ctx context.Context, s Store, roomID string, game model.GameType) (bool, error) {
	return s.Exists(ctx, BotFlagKey(roomID, game))
}

// ClearBotFlag disables a game type for a room.
func ClearBotFlag(ctx context.Context, s Store, roomID string, game model.GameType) error {
	return s.Delete(ctx, BotFlagKey(roomID, game))
}
