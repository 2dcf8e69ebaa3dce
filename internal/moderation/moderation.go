// Package moderation stores the per-user, per-room sanctions that the
// ingress gates enforce: silences, time-boxed kick bans and room bans.
// Every sanction is an expiring key in the state store.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"chat-game-server/internal/store"
)

// Checker is the read side used by the ingress gates.
type Checker interface {
	IsUserSilenced(ctx context.Context, roomID string, userID int64) (bool, error)
	KickedUntil(ctx context.Context, roomID string, userID int64) (time.Time, bool, error)
	IsLegacySilenced(ctx context.Context, roomID string, userID int64) (bool, error)
	IsBanned(ctx context.Context, roomID string, userID int64) (bool, error)
}

// Flags implements Checker and the matching write operations.
type Flags struct {
	store store.Store
	now   func() time.Time
}

// New creates moderation flags on st.
func New(st store.Store) *Flags {
	return &Flags{store: st, now: time.Now}
}

func silenceKey(roomID string, userID int64) string {
	return fmt.Sprintf("silence:%s:%d", roomID, userID)
}

func kickKey(roomID string, userID int64) string {
	return fmt.Sprintf("kick:%s:%d", roomID, userID)
}

func legacySilenceKey(roomID string, userID int64) string {
	return fmt.Sprintf("muted:%s:%d", roomID, userID)
}

func banKey(roomID string, userID int64) string {
	return fmt.Sprintf("ban:%s:%d", roomID, userID)
}

// Silence mutes a user in a room for d. A zero d mutes until lifted.
func (f *Flags) Silence(ctx context.Context, roomID string, userID int64, d time.Duration) error {
	log.Info().Str("room", roomID).Int64("user_id", userID).Dur("duration", d).Msg("User silenced")
	return f.store.Put(ctx, silenceKey(roomID, userID), []byte("1"), d)
}

// Unsilence lifts both the current and the legacy silence.
func (f *Flags) Unsilence(ctx context.Context, roomID string, userID int64) error {
	if err := f.store.Delete(ctx, silenceKey(roomID, userID)); err != nil {
		return err
	}
	return f.store.Delete(ctx, legacySilenceKey(roomID, userID))
}

// LegacySilence sets the older silence flag some clients still write.
func (f *Flags) LegacySilence(ctx context.Context, roomID string, userID int64, d time.Duration) error {
	return f.store.Put(ctx, legacySilenceKey(roomID, userID), []byte("1"), d)
}

// Kick bars a user from posting in a room for d.
func (f *Flags) Kick(ctx context.Context, roomID string, userID int64, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("kick duration must be positive")
	}
	until := f.now().Add(d).UnixMilli()
	log.Info().Str("room", roomID).Int64("user_id", userID).Dur("duration", d).Msg("User kicked")
	return f.store.Put(ctx, kickKey(roomID, userID), []byte(strconv.FormatInt(until, 10)), d)
}

// Ban bars a user from a room until Unban.
func (f *Flags) Ban(ctx context.Context, roomID string, userID int64) error {
	log.Info().Str("room", roomID).Int64("user_id", userID).Msg("User banned")
	return f.store.Put(ctx, banKey(roomID, userID), []byte("1"), 0)
}

// Unban lifts a room ban.
func (f *Flags) Unban(ctx context.Context, roomID string, userID int64) error {
	return f.store.Delete(ctx, banKey(roomID, userID))
}

func (f *Flags) IsUserSilenced(ctx context.Context, roomID string, userID int64) (bool, error) {
	return f.store.Exists(ctx, silenceKey(roomID, userID))
}

// KickedUntil returns the end of an active kick ban.
func (f *Flags) KickedUntil(ctx context.Context, roomID string, userID int64) (time.Time, bool, error) {
	v, err := f.store.Get(ctx, kickKey(roomID, userID))
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt kick entry: %w", err)
	}
	until := time.UnixMilli(ms)
	if !f.now().Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (f *Flags) IsLegacySilenced(ctx context.Context, roomID string, userID int64) (bool, error) {
	return f.store.Exists(ctx, legacySilenceKey(roomID, userID))
}

func (f *Flags) IsBanned(ctx context.Context, roomID string, userID int64) (bool, error) {
	return f.store.Exists(ctx, banKey(roomID, userID))
}
