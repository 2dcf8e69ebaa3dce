package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-game-server/internal/model"
)

// ErrRoomNotFound is returned when a room row does not exist.
var ErrRoomNotFound = errors.New("room not found")

// Room roles stored in room_moderators.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// RoomRepository reads room ownership, lock state and staff roles.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository creates a new RoomRepository instance.
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// GetRoomOwnerAndRoles returns the owner and lock/silence flags of a room.
func (r *RoomRepository) GetRoomOwnerAndRoles(ctx context.Context, roomID string) (*model.Room, error) {
	const query = `SELECT id, owner_id, is_locked, is_silenced FROM rooms WHERE id = $1`

	var room model.Room
	err := r.pool.QueryRow(ctx, query, roomID).Scan(&room.ID, &room.OwnerID, &room.IsLocked, &room.IsSilenced)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// IsRoomAdminOrModerator reports whether the user holds a staff role in the room.
func (r *RoomRepository) IsRoomAdminOrModerator(ctx context.Context, roomID string, userID int64) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM room_moderators
			WHERE room_id = $1 AND user_id = $2 AND role IN ('admin', 'moderator')
		)
	`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check room role: %w", err)
	}
	return ok, nil
}

// IsRoomAdmin reports whether the user holds the admin role in the room.
func (r *RoomRepository) IsRoomAdmin(ctx context.Context, roomID string, userID int64) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM room_moderators
			WHERE room_id = $1 AND user_id = $2 AND role = 'admin'
		)
	`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check room role: %w", err)
	}
	return ok, nil
}

// Upsert creates or updates a room row.
func (r *RoomRepository) Upsert(ctx context.Context, room *model.Room) error {
	const query = `
		INSERT INTO rooms (id, owner_id, is_locked, is_silenced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, is_locked = EXCLUDED.is_locked, is_silenced = EXCLUDED.is_silenced
	`
	if _, err := r.pool.Exec(ctx, query, room.ID, room.OwnerID, room.IsLocked, room.IsSilenced); err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}
	return nil
}

// GrantRole gives a user a staff role in a room.
func (r *RoomRepository) GrantRole(ctx context.Context, roomID string, userID int64, role string) error {
	const query = `
		INSERT INTO room_moderators (room_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := r.pool.Exec(ctx, query, roomID, userID, role); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}
