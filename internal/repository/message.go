package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat-game-server/internal/model"
)

// MessageRepository appends chat lines to the message history.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new MessageRepository instance.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append stores one chat message. Duplicate ids are ignored so a retried
// client send does not produce two rows.
func (r *MessageRepository) Append(ctx context.Context, msg *model.ChatMessage) error {
	const query = `
		INSERT INTO messages (id, room_id, user_id, username, text, client_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.RoomID, msg.UserID, msg.Username, msg.Text, msg.ClientMessageID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// CountByRoom returns how many messages a room has stored.
func (r *MessageRepository) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
