// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-game-server/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// DefaultInitialBalance is credited to accounts created on first contact.
const DefaultInitialBalance = 1000

const userColumns = `id, username, balance, tagged_balance, created_at, updated_at`

// UserRepository handles credit account persistence. It is the durable
// store of record behind the ledger cache.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Balance,
		&user.TaggedBalance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new account with the default initial balance.
func (r *UserRepository) Create(ctx context.Context, userID int64, username string) (*model.User, error) {
	const query = `
		INSERT INTO users (id, username, balance, tagged_balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, username, DefaultInitialBalance))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves an account by user ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrCreate retrieves an account, creating one if it doesn't exist.
func (r *UserRepository) GetOrCreate(ctx context.Context, userID int64, username string) (*model.User, bool, error) {
	user, err := r.GetByID(ctx, userID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, userID, username)
	if err != nil {
		// Another request might have created the user
		user, err = r.GetByID(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	return user, true, nil
}

// ApplyDelta moves both balances of an account by the given deltas and
// appends the matching transaction row, all in one database transaction.
// Neither balance may drop below zero; a violating delta returns
// ErrInsufficientBalance and leaves the account untouched.
func (r *UserRepository) ApplyDelta(ctx context.Context, userID, mainDelta, taggedDelta int64, txType, description string) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE users
		SET balance = balance + $2, tagged_balance = tagged_balance + $3, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0 AND tagged_balance + $3 >= 0
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, update, userID, mainDelta, taggedDelta))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check user existence: %w", err)
		}
		if !exists {
			return nil, ErrUserNotFound
		}
		return nil, ErrInsufficientBalance
	}

	const insert = `
		INSERT INTO transactions (user_id, amount, tagged_amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := tx.Exec(ctx, insert, userID, mainDelta, taggedDelta, txType, description); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit balance change: %w", err)
	}
	return user, nil
}

// GrantTagged credits promotional credits that can only be wagered.
func (r *UserRepository) GrantTagged(ctx context.Context, userID, amount int64, description string) (*model.User, error) {
	return r.ApplyDelta(ctx, userID, 0, amount, model.TxTypeBonus, description)
}

// Exists checks if an account exists.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
