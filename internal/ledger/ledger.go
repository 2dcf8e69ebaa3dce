// Package ledger moves wager credits. Balances live in a fast cache that
// supports an atomic conditional decrement; every mutation is mirrored to
// the durable store of record together with its transaction row.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"chat-game-server/internal/model"
	"chat-game-server/internal/repository"
)

// Common errors for ledger operations.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrCacheMiss         = errors.New("balance not cached")
)

// Balances is a user's main and tagged (promotional) balance.
type Balances struct {
	Main   int64 `json:"balance"`
	Tagged int64 `json:"taggedBalance"`
}

// Total returns the spendable sum of both balances.
func (b Balances) Total() int64 {
	return b.Main + b.Tagged
}

// Split records how a debit was taken from the two balances.
type Split struct {
	FromMain   int64
	FromTagged int64
	After      Balances
}

// TxMeta describes the transaction row written for a mutation.
type TxMeta struct {
	Type        string
	Description string
}

// Receipt is returned for every successful mutation.
type Receipt struct {
	UserID     int64
	Type       string
	Amount     int64
	FromMain   int64
	FromTagged int64
	Balances   Balances
}

// Cache is the fast balance store. Deduct must check and decrement in one
// atomic step, consuming the tagged balance first.
type Cache interface {
	Balances(ctx context.Context, userID int64) (Balances, error)
	Seed(ctx context.Context, userID int64, b Balances) error
	Deduct(ctx context.Context, userID, amount int64) (Split, error)
	Adjust(ctx context.Context, userID, mainDelta, taggedDelta int64) (Balances, error)
}

// Durable is the store of record.
type Durable interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
	ApplyDelta(ctx context.Context, userID, mainDelta, taggedDelta int64, txType, description string) (*model.User, error)
}

// Notifier receives the new balance of a user after every mutation.
type Notifier interface {
	NotifyBalance(userID int64, b Balances)
}

// Service implements deduct and add on top of a Cache and a Durable store.
type Service struct {
	cache    Cache
	durable  Durable
	notifier Notifier
}

// NewService creates a ledger service. notifier may be nil.
func NewService(cache Cache, durable Durable, notifier Notifier) *Service {
	return &Service{cache: cache, durable: durable, notifier: notifier}
}

// SetNotifier replaces the balance notifier.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Balance returns the cached balances of a user, loading them on a miss.
func (s *Service) Balance(ctx context.Context, userID int64) (Balances, error) {
	b, err := s.cache.Balances(ctx, userID)
	if errors.Is(err, ErrCacheMiss) {
		if err := s.warm(ctx, userID); err != nil {
			return Balances{}, err
		}
		b, err = s.cache.Balances(ctx, userID)
	}
	if err != nil {
		return Balances{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return b, nil
}

// Deduct takes amount from the user, tagged balance first. It fails with
// ErrInsufficientFunds and no mutation when both balances together cannot
// cover it.
func (s *Service) Deduct(ctx context.Context, userID, amount int64, meta TxMeta) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	split, err := s.cache.Deduct(ctx, userID, amount)
	if errors.Is(err, ErrCacheMiss) {
		if err := s.warm(ctx, userID); err != nil {
			return nil, err
		}
		split, err = s.cache.Deduct(ctx, userID, amount)
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to deduct: %w", err)
	}

	desc := describeSplit(meta.Description, split)
	if _, err := s.durable.ApplyDelta(ctx, userID, -split.FromMain, -split.FromTagged, meta.Type, desc); err != nil {
		s.compensate(ctx, userID, split.FromMain, split.FromTagged)
		if errors.Is(err, repository.ErrInsufficientBalance) {
			// The cache had drifted above the store of record.
			s.invalidate(ctx, userID)
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to mirror deduction: %w", err)
	}

	log.Debug().
		Int64("user_id", userID).
		Int64("amount", amount).
		Int64("from_tagged", split.FromTagged).
		Str("type", meta.Type).
		Msg("Credits deducted")

	s.notify(userID, split.After)
	return &Receipt{
		UserID:     userID,
		Type:       meta.Type,
		Amount:     amount,
		FromMain:   split.FromMain,
		FromTagged: split.FromTagged,
		Balances:   split.After,
	}, nil
}

// Add credits amount to the user's main balance.
func (s *Service) Add(ctx context.Context, userID, amount int64, meta TxMeta) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	after, err := s.cache.Adjust(ctx, userID, amount, 0)
	if errors.Is(err, ErrCacheMiss) {
		if err := s.warm(ctx, userID); err != nil {
			return nil, err
		}
		after, err = s.cache.Adjust(ctx, userID, amount, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add: %w", err)
	}

	if _, err := s.durable.ApplyDelta(ctx, userID, amount, 0, meta.Type, meta.Description); err != nil {
		s.compensate(ctx, userID, -amount, 0)
		return nil, fmt.Errorf("failed to mirror credit: %w", err)
	}

	log.Debug().
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("type", meta.Type).
		Msg("Credits added")

	s.notify(userID, after)
	return &Receipt{
		UserID:   userID,
		Type:     meta.Type,
		Amount:   amount,
		FromMain: amount,
		Balances: after,
	}, nil
}

func (s *Service) warm(ctx context.Context, userID int64) error {
	user, err := s.durable.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: unknown account %d", ErrInsufficientFunds, userID)
		}
		return fmt.Errorf("failed to load balance: %w", err)
	}
	if err := s.cache.Seed(ctx, userID, Balances{Main: user.Balance, Tagged: user.TaggedBalance}); err != nil {
		return fmt.Errorf("failed to seed balance cache: %w", err)
	}
	return nil
}

// compensate reverses a cache mutation whose durable mirror failed.
func (s *Service) compensate(ctx context.Context, userID, mainDelta, taggedDelta int64) {
	if _, err := s.cache.Adjust(ctx, userID, mainDelta, taggedDelta); err != nil {
		log.Error().Err(err).
			Int64("user_id", userID).
			Int64("main_delta", mainDelta).
			Int64("tagged_delta", taggedDelta).
			Msg("Failed to compensate balance cache")
		s.invalidate(ctx, userID)
	}
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	inv, ok := s.cache.(interface {
		Invalidate(ctx context.Context, userID int64) error
	})
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, userID); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to invalidate balance cache")
	}
}

func (s *Service) notify(userID int64, b Balances) {
	if s.notifier != nil {
		s.notifier.NotifyBalance(userID, b)
	}
}

func describeSplit(desc string, split Split) string {
	if split.FromTagged == 0 {
		return desc
	}
	return fmt.Sprintf("%s (tagged %d, main %d)", desc, split.FromTagged, split.FromMain)
}
