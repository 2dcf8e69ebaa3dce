package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chat-game-server/internal/ledger"
	"chat-game-server/internal/model"
	"chat-game-server/internal/pkg/lock"
	"chat-game-server/internal/store"
	"chat-game-server/internal/timer"
)

const (
	// activeTTL bounds how long an abandoned session survives a crash.
	activeTTL = 2 * time.Hour
	// callbackTimeout bounds the I/O of one timer callback.
	callbackTimeout = 10 * time.Second
	// PhaseRetryDelay re-arms a phase whose transition hit a store error.
	PhaseRetryDelay = 2 * time.Second
	// roomLockWait bounds how long a command waits for the room.
	roomLockWait = 5 * time.Second
	// DefaultStartLockTTL is the expiry of the start lock.
	DefaultStartLockTTL = 5 * time.Second
)

// Wallet moves wager credits.
type Wallet interface {
	Deduct(ctx context.Context, userID, amount int64, meta ledger.TxMeta) (*ledger.Receipt, error)
	Add(ctx context.Context, userID, amount int64, meta ledger.TxMeta) (*ledger.Receipt, error)
}

// Announcer broadcasts bot events to a room in the order given.
type Announcer interface {
	Announce(roomID string, game model.GameType, events ...Event)
}

// TaskSubmitter runs background retries.
type TaskSubmitter interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	Rand         Rand
	Now          func() time.Time
	StartLockTTL time.Duration
	Tasks        TaskSubmitter
}

// Engine drives the session state machine for every registered variant.
// Mutations of one room+game are serialized by an in-process keyed lock
// and written through store.Update, so a second process sharing the store
// cannot silently overwrite them either.
type Engine struct {
	registry     *Registry
	store        store.Store
	wallet       Wallet
	timers       timer.Scheduler
	announcer    Announcer
	tasks        TaskSubmitter
	locks        *lock.KeyedLock
	rand         Rand
	now          func() time.Time
	startLockTTL time.Duration
}

// NewEngine creates a game engine.
func NewEngine(registry *Registry, st store.Store, wallet Wallet, timers timer.Scheduler, announcer Announcer, opts Options) *Engine {
	e := &Engine{
		registry:     registry,
		store:        st,
		wallet:       wallet,
		timers:       timers,
		announcer:    announcer,
		tasks:        opts.Tasks,
		locks:        lock.NewKeyedLock(),
		rand:         opts.Rand,
		now:          opts.Now,
		startLockTTL: opts.StartLockTTL,
	}
	if e.rand == nil {
		e.rand = NewRand()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.startLockTTL <= 0 {
		e.startLockTTL = DefaultStartLockTTL
	}
	return e
}

// Registry returns the variant registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Session returns the stored session of a room, finished ones included.
func (e *Engine) Session(ctx context.Context, roomID string, gt model.GameType) (*Session, error) {
	return e.load(ctx, store.SessionKey(roomID, gt))
}

// Start creates a waiting session with the actor as the sole player and
// debits the entry amount.
func (e *Engine) Start(ctx context.Context, roomID string, gt model.GameType, actor Actor, amount int64) (*Session, error) {
	v, ok := e.registry.Get(gt)
	if !ok {
		return nil, ErrUnknownGame
	}
	set := v.Settings()
	if amount < set.MinBet || amount > set.MaxBet {
		return nil, fmt.Errorf("%w: between %d and %d", ErrBetOutOfRange, set.MinBet, set.MaxBet)
	}

	lockKey := store.LockKey(roomID, "start:"+string(gt))
	token, acquired, err := e.store.AcquireLock(ctx, lockKey, e.startLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire start lock: %w", err)
	}
	if !acquired {
		return nil, ErrStartContended
	}
	defer func() {
		if err := e.store.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("Failed to release start lock")
		}
	}()

	key := store.SessionKey(roomID, gt)
	var started *Session
	err = e.locks.WithLockContext(ctx, key, roomLockWait, func() error {
		existing, err := e.load(ctx, key)
		switch {
		case err == nil && existing.Status != StatusFinished:
			return ErrGameInProgress
		case err != nil && !errors.Is(err, ErrGameNotFound):
			return err
		}

		if err := e.debit(ctx, actor.UserID, amount, fmt.Sprintf("%s entry in room %s", v.Name(), roomID)); err != nil {
			return err
		}

		now := e.now()
		s := &Session{
			ID:           uuid.Must(uuid.NewV7()).String(),
			RoomID:       roomID,
			Game:         gt,
			Status:       StatusWaiting,
			StarterID:    actor.UserID,
			EntryAmount:  amount,
			Pot:          amount,
			Players:      []*Player{{UserID: actor.UserID, Username: actor.Username}},
			JoinDeadline: now.Add(set.JoinWindow),
			CreatedAt:    now,
		}
		err = e.store.Update(ctx, key, activeTTL, func(current []byte) ([]byte, error) {
			if current != nil {
				cur, err := decodeSession(current)
				if err != nil {
					return nil, err
				}
				if cur.Status != StatusFinished {
					return nil, ErrGameInProgress
				}
			}
			return encodeSession(s)
		})
		if err != nil {
			e.refund(ctx, actor.UserID, amount, "start aborted")
			return err
		}

		sessionID := s.ID
		e.timers.Schedule(key, timer.PhaseJoin, set.JoinWindow, func() {
			e.onJoinTimeout(roomID, gt, sessionID)
		})

		log.Info().
			Str("room", roomID).
			Str("game", string(gt)).
			Str("session", s.ID).
			Int64("user_id", actor.UserID).
			Int64("entry", amount).
			Msg("Game started")

		e.announce(roomID, gt, Event{
			Kind: EventStarted,
			Text: fmt.Sprintf("%s started a %s game with entry %d. Type !join within %s to play.",
				actor.Username, v.Name(), amount, set.JoinWindow),
			Data: map[string]any{"sessionId": s.ID, "entry": amount, "pot": s.Pot},
		})
		started = s
		return nil
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return nil, ErrStartContended
	}
	return started, err
}

// Join adds the actor to the waiting session and debits the entry amount.
// The join either fully succeeds or leaves no trace: a debit whose session
// update fails is refunded.
func (e *Engine) Join(ctx context.Context, roomID string, gt model.GameType, actor Actor) (*Session, error) {
	v, ok := e.registry.Get(gt)
	if !ok {
		return nil, ErrUnknownGame
	}
	key := store.SessionKey(roomID, gt)

	var joined *Session
	err := e.locks.WithLockContext(ctx, key, roomLockWait, func() error {
		s, err := e.loadLive(ctx, key)
		if err != nil {
			return err
		}
		if err := e.checkJoin(s, actor.UserID); err != nil {
			return err
		}

		entry := s.EntryAmount
		if err := e.debit(ctx, actor.UserID, entry, fmt.Sprintf("%s entry in room %s", v.Name(), roomID)); err != nil {
			return err
		}

		sessionID := s.ID
		s, _, err = e.update(ctx, key, activeTTL, func(s *Session) ([]Event, error) {
			if s.ID != sessionID {
				return nil, ErrGameNotFound
			}
			if err := e.checkJoin(s, actor.UserID); err != nil {
				return nil, err
			}
			s.Players = append(s.Players, &Player{UserID: actor.UserID, Username: actor.Username})
			s.Pot += s.EntryAmount
			return nil, nil
		})
		if err != nil {
			e.refund(ctx, actor.UserID, entry, "join aborted")
			return err
		}

		e.announce(roomID, gt, Event{
			Kind: EventJoined,
			Text: fmt.Sprintf("%s joined. %d players, pot %d.", actor.Username, len(s.Players), s.Pot),
			Data: map[string]any{"sessionId": s.ID, "players": len(s.Players), "pot": s.Pot},
		})
		joined = s
		return nil
	})
	return joined, err
}

func (e *Engine) checkJoin(s *Session, userID int64) error {
	if s.Status != StatusWaiting || !e.now().Before(s.JoinDeadline) {
		return ErrJoinClosed
	}
	if s.Player(userID) != nil {
		return ErrAlreadyJoined
	}
	return nil
}

// Act performs the actor's round action. When it completes the round, the
// action timer is cancelled before the round is resolved.
func (e *Engine) Act(ctx context.Context, roomID string, gt model.GameType, actor Actor) error {
	v, ok := e.registry.Get(gt)
	if !ok {
		return ErrUnknownGame
	}
	key := store.SessionKey(roomID, gt)

	return e.locks.WithLockContext(ctx, key, roomLockWait, func() error {
		s, err := e.loadLive(ctx, key)
		if err != nil {
			return err
		}
		if err := checkAct(s, actor.UserID); err != nil {
			return err
		}

		sessionID, round := s.ID, s.CurrentRound
		s, events, err := e.update(ctx, key, activeTTL, func(s *Session) ([]Event, error) {
			if s.ID != sessionID || s.CurrentRound != round {
				return nil, ErrRoundNotOpen
			}
			if err := checkAct(s, actor.UserID); err != nil {
				return nil, err
			}
			return []Event{v.Act(s, s.Player(actor.UserID), e.rand, false)}, nil
		})
		if err != nil {
			return err
		}
		e.announce(roomID, gt, events...)

		if s.AllActed() {
			e.timers.Cancel(key, timer.PhaseAction)
			if err := e.resolveRound(ctx, v, roomID, sessionID, round, false); err != nil {
				return fmt.Errorf("resolve round %d: %w", round, err)
			}
		}
		return nil
	})
}

func checkAct(s *Session, userID int64) error {
	if s.Status != StatusPlaying {
		return ErrRoundNotOpen
	}
	p := s.Player(userID)
	switch {
	case p == nil || p.IsEliminated:
		return ErrNotPlayer
	case !s.RoundOpen:
		return ErrRoundNotOpen
	case p.Exempt:
		return ErrSittingOut
	case p.HasActed:
		return ErrAlreadyActed
	}
	return nil
}

// Cancel stops a session and refunds every non-eliminated player. Room
// admins and the owner may cancel while waiting; system administrators at any time.
func (e *Engine) Cancel(ctx context.Context, roomID string, gt model.GameType, actor Actor) error {
	if _, ok := e.registry.Get(gt); !ok {
		return ErrUnknownGame
	}
	key := store.SessionKey(roomID, gt)

	return e.locks.WithLockContext(ctx, key, roomLockWait, func() error {
		s, err := e.loadLive(ctx, key)
		if err != nil {
			return err
		}
		if !actor.SystemAdmin && !(actor.RoomAdmin && s.Status == StatusWaiting) {
			return ErrNotPermitted
		}
		e.timers.CancelRoom(key)
		return e.destroy(ctx, roomID, gt, s, fmt.Sprintf("cancelled by %s", actor.Username))
	})
}

// Disable tears down any session of gt in the room, as done when the
// room's bot flag is removed.
func (e *Engine) Disable(ctx context.Context, roomID string, gt model.GameType) error {
	key := store.SessionKey(roomID, gt)

	return e.locks.WithLockContext(ctx, key, roomLockWait, func() error {
		e.timers.CancelRoom(key)

		s, err := e.load(ctx, key)
		if errors.Is(err, ErrGameNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.Status == StatusFinished {
			return e.store.Delete(ctx, key)
		}
		return e.destroy(ctx, roomID, gt, s, "game disabled")
	})
}

// destroy deletes a live session and refunds its non-eliminated players.
// Timers must already be cancelled.
func (e *Engine) destroy(ctx context.Context, roomID string, gt model.GameType, s *Session, reason string) error {
	key := store.SessionKey(roomID, gt)

	var refunds []*Player
	var entry, pot int64
	err := e.store.Update(ctx, key, 0, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrGameNotFound
		}
		cur, err := decodeSession(current)
		if err != nil {
			return nil, err
		}
		if cur.ID != s.ID || cur.Status == StatusFinished {
			return nil, errStale
		}
		refunds = cur.Active()
		entry, pot = cur.EntryAmount, cur.Pot
		return nil, nil
	})
	if err != nil {
		return err
	}

	var refunded int64
	for _, p := range refunds {
		e.refund(ctx, p.UserID, entry, reason)
		refunded += entry
	}

	log.Info().
		Str("room", roomID).
		Str("game", string(gt)).
		Str("session", s.ID).
		Str("reason", reason).
		Int64("pot", pot).
		Int64("refunded", refunded).
		Msg("Game cancelled")

	e.announce(roomID, gt, Event{
		Kind: EventCancelled,
		Text: fmt.Sprintf("Game %s. %d player(s) refunded %d each.", reason, len(refunds), entry),
		Data: map[string]any{"sessionId": s.ID, "refunded": refunded},
	})
	return nil
}

// onJoinTimeout closes the join window: too few players cancels the
// session, otherwise the first round begins.
func (e *Engine) onJoinTimeout(roomID string, gt model.GameType, sessionID string) {
	v, ok := e.registry.Get(gt)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	key := store.SessionKey(roomID, gt)

	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	retry := func() { e.onJoinTimeout(roomID, gt, sessionID) }

	s, err := e.load(ctx, key)
	if err != nil {
		e.retryPhase(err, roomID, gt, timer.PhaseJoin, retry)
		return
	}
	if s.ID != sessionID || s.Status != StatusWaiting {
		return
	}

	if len(s.Players) < 2 {
		if err := e.destroy(ctx, roomID, gt, s, "not enough players"); err != nil {
			e.retryPhase(err, roomID, gt, timer.PhaseJoin, retry)
		}
		return
	}

	s, events, err := e.update(ctx, key, activeTTL, func(s *Session) ([]Event, error) {
		if s.ID != sessionID || s.Status != StatusWaiting {
			return nil, errStale
		}
		s.Status = StatusPlaying
		v.Setup(s, e.rand)
		return e.beginRound(v, s), nil
	})
	if err != nil {
		e.retryPhase(err, roomID, gt, timer.PhaseJoin, retry)
		return
	}

	log.Info().
		Str("room", roomID).
		Str("game", string(gt)).
		Str("session", s.ID).
		Int("players", len(s.Players)).
		Int64("pot", s.Pot).
		Msg("Game playing")

	e.announce(roomID, gt, events...)
	e.armAction(v, roomID, s)
}

// onResolve resolves the round from a timer. timedOut auto-acts for
// stragglers first.
func (e *Engine) onResolve(roomID string, gt model.GameType, sessionID string, round int, timedOut bool) {
	v, ok := e.registry.Get(gt)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	key := store.SessionKey(roomID, gt)

	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	_ = e.resolveRound(ctx, v, roomID, sessionID, round, timedOut)
}

// onCountdown opens the next round.
func (e *Engine) onCountdown(roomID string, gt model.GameType, sessionID string, round int) {
	v, ok := e.registry.Get(gt)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	key := store.SessionKey(roomID, gt)

	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	s, events, err := e.update(ctx, key, activeTTL, func(s *Session) ([]Event, error) {
		if s.ID != sessionID || s.Status != StatusPlaying || s.CurrentRound != round || s.RoundOpen {
			return nil, errStale
		}
		return e.beginRound(v, s), nil
	})
	if err != nil {
		e.retryPhase(err, roomID, gt, timer.PhaseCountdown, func() {
			e.onCountdown(roomID, gt, sessionID, round)
		})
		return
	}
	e.announce(roomID, gt, events...)
	e.armAction(v, roomID, s)
}

// resolveRound closes round of sessionID. The caller holds the room lock.
// A store failure re-arms the action timer and is returned; a round that
// was already resolved is not an error.
func (e *Engine) resolveRound(ctx context.Context, v Variant, roomID, sessionID string, round int, timedOut bool) error {
	gt := v.Type()
	key := store.SessionKey(roomID, gt)

	var invalid bool
	s, events, err := e.update(ctx, key, activeTTL, func(s *Session) ([]Event, error) {
		if s.ID != sessionID || s.Status != StatusPlaying || s.CurrentRound != round || !s.RoundOpen {
			return nil, errStale
		}
		var events []Event
		if timedOut {
			for _, p := range s.Pending() {
				events = append(events, v.Act(s, p, e.rand, true))
			}
		}
		var tally []Event
		tally, invalid = e.settle(v, s, timedOut)
		return append(events, tally...), nil
	})
	if err != nil {
		e.retryPhase(err, roomID, gt, timer.PhaseAction, func() {
			e.onResolve(roomID, gt, sessionID, round, timedOut)
		})
		if isStale(err) {
			return nil
		}
		return err
	}
	if invalid {
		log.Error().
			Str("room", roomID).
			Str("game", string(gt)).
			Str("session", s.ID).
			Int("round", s.CurrentRound).
			Msg("Round could not be resolved, replaying")
	}
	e.announce(roomID, gt, events...)

	if s.Status == StatusFinished {
		e.finish(ctx, v, roomID, s)
		return nil
	}

	sid, r := s.ID, s.CurrentRound
	e.timers.Schedule(key, timer.PhaseCountdown, v.Settings().Countdown, func() {
		e.onCountdown(roomID, gt, sid, r)
	})
	return nil
}

// settle applies the variant's resolution to s. It reports whether the
// variant could not resolve the round.
func (e *Engine) settle(v Variant, s *Session, timedOut bool) ([]Event, bool) {
	res := v.Resolve(s, timedOut)
	s.RoundOpen = false
	events := res.Events

	if res.Invalid || res.Replay {
		return events, res.Invalid
	}

	for _, id := range res.Eliminated {
		if p := s.Player(id); p != nil {
			p.IsEliminated = true
		}
	}

	active := s.Active()
	winner := res.WinnerID
	switch {
	case winner != 0:
	case len(active) == 1:
		winner = active[0].UserID
	case len(active) == 0:
		// Nobody may be left standing; undo the round instead.
		for _, id := range res.Eliminated {
			if p := s.Player(id); p != nil {
				p.IsEliminated = false
			}
		}
		return events, true
	default:
		return events, false
	}

	s.Status = StatusFinished
	s.WinnerID = winner
	s.Payout = v.Payout(s.Pot)
	p := s.Player(winner)
	return append(events, Event{
		Kind: EventFinished,
		Text: fmt.Sprintf("%s wins the pot of %d and receives %d!", p.Username, s.Pot, s.Payout),
		Data: map[string]any{"sessionId": s.ID, "winnerId": winner, "pot": s.Pot, "payout": s.Payout},
	}), false
}

// finish pays the winner and shortens the session's retention.
func (e *Engine) finish(ctx context.Context, v Variant, roomID string, s *Session) {
	key := store.SessionKey(roomID, s.Game)
	e.timers.CancelRoom(key)

	err := e.store.Update(ctx, key, v.Settings().FinishedTTL, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errStale
		}
		return current, nil
	})
	if err != nil && !isStale(err) {
		log.Warn().Err(err).Str("room", roomID).Str("game", string(s.Game)).Msg("Could not shorten finished session retention")
	}

	log.Info().
		Str("room", roomID).
		Str("game", string(s.Game)).
		Str("session", s.ID).
		Int64("winner_id", s.WinnerID).
		Int64("pot", s.Pot).
		Int64("payout", s.Payout).
		Int("rounds", s.CurrentRound).
		Msg("Game finished")

	if s.Payout <= 0 {
		return
	}
	e.credit(ctx, s.WinnerID, s.Payout, model.TxTypeWin, fmt.Sprintf("%s pot in room %s", v.Name(), roomID))
}

// beginRound resets the round fields of the survivors and lets the variant
// set the round up.
func (e *Engine) beginRound(v Variant, s *Session) []Event {
	s.CurrentRound++
	for _, p := range s.Active() {
		p.resetRound()
	}
	events := v.BeginRound(s, e.rand)
	s.RoundOpen = true
	s.RoundDeadline = e.now().Add(v.Settings().ActionWindow)
	return events
}

func (e *Engine) armAction(v Variant, roomID string, s *Session) {
	gt := v.Type()
	sid, round := s.ID, s.CurrentRound
	e.timers.Schedule(store.SessionKey(roomID, gt), timer.PhaseAction, v.Settings().ActionWindow, func() {
		e.onResolve(roomID, gt, sid, round, true)
	})
}

func (e *Engine) debit(ctx context.Context, userID, amount int64, desc string) error {
	_, err := e.wallet.Deduct(ctx, userID, amount, ledger.TxMeta{Type: model.TxTypeBet, Description: desc})
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return ErrInsufficientFunds
	}
	return fmt.Errorf("failed to debit entry: %w", err)
}

func (e *Engine) refund(ctx context.Context, userID, amount int64, reason string) {
	e.credit(ctx, userID, amount, model.TxTypeRefund, "refund: "+reason)
}

// credit adds to a balance. A failed credit is retried in the background
// rather than failing the transition that caused it.
func (e *Engine) credit(ctx context.Context, userID, amount int64, txType, desc string) {
	meta := ledger.TxMeta{Type: txType, Description: desc}
	_, err := e.wallet.Add(ctx, userID, amount, meta)
	if err == nil {
		return
	}
	log.Error().Err(err).
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("type", txType).
		Msg("Failed to credit, scheduling retry")
	if e.tasks != nil {
		e.tasks.Submit("credit-retry", func(ctx context.Context) error {
			_, err := e.wallet.Add(ctx, userID, amount, meta)
			return err
		})
	}
}

func (e *Engine) announce(roomID string, gt model.GameType, events ...Event) {
	if e.announcer == nil || len(events) == 0 {
		return
	}
	e.announcer.Announce(roomID, gt, events...)
}

// load reads a session; a missing key is ErrGameNotFound.
func (e *Engine) load(ctx context.Context, key string) (*Session, error) {
	data, err := e.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeSession(data)
}

// loadLive is load that treats a finished session as absent.
func (e *Engine) loadLive(ctx context.Context, key string) (*Session, error) {
	s, err := e.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusFinished {
		return nil, ErrGameNotFound
	}
	return s, nil
}

// update applies fn to the stored session through the store's
// compare-and-swap primitive and returns the committed session with the
// events of the committed attempt.
func (e *Engine) update(ctx context.Context, key string, ttl time.Duration, fn func(s *Session) ([]Event, error)) (*Session, []Event, error) {
	var committed *Session
	var events []Event
	err := e.store.Update(ctx, key, ttl, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrGameNotFound
		}
		s, err := decodeSession(current)
		if err != nil {
			return nil, err
		}
		evs, err := fn(s)
		if err != nil {
			return nil, err
		}
		s.Version++
		committed, events = s, evs
		return encodeSession(s)
	})
	if err != nil {
		return nil, nil, err
	}
	return committed, events, nil
}

// isStale reports whether err means the phase was already handled.
func isStale(err error) bool {
	return errors.Is(err, errStale) || errors.Is(err, ErrGameNotFound)
}

// retryPhase re-arms phase after a failed transition so the session
// cannot stall on a transient store error. Stale fires are dropped.
func (e *Engine) retryPhase(err error, roomID string, gt model.GameType, phase timer.Phase, fn func()) {
	if isStale(err) {
		log.Debug().Str("room", roomID).Str("game", string(gt)).Str("phase", string(phase)).Msg("Timer found nothing to do")
		return
	}
	log.Error().
		Err(err).
		Str("room", roomID).
		Str("game", string(gt)).
		Str("phase", string(phase)).
		Dur("retry_in", PhaseRetryDelay).
		Msg("Phase transition failed, retrying")
	e.timers.Schedule(store.SessionKey(roomID, gt), phase, PhaseRetryDelay, fn)
}
