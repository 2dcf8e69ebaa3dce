package game_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"chat-game-server/internal/game"
	"chat-game-server/internal/game/dice"
	"chat-game-server/internal/game/gametest"
	"chat-game-server/internal/game/lowcard"
	"chat-game-server/internal/model"
	"chat-game-server/internal/store"
	"chat-game-server/internal/timer"
)

const room = "room-1"

type harness struct {
	engine *game.Engine
	store  *store.Memory
	flaky  *flakyStore
	timers *gametest.Scheduler
	wallet *gametest.Wallet
	ann    *gametest.Announcer
	tasks  *gametest.Tasks
	rand   *gametest.SeqRand
	now    time.Time
}

func newHarness(t require.TestingT, users int) *harness {
	balances := make(map[int64]int64, users)
	for i := 1; i <= users; i++ {
		balances[int64(i)] = 1000
	}

	reg := game.NewRegistry()
	require.NoError(t, reg.Register(dice.New(nil)))
	require.NoError(t, reg.Register(lowcard.New(nil)))

	h := &harness{
		store:  store.NewMemory(),
		timers: gametest.NewScheduler(),
		wallet: gametest.NewWallet(balances),
		ann:    &gametest.Announcer{},
		tasks:  &gametest.Tasks{},
		rand:   gametest.NewSeqRand(),
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.flaky = &flakyStore{Memory: h.store}
	h.engine = game.NewEngine(reg, h.flaky, h.wallet, h.timers, h.ann, game.Options{
		Rand:  h.rand,
		Now:   func() time.Time { return h.now },
		Tasks: h.tasks,
	})
	return h
}

// flakyStore fails Update while armed, after letting skip calls through.
type flakyStore struct {
	*store.Memory

	mu    sync.Mutex
	skip  int
	fails int
}

func (f *flakyStore) failUpdates(skip, fails int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skip, f.fails = skip, fails
}

func (f *flakyStore) Update(ctx context.Context, key string, ttl time.Duration, fn store.UpdateFunc) error {
	f.mu.Lock()
	fail := false
	if f.fails > 0 {
		if f.skip > 0 {
			f.skip--
		} else {
			f.fails--
			fail = true
		}
	}
	f.mu.Unlock()
	if fail {
		return errors.New("redis: connection reset by peer")
	}
	return f.Memory.Update(ctx, key, ttl, fn)
}

func actor(id int64) game.Actor {
	return game.Actor{UserID: id, Username: string(rune('a' + id - 1))}
}

func key(gt model.GameType) string {
	return store.SessionKey(room, gt)
}

func (h *harness) session(t require.TestingT, gt model.GameType) *game.Session {
	s, err := h.engine.Session(context.Background(), room, gt)
	require.NoError(t, err)
	return s
}

func (h *harness) betCount(userID int64) int {
	n := 0
	for _, e := range h.wallet.Entries(userID) {
		if e.Type == model.TxTypeBet {
			n++
		}
	}
	return n
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)

	_, err := h.engine.Start(ctx, room, model.GameDice, actor(1), 5)
	assert.ErrorIs(t, err, game.ErrBetOutOfRange)
	_, err = h.engine.Start(ctx, room, model.GameDice, actor(1), 20000)
	assert.ErrorIs(t, err, game.ErrBetOutOfRange)

	_, err = h.engine.Start(ctx, room, model.GameDice, actor(3), 100)
	assert.ErrorIs(t, err, game.ErrInsufficientFunds)
	_, err = h.engine.Session(ctx, room, model.GameDice)
	assert.ErrorIs(t, err, game.ErrGameNotFound)

	_, err = h.engine.Start(ctx, room, model.GameNone, actor(1), 100)
	assert.ErrorIs(t, err, game.ErrUnknownGame)
}

func TestStartCreatesWaitingSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)

	s, err := h.engine.Start(ctx, room, model.GameDice, actor(1), 100)
	require.NoError(t, err)
	assert.Equal(t, game.StatusWaiting, s.Status)
	assert.Equal(t, int64(100), s.Pot)
	assert.Len(t, s.Players, 1)
	assert.Equal(t, int64(900), h.wallet.Balance(1))
	assert.True(t, h.timers.Pending(key(model.GameDice), timer.PhaseJoin))
	assert.Equal(t, dice.DefaultJoinWindow, h.timers.Delay(key(model.GameDice), timer.PhaseJoin))

	_, err = h.engine.Start(ctx, room, model.GameDice, actor(2), 100)
	assert.ErrorIs(t, err, game.ErrGameInProgress)
	assert.Equal(t, int64(1000), h.wallet.Balance(2))
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	_, err := h.engine.Join(ctx, room, model.GameDice, actor(2))
	assert.ErrorIs(t, err, game.ErrGameNotFound)

	_, err = h.engine.Start(ctx, room, model.GameDice, actor(1), 100)
	require.NoError(t, err)

	s, err := h.engine.Join(ctx, room, model.GameDice, actor(2))
	require.NoError(t, err)
	assert.Equal(t, int64(200), s.Pot)

	_, err = h.engine.Join(ctx, room, model.GameDice, actor(2))
	assert.ErrorIs(t, err, game.ErrAlreadyJoined)
	assert.Equal(t, 1, h.betCount(2))

	h.now = h.now.Add(dice.DefaultJoinWindow)
	_, err = h.engine.Join(ctx, room, model.GameDice, actor(3))
	assert.ErrorIs(t, err, game.ErrJoinClosed)
	assert.Equal(t, int64(1000), h.wallet.Balance(3))
}

func TestJoinTimeoutWithOnePlayerRefunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)

	_, err := h.engine.Start(ctx, room, model.GameLowCard, actor(1), 100)
	require.NoError(t, err)
	require.True(t, h.timers.Fire(key(model.GameLowCard), timer.PhaseJoin))

	_, err = h.engine.Session(ctx, room, model.GameLowCard)
	assert.ErrorIs(t, err, game.ErrGameNotFound)
	assert.Equal(t, int64(1000), h.wallet.Balance(1))
	assert.Contains(t, h.ann.Kinds(), game.EventCancelled)
}

// TestPotMatchesPlayersProperty checks pot == entry x players when the
// session starts playing.
func TestPotMatchesPlayersProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		h := newHarness(t, 12)
		entry := rapid.Int64Range(10, 1000).Draw(t, "entry")
		joins := rapid.SliceOfN(rapid.Int64Range(1, 12), 1, 30).Draw(t, "joins")

		if _, err := h.engine.Start(ctx, room, model.GameDice, actor(1), entry); err != nil {
			t.Fatal(err)
		}
		for _, id := range joins {
			_, err := h.engine.Join(ctx, room, model.GameDice, actor(id))
			if err != nil && !errors.Is(err, game.ErrAlreadyJoined) {
				t.Fatal(err)
			}
		}
		h.timers.Fire(key(model.GameDice), timer.PhaseJoin)

		s := h.session(t, model.GameDice)
		if len(s.Players) < 2 {
			return
		}
		if s.Status != game.StatusPlaying {
			t.Fatalf("status %s, want playing", s.Status)
		}
		if s.Pot != entry*int64(len(s.Players)) {
			t.Fatalf("pot %d != %d x %d", s.Pot, entry, len(s.Players))
		}
		seen := map[int64]bool{}
		for _, p := range s.Players {
			if seen[p.UserID] {
				t.Fatalf("player %d recorded twice", p.UserID)
			}
			seen[p.UserID] = true
			if h.betCount(p.UserID) != 1 {
				t.Fatalf("player %d debited %d times", p.UserID, h.betCount(p.UserID))
			}
		}
	})
}

func TestConcurrentJoinsDebitOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	_, err := h.engine.Start(ctx, room, model.GameDice, actor(1), 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for id := int64(2); id <= 10; id++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, _ = h.engine.Join(ctx, room, model.GameDice, actor(id))
			}(id)
		}
	}
	wg.Wait()

	s := h.session(t, model.GameDice)
	assert.Len(t, s.Players, 10)
	assert.Equal(t, int64(1000), s.Pot)
	for id := int64(1); id <= 10; id++ {
		assert.Equal(t, 1, h.betCount(id), "user %d", id)
		assert.Equal(t, int64(900), h.wallet.Balance(id))
	}
}

func TestConcurrentStartsCreateOneSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var started int
	for id := int64(1); id <= 10; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.engine.Start(ctx, room, model.GameLowCard, actor(id), 50)
			switch {
			case err == nil:
				mu.Lock()
				started++
				mu.Unlock()
			case errors.Is(err, game.ErrStartContended), errors.Is(err, game.ErrGameInProgress):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Len(t, h.wallet.Entries(0), 1, "exactly one debit")
	assert.Len(t, h.session(t, model.GameLowCard).Players, 1)
}

func TestCancelPermissionsAndRefunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 4)

	_, err := h.engine.Start(ctx, room, model.GameDice, actor(1), 100)
	require.NoError(t, err)
	for id := int64(2); id <= 3; id++ {
		_, err := h.engine.Join(ctx, room, model.GameDice, actor(id))
		require.NoError(t, err)
	}

	err = h.engine.Cancel(ctx, room, model.GameDice, actor(1))
	assert.ErrorIs(t, err, game.ErrNotPermitted, "starting a game does not grant cancel")

	roomAdmin := actor(4)
	roomAdmin.RoomAdmin = true
	require.NoError(t, h.engine.Cancel(ctx, room, model.GameDice, roomAdmin))

	var refunded int64
	for _, e := range h.wallet.Entries(0) {
		if e.Type == model.TxTypeRefund {
			refunded += e.Amount
		}
	}
	assert.Equal(t, int64(300), refunded, "refunds sum to the pot")
	for id := int64(1); id <= 3; id++ {
		assert.Equal(t, int64(1000), h.wallet.Balance(id))
	}
	assert.False(t, h.timers.Pending(key(model.GameDice), timer.PhaseJoin))

	err = h.engine.Cancel(ctx, room, model.GameDice, roomAdmin)
	assert.ErrorIs(t, err, game.ErrGameNotFound)
}

func TestCancelWhilePlayingNeedsSystemAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	startDice(t, h, 3, 100)

	roomAdmin := actor(1)
	roomAdmin.RoomAdmin = true
	assert.ErrorIs(t, h.engine.Cancel(ctx, room, model.GameDice, roomAdmin), game.ErrNotPermitted)

	admin := actor(3)
	admin.SystemAdmin = true
	require.NoError(t, h.engine.Cancel(ctx, room, model.GameDice, admin))
	assert.False(t, h.timers.Pending(key(model.GameDice), timer.PhaseAction))
	for id := int64(1); id <= 3; id++ {
		assert.Equal(t, int64(1000), h.wallet.Balance(id))
	}
}

func TestDisableTearsDownSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)
	startDice(t, h, 2, 100)

	require.NoError(t, h.engine.Disable(ctx, room, model.GameDice))
	_, err := h.engine.Session(ctx, room, model.GameDice)
	assert.ErrorIs(t, err, game.ErrGameNotFound)
	assert.False(t, h.timers.Pending(key(model.GameDice), timer.PhaseAction))
	assert.Equal(t, int64(1000), h.wallet.Balance(2))

	require.NoError(t, h.engine.Disable(ctx, room, model.GameDice), "nothing to disable")
}

// startDice starts a dice game with players 1..n and closes the join window.
func startDice(t *testing.T, h *harness, n int, entry int64) {
	ctx := context.Background()
	_, err := h.engine.Start(ctx, room, model.GameDice, actor(1), entry)
	require.NoError(t, err)
	for id := int64(2); id <= int64(n); id++ {
		_, err := h.engine.Join(ctx, room, model.GameDice, actor(id))
		require.NoError(t, err)
	}
	require.True(t, h.timers.Fire(key(model.GameDice), timer.PhaseJoin))
}

func TestDiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	k := key(model.GameDice)

	h.rand.PushDice(4, 5)             // round 1 target 9
	h.rand.PushDice(5, 5, 6, 4, 2, 3) // 10, 10, 5
	h.rand.PushDice(3, 3)             // round 2 target 6
	h.rand.PushDice(4, 4, 1, 2)       // 8, 3

	startDice(t, h, 3, 100)
	s := h.session(t, model.GameDice)
	assert.Equal(t, int64(300), s.Pot)
	assert.Equal(t, 9, s.Target)
	assert.True(t, h.timers.Pending(k, timer.PhaseAction))

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(id)))
	}
	assert.False(t, h.timers.Pending(k, timer.PhaseAction), "action timer cancelled once everyone rolled")
	assert.True(t, h.timers.Pending(k, timer.PhaseCountdown))

	s = h.session(t, model.GameDice)
	assert.True(t, s.Player(3).IsEliminated)
	assert.Len(t, s.Active(), 2)

	assert.ErrorIs(t, h.engine.Act(ctx, room, model.GameDice, actor(1)), game.ErrRoundNotOpen)

	require.True(t, h.timers.Fire(k, timer.PhaseCountdown))
	assert.ErrorIs(t, h.engine.Act(ctx, room, model.GameDice, actor(3)), game.ErrNotPlayer)
	require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(1)))
	assert.ErrorIs(t, h.engine.Act(ctx, room, model.GameDice, actor(1)), game.ErrAlreadyActed)
	require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(2)))

	s = h.session(t, model.GameDice)
	assert.Equal(t, game.StatusFinished, s.Status)
	assert.Equal(t, int64(1), s.WinnerID)
	assert.Equal(t, int64(270), s.Payout)
	assert.Equal(t, 2, s.CurrentRound)

	assert.Equal(t, int64(1170), h.wallet.Balance(1))
	assert.Equal(t, int64(900), h.wallet.Balance(2))
	assert.Equal(t, int64(900), h.wallet.Balance(3))
	assert.False(t, h.timers.Pending(k, timer.PhaseCountdown))

	assert.Equal(t, []string{
		game.EventStarted, game.EventJoined, game.EventJoined,
		game.EventRound, game.EventAction, game.EventAction, game.EventAction, game.EventTally,
		game.EventRound, game.EventAction, game.EventAction, game.EventTally,
		game.EventFinished,
	}, h.ann.Kinds())

	// A finished session no longer blocks a new game.
	_, err := h.engine.Start(ctx, room, model.GameDice, actor(2), 100)
	assert.NoError(t, err)
}

func TestCardEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 4)
	k := key(model.GameLowCard)

	_, err := h.engine.Start(ctx, room, model.GameLowCard, actor(1), 50)
	require.NoError(t, err)
	for id := int64(2); id <= 4; id++ {
		_, err := h.engine.Join(ctx, room, model.GameLowCard, actor(id))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(200), h.session(t, model.GameLowCard).Pot)
	require.True(t, h.timers.Fire(k, timer.PhaseJoin))

	for round := 0; round < 60; round++ {
		s := h.session(t, model.GameLowCard)
		if s.Status == game.StatusFinished {
			break
		}
		for _, p := range s.Pending() {
			require.NoError(t, h.engine.Act(ctx, room, model.GameLowCard, actor(p.UserID)))
		}
		if h.session(t, model.GameLowCard).Status == game.StatusFinished {
			break
		}
		require.True(t, h.timers.Fire(k, timer.PhaseCountdown))
	}

	s := h.session(t, model.GameLowCard)
	require.Equal(t, game.StatusFinished, s.Status)
	assert.Equal(t, int64(190), s.Payout)
	assert.Equal(t, int64(1000-50+190), h.wallet.Balance(s.WinnerID))

	var total int64
	for id := int64(1); id <= 4; id++ {
		total += h.wallet.Balance(id)
	}
	assert.Equal(t, int64(4000-10), total, "only the commission leaves the table")
}

func TestActionTimeoutAutoActsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)
	k := key(model.GameDice)

	h.rand.PushDice(1, 1)       // target 2, everyone stays in
	h.rand.PushDice(3, 3, 4, 4) // 6, 8
	startDice(t, h, 2, 100)

	require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(1)))
	fire := h.timers.Take(k, timer.PhaseAction)
	require.NotNil(t, fire)
	fire()
	fire()

	s := h.session(t, model.GameDice)
	assert.Equal(t, 1, s.CurrentRound)
	assert.False(t, s.RoundOpen)
	assert.True(t, s.Player(2).AutoActed)
	assert.Equal(t, []int{4, 4}, s.Player(2).Dice)

	autos := 0
	for _, e := range h.ann.Events() {
		if e.Kind == game.EventAction && e.Data["auto"] == true {
			autos++
		}
	}
	assert.Equal(t, 1, autos)

	// The countdown opens round 2; a stale countdown fire does nothing.
	countdown := h.timers.Take(k, timer.PhaseCountdown)
	require.NotNil(t, countdown)
	countdown()
	countdown()
	assert.Equal(t, 2, h.session(t, model.GameDice).CurrentRound)
}

func TestFailedPayoutIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)

	h.rand.PushDice(6, 6, 6, 5, 1, 1) // target 12, 11 and 2: nobody in
	h.rand.PushDice(2, 2, 6, 6, 1, 1) // target 4, 12 and 2
	startDice(t, h, 2, 100)

	for id := int64(1); id <= 2; id++ {
		require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(id)))
	}
	assert.Equal(t, 1, h.session(t, model.GameDice).CurrentRound, "void round")
	require.True(t, h.timers.Fire(key(model.GameDice), timer.PhaseCountdown))

	h.wallet.FailAdds(errors.New("ledger down"))
	for id := int64(1); id <= 2; id++ {
		require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(id)))
	}
	s := h.session(t, model.GameDice)
	assert.Equal(t, game.StatusFinished, s.Status)
	assert.Equal(t, int64(1), s.WinnerID)
	assert.Equal(t, []string{"credit-retry"}, h.tasks.Names())
}

func TestJoinTimeoutRetriesAfterStoreError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)
	k := key(model.GameLowCard)

	_, err := h.engine.Start(ctx, room, model.GameLowCard, actor(1), 100)
	require.NoError(t, err)
	_, err = h.engine.Join(ctx, room, model.GameLowCard, actor(2))
	require.NoError(t, err)

	h.flaky.failUpdates(0, 1)
	require.True(t, h.timers.Fire(k, timer.PhaseJoin))
	assert.Equal(t, game.StatusWaiting, h.session(t, model.GameLowCard).Status)
	require.True(t, h.timers.Pending(k, timer.PhaseJoin), "join timer re-armed")
	assert.Equal(t, game.PhaseRetryDelay, h.timers.Delay(k, timer.PhaseJoin))

	require.True(t, h.timers.Fire(k, timer.PhaseJoin))
	s := h.session(t, model.GameLowCard)
	assert.Equal(t, game.StatusPlaying, s.Status)
	assert.Equal(t, 1, s.CurrentRound)
	assert.True(t, h.timers.Pending(k, timer.PhaseAction))
}

func TestRoundResolutionRetriesAfterStoreError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)
	k := key(model.GameDice)

	h.rand.PushDice(1, 1)       // target 2, everyone stays in
	h.rand.PushDice(3, 3, 4, 4) // 6, 8
	startDice(t, h, 2, 100)

	require.NoError(t, h.engine.Act(ctx, room, model.GameDice, actor(1)))

	// The last roll commits, then resolving the round fails.
	h.flaky.failUpdates(1, 1)
	err := h.engine.Act(ctx, room, model.GameDice, actor(2))
	require.Error(t, err)
	assert.False(t, game.IsPolicy(err))

	s := h.session(t, model.GameDice)
	assert.True(t, s.RoundOpen)
	assert.True(t, s.Player(2).HasActed)
	require.True(t, h.timers.Pending(k, timer.PhaseAction), "action timer re-armed")
	assert.Equal(t, game.PhaseRetryDelay, h.timers.Delay(k, timer.PhaseAction))

	require.True(t, h.timers.Fire(k, timer.PhaseAction))
	s = h.session(t, model.GameDice)
	assert.False(t, s.RoundOpen)
	assert.False(t, s.Player(2).AutoActed)
	assert.Equal(t, []int{4, 4}, s.Player(2).Dice)
	require.True(t, h.timers.Pending(k, timer.PhaseCountdown))

	// A failed countdown is re-armed the same way.
	h.flaky.failUpdates(0, 1)
	require.True(t, h.timers.Fire(k, timer.PhaseCountdown))
	assert.Equal(t, 1, h.session(t, model.GameDice).CurrentRound)
	require.True(t, h.timers.Pending(k, timer.PhaseCountdown))

	require.True(t, h.timers.Fire(k, timer.PhaseCountdown))
	s = h.session(t, model.GameDice)
	assert.Equal(t, 2, s.CurrentRound)
	assert.True(t, s.RoundOpen)
}
