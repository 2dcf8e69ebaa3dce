// Package gametest provides deterministic collaborators for testing the
// game engine and its variants.
package gametest

import (
	"context"
	"sync"
	"time"

	"chat-game-server/internal/game"
	"chat-game-server/internal/ledger"
	"chat-game-server/internal/model"
	"chat-game-server/internal/timer"
)

// SeqRand replays scripted Intn results, then returns 0.
type SeqRand struct {
	mu     sync.Mutex
	values []int
}

// NewSeqRand creates a scripted random source.
func NewSeqRand(values ...int) *SeqRand {
	return &SeqRand{values: values}
}

// Push appends scripted results.
func (r *SeqRand) Push(values ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, values...)
}

// PushDice appends die faces (1..6) for Intn(6)+1 rolls.
func (r *SeqRand) PushDice(faces ...int) {
	for _, f := range faces {
		r.Push(f - 1)
	}
}

func (r *SeqRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

// Scheduler is a manual timer.Scheduler. Nothing fires until the test
// calls Fire.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]map[timer.Phase]func()
	delays map[string]map[timer.Phase]time.Duration
}

// NewScheduler creates an empty manual scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]map[timer.Phase]func()),
		delays: make(map[string]map[timer.Phase]time.Duration),
	}
}

func (s *Scheduler) Schedule(room string, phase timer.Phase, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers[room] == nil {
		s.timers[room] = make(map[timer.Phase]func())
		s.delays[room] = make(map[timer.Phase]time.Duration)
	}
	s.timers[room][phase] = fn
	s.delays[room][phase] = delay
}

func (s *Scheduler) Cancel(room string, phase timer.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[room][phase]
	delete(s.timers[room], phase)
	return ok
}

func (s *Scheduler) CancelRoom(room string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.timers[room])
	delete(s.timers, room)
	return n
}

// Pending reports whether room+phase is armed.
func (s *Scheduler) Pending(room string, phase timer.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[room][phase]
	return ok
}

// Delay returns the delay room+phase was last armed with.
func (s *Scheduler) Delay(room string, phase timer.Phase) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[room][phase]
}

// Take disarms room+phase and returns its callback, or nil. Calling the
// callback more than once simulates a duplicate fire.
func (s *Scheduler) Take(room string, phase timer.Phase) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := s.timers[room][phase]
	delete(s.timers[room], phase)
	return fn
}

// Fire runs and disarms room+phase. It reports whether a timer was armed.
func (s *Scheduler) Fire(room string, phase timer.Phase) bool {
	fn := s.Take(room, phase)
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Entry is one wallet movement.
type Entry struct {
	UserID int64
	Amount int64
	Type   string
}

// Wallet is an in-memory game.Wallet.
type Wallet struct {
	mu       sync.Mutex
	balances map[int64]int64
	entries  []Entry
	addErr   error
}

// NewWallet creates a wallet with the given opening balances.
func NewWallet(balances map[int64]int64) *Wallet {
	b := make(map[int64]int64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Wallet{balances: b}
}

// FailAdds makes every Add return err until called with nil.
func (w *Wallet) FailAdds(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addErr = err
}

func (w *Wallet) Deduct(_ context.Context, userID, amount int64, meta ledger.TxMeta) (*ledger.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[userID] < amount {
		return nil, ledger.ErrInsufficientFunds
	}
	w.balances[userID] -= amount
	w.entries = append(w.entries, Entry{UserID: userID, Amount: -amount, Type: meta.Type})
	return &ledger.Receipt{UserID: userID, Type: meta.Type, Amount: amount, FromMain: amount,
		Balances: ledger.Balances{Main: w.balances[userID]}}, nil
}

func (w *Wallet) Add(_ context.Context, userID, amount int64, meta ledger.TxMeta) (*ledger.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.addErr != nil {
		return nil, w.addErr
	}
	w.balances[userID] += amount
	w.entries = append(w.entries, Entry{UserID: userID, Amount: amount, Type: meta.Type})
	return &ledger.Receipt{UserID: userID, Type: meta.Type, Amount: amount, FromMain: amount,
		Balances: ledger.Balances{Main: w.balances[userID]}}, nil
}

// Balance returns a user's balance.
func (w *Wallet) Balance(userID int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

// Entries returns the movements of one user, or all when userID is 0.
func (w *Wallet) Entries(userID int64) []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Entry
	for _, e := range w.entries {
		if userID == 0 || e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Announcer records announced events.
type Announcer struct {
	mu     sync.Mutex
	events []game.Event
}

func (a *Announcer) Announce(_ string, _ model.GameType, events ...game.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, events...)
}

// Events returns every event announced so far.
func (a *Announcer) Events() []game.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]game.Event, len(a.events))
	copy(out, a.events)
	return out
}

// Kinds returns the kinds of every event announced so far.
func (a *Announcer) Kinds() []string {
	var out []string
	for _, e := range a.Events() {
		out = append(out, e.Kind)
	}
	return out
}

// Tasks runs submitted tasks inline and counts them.
type Tasks struct {
	mu    sync.Mutex
	names []string
}

func (t *Tasks) Submit(name string, fn func(ctx context.Context) error) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
	_ = fn(context.Background())
}

// Names returns the submitted task names.
func (t *Tasks) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.names...)
}
