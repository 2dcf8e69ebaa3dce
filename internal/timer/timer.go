// Package timer schedules the per-room phase timers of the game engine
// (join window, action window, next-round countdown).
package timer

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase names a timer slot. A room holds at most one pending timer per phase.
type Phase string

const (
	PhaseJoin      Phase = "join"
	PhaseAction    Phase = "action"
	PhaseCountdown Phase = "countdown"
)

// Scheduler is the timer contract the engine depends on.
type Scheduler interface {
	// Schedule arms fn for room+phase, replacing any pending timer there.
	Schedule(room string, phase Phase, delay time.Duration, fn func())
	// Cancel stops the room+phase timer. It reports whether one was pending.
	Cancel(room string, phase Phase) bool
	// CancelRoom stops every timer of a room and returns how many were pending.
	CancelRoom(room string) int
}

type entry struct {
	gen   uint64
	timer *time.Timer
}

// Orchestrator implements Scheduler on time.AfterFunc. Each armed timer
// carries a generation number; a timer that was cancelled or replaced
// finds its generation gone when it fires and does nothing.
type Orchestrator struct {
	mu     sync.Mutex
	rooms  map[string]map[Phase]*entry
	gen    uint64
	closed bool
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{rooms: make(map[string]map[Phase]*entry)}
}

func (o *Orchestrator) Schedule(room string, phase Phase, delay time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.stopLocked(room, phase)

	o.gen++
	gen := o.gen
	phases, ok := o.rooms[room]
	if !ok {
		phases = make(map[Phase]*entry)
		o.rooms[room] = phases
	}
	phases[phase] = &entry{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { o.fire(room, phase, gen, fn) }),
	}

	log.Debug().
		Str("room", room).
		Str("phase", string(phase)).
		Dur("delay", delay).
		Msg("Timer scheduled")
}

func (o *Orchestrator) fire(room string, phase Phase, gen uint64, fn func()) {
	o.mu.Lock()
	e, ok := o.rooms[room][phase]
	if !ok || e.gen != gen {
		o.mu.Unlock()
		return
	}
	o.removeLocked(room, phase)
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("room", room).
				Str("phase", string(phase)).
				Msg("Recovered from panic in timer callback")
		}
	}()
	fn()
}

func (o *Orchestrator) Cancel(room string, phase Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopLocked(room, phase)
}

func (o *Orchestrator) CancelRoom(room string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for phase := range o.rooms[room] {
		if o.stopLocked(room, phase) {
			n++
		}
	}
	return n
}

// Pending reports whether room+phase has an armed timer.
func (o *Orchestrator) Pending(room string, phase Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.rooms[room][phase]
	return ok
}

// Stop cancels every timer and refuses new ones.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	for room, phases := range o.rooms {
		for phase := range phases {
			o.stopLocked(room, phase)
		}
	}
}

// stopLocked stops and forgets a timer; caller holds mu.
func (o *Orchestrator) stopLocked(room string, phase Phase) bool {
	e, ok := o.rooms[room][phase]
	if !ok {
		return false
	}
	e.timer.Stop()
	o.removeLocked(room, phase)
	return true
}

func (o *Orchestrator) removeLocked(room string, phase Phase) {
	delete(o.rooms[room], phase)
	if len(o.rooms[room]) == 0 {
		delete(o.rooms, room)
	}
}
