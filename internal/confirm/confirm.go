// Package confirm implements two-step confirmation for destructive row
// actions.
//
// The first activation of a row arms it. A second activation within the
// window confirms it. An armed row that is not confirmed reverts to idle
// when the window expires.
//
// Every arm cycle gets a new generation, unique across rows. A scheduled
// revert carries the generation it was scheduled for and is ignored if the
// row has been re-armed or confirmed since.
package confirm

import (
	"sync"
	"time"
)

// DefaultWindow is how long a row stays armed.
const DefaultWindow = 3000 * time.Millisecond

// State is the confirmation state of one row.
type State int

const (
	// Idle means the row has not been activated.
	Idle State = iota
	// Armed means the next activation confirms.
	Armed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	default:
		return "unknown"
	}
}

// Task is a scheduled callback that can be cancelled.
type Task interface {
	// Stop cancels the task. It reports whether the task was still pending.
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Task
}

// TimerScheduler schedules callbacks with time.AfterFunc.
//
// If Post is set, callbacks are handed to it instead of running on the
// timer goroutine. Use it to run reverts on an event loop.
type TimerScheduler struct {
	Post func(func())
}

// Schedule implements Scheduler.
func (s TimerScheduler) Schedule(d time.Duration, fn func()) Task {
	run := fn
	if s.Post != nil {
		run = func() { s.Post(fn) }
	}
	return time.AfterFunc(d, run)
}

type row struct {
	state   State
	gen     uint64
	pending Task
}

// Confirmer tracks confirmation state per row id.
type Confirmer struct {
	mu     sync.Mutex
	rows   map[string]*row
	gen    uint64
	window time.Duration
	sched  Scheduler

	// OnChange, if set, is called after a row changes state.
	OnChange func(id string, s State)
}

// New creates a Confirmer. A zero window uses DefaultWindow and a nil
// scheduler uses TimerScheduler.
func New(window time.Duration, sched Scheduler) *Confirmer {
	if window <= 0 {
		window = DefaultWindow
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Confirmer{
		rows:   make(map[string]*row),
		window: window,
		sched:  sched,
	}
}

// Window returns the confirmation window.
func (c *Confirmer) Window() time.Duration {
	return c.window
}

// Activate registers one activation of row id. It returns true when the
// activation confirms an armed row; the row is then idle again and the
// caller performs the action.
func (c *Confirmer) Activate(id string) bool {
	c.mu.Lock()
	r := c.row(id)
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}

	if r.state == Armed {
		r.state = Idle
		c.gen++
		r.gen = c.gen
		c.mu.Unlock()
		c.changed(id, Idle)
		return true
	}

	r.state = Armed
	c.gen++
	r.gen = c.gen
	gen := r.gen
	r.pending = c.sched.Schedule(c.window, func() { c.revert(id, gen) })
	c.mu.Unlock()
	c.changed(id, Armed)
	return false
}

// Reset returns row id to idle and cancels its pending revert.
func (c *Confirmer) Reset(id string) {
	c.mu.Lock()
	r, ok := c.rows[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if r.pending != nil {
		r.pending.Stop()
	}
	wasArmed := r.state == Armed
	delete(c.rows, id)
	c.mu.Unlock()

	if wasArmed {
		c.changed(id, Idle)
	}
}

// State returns the state of row id.
func (c *Confirmer) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rows[id]; ok {
		return r.state
	}
	return Idle
}

// revert disarms row id if it is still in arm cycle gen.
func (c *Confirmer) revert(id string, gen uint64) {
	c.mu.Lock()
	r, ok := c.rows[id]
	if !ok || r.gen != gen || r.state != Armed {
		c.mu.Unlock()
		return
	}
	delete(c.rows, id)
	c.mu.Unlock()
	c.changed(id, Idle)
}

func (c *Confirmer) row(id string) *row {
	r, ok := c.rows[id]
	if !ok {
		r = &row{}
		c.rows[id] = r
	}
	return r
}

func (c *Confirmer) changed(id string, s State) {
	if c.OnChange != nil {
		c.OnChange(id, s)
	}
}
