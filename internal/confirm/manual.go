package confirm

import (
	"sort"
	"sync"
	"time"
)

// ManualScheduler runs callbacks only when Advance moves its clock past
// their deadline.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	sched   *ManualScheduler
	due     time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// Stop implements Task.
func (t *manualTask) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

// Schedule implements Scheduler.
func (m *ManualScheduler) Schedule(d time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{sched: m, due: m.now + d, seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward by d and runs every task that became due,
// in deadline order.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due, rest []*manualTask
	for _, t := range m.tasks {
		switch {
		case t.stopped:
		case t.due <= m.now:
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	m.tasks = rest
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of tasks not yet run or stopped.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}
