// Package loop runs events one at a time on a single goroutine.
//
// Websocket reads, file events, HTTP actions and timer callbacks are posted
// to one Loop, so the state they touch is only ever used from the loop
// goroutine and needs no locking.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	// ErrStopped is returned when posting to a loop that is not running.
	ErrStopped = errors.New("loop stopped")

	// ErrPanicked is returned by Do when the event panicked.
	ErrPanicked = errors.New("event panicked")
)

// Event is one unit of work. It runs to completion before the next event
// starts.
type Event func(ctx context.Context)

// Config holds configuration for a Loop.
type Config struct {
	// QueueSize is the number of events that can wait before Post blocks.
	QueueSize int

	// Logger for panics recovered from events
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueSize: 64,
		Logger:    log.New(os.Stderr, "[loop] ", log.LstdFlags),
	}
}

// Loop is a serial event executor.
type Loop struct {
	events chan Event
	config *Config

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Loop. Call Start before posting.
func New(config *Config) *Loop {
	if config == nil {
		config = DefaultConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Loop{
		events: make(chan Event, config.QueueSize),
		config: config,
	}
}

// Start runs the loop until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	l.wg.Add(1)
	go l.run()
}

// Stop stops the loop after the running event finishes. Queued events are
// discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
}

// Post queues ev. It blocks while the queue is full.
func (l *Loop) Post(ev Event) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrStopped
	}
	ctx := l.ctx
	l.mu.Unlock()

	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Go posts ev and logs instead of returning an error. It fits callbacks
// that have nowhere to report a failure.
func (l *Loop) Go(ev Event) {
	if err := l.Post(ev); err != nil {
		l.config.Logger.Printf("Event dropped: %v", err)
	}
}

// Do runs fn on the loop and waits for its result. It must not be called
// from an event.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := l.Post(func(loopCtx context.Context) {
		result := ErrPanicked
		defer func() { done <- result }()
		result = fn(loopCtx)
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	stopped := l.ctx.Done()
	l.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		// The event may still have run before the loop stopped.
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.events:
			l.exec(ev)
		}
	}
}

func (l *Loop) exec(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.config.Logger.Printf("Event panicked: %v", fmt.Sprint(r))
		}
	}()
	ev(l.ctx)
}
