// Package daemon runs the primary side of flog as a long-lived process.
//
// The daemon:
//  1. Resumes the saved round
//  2. Keeps a connection to the companion and reconciles when it opens
//  3. Imports course code files dropped into the inbox directory
//  4. Handles graceful shutdown
//
// Every event (inbound peer messages, channel state changes, inbox files)
// runs on one loop.Loop, so the repository and session are only touched
// from a single goroutine.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/flogapp/flog/internal/loop"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
	"github.com/flogapp/flog/internal/repo"
	"github.com/flogapp/flog/internal/session"
	coord "github.com/flogapp/flog/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// CompanionURL is the companion's websocket endpoint. Empty runs the
	// daemon without a peer; every outbound message is dropped.
	CompanionURL string

	// Secret signs pairing tokens. Empty disables authentication.
	Secret []byte

	// TokenTTL is the lifetime of each pairing token
	TokenTTL time.Duration

	// DialTimeout bounds each connection attempt
	DialTimeout time.Duration

	// ReconnectInterval is the wait between connection attempts
	ReconnectInterval time.Duration

	// InboxDir is watched for *.flog files. Empty disables the inbox.
	InboxDir string

	// DebounceInterval is how long an inbox file must be quiet before it
	// is imported
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenTTL:          time.Hour,
		DialTimeout:       5 * time.Second,
		ReconnectInterval: 5 * time.Second,
		DebounceInterval:  100 * time.Millisecond,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the coordinator to the peer link and the inbox.
type Daemon struct {
	config  *Config
	repo    *repo.Repository
	session *session.Session
	coord   *coord.Coordinator
	link    *peer.Link
	dialer  *peer.Dialer
	inbox   *Inbox
	loop    *loop.Loop

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon over r.
//
// Use Start() to begin connecting and watching.
func New(r *repo.Repository, config *Config) (*Daemon, error) {
	if r == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	logger := config.Logger

	d := &Daemon{
		config: config,
		repo:   r,
		loop:   loop.New(&loop.Config{Logger: logger}),
	}

	d.session = session.New(r, logger)
	d.link = peer.NewLink(&peer.LinkConfig{
		Name:          "companion",
		OnMessage:     d.onMessage,
		OnStateChange: d.onStateChange,
		Logger:        logger,
	})
	d.coord = coord.New(r, d.session, d.link, logger)

	if config.CompanionURL != "" {
		d.dialer = peer.NewDialer(peer.DialerConfig{
			URL:               config.CompanionURL,
			Secret:            config.Secret,
			TokenTTL:          config.TokenTTL,
			DialTimeout:       config.DialTimeout,
			ReconnectInterval: config.ReconnectInterval,
			Logger:            logger,
		}, d.link)
	}

	if config.InboxDir != "" {
		inbox, err := NewInbox(config.InboxDir, config.DebounceInterval)
		if err != nil {
			return nil, err
		}
		d.inbox = inbox
	}

	return d, nil
}

// Coordinator returns the daemon's coordinator. Call its methods through
// Do so they run on the daemon's loop.
func (d *Daemon) Coordinator() *coord.Coordinator {
	return d.coord
}

// Session returns the daemon's session.
func (d *Daemon) Session() *session.Session {
	return d.session
}

// Link returns the link to the companion.
func (d *Daemon) Link() *peer.Link {
	return d.link
}

// Do runs fn on the daemon's loop.
func (d *Daemon) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.loop.Do(ctx, fn)
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Load settings and resume the saved round
//  2. Import code files already in the inbox, then watch it
//  3. Dial the companion and keep the link up
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.loop.Start(d.ctx)

	err := d.loop.Do(d.ctx, func(ctx context.Context) error {
		d.session.Load(ctx)
		resumed, err := d.session.Resume(ctx)
		if err != nil {
			d.config.Logger.Printf("Failed to resume round: %v", err)
		}
		if resumed {
			d.config.Logger.Printf("Resumed round on hole %d", d.session.Hole())
		}
		return nil
	})
	if err != nil {
		d.cancel()
		d.loop.Stop()
		return fmt.Errorf("failed to resume: %w", err)
	}

	if d.inbox != nil {
		if err := d.inbox.Start(); err != nil {
			d.cancel()
			d.loop.Stop()
			return err
		}
		existing, err := d.inbox.Scan()
		if err != nil {
			d.config.Logger.Printf("Failed to scan inbox: %v", err)
		}
		for _, path := range existing {
			d.postImport(path)
		}
		d.config.Logger.Printf("Watching inbox: %s", d.inbox.Dir())

		d.wg.Add(1)
		go d.watchInbox()
	}

	if d.dialer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.dialer.Run(d.ctx)
		}()
	} else {
		d.config.Logger.Println("No companion configured, running standalone")
	}

	<-d.ctx.Done()
	d.config.Logger.Println("Shutdown signal received")
	return d.Stop()
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	if d.cancel == nil {
		return nil
	}

	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()
		if d.inbox != nil {
			if err := d.inbox.Stop(); err != nil {
				d.config.Logger.Printf("Error stopping inbox: %v", err)
			}
		}
		if err := d.link.Close(); err != nil {
			d.config.Logger.Printf("Error closing link: %v", err)
		}
		d.wg.Wait()
		d.loop.Stop()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// ImportFile imports the course code in path. The file is removed on
// success and renamed to *.rejected when the code does not decode. After a
// storage failure the file is left in place.
func (d *Daemon) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	course, err := d.coord.ImportToken(ctx, strings.TrimSpace(string(data)))
	if err != nil && !errors.Is(err, model.ErrDecode) {
		return fmt.Errorf("failed to import %s: %w", path, err)
	}
	if err != nil {
		rejected := strings.TrimSuffix(path, InboxExt) + RejectedExt
		if rerr := os.Rename(path, rejected); rerr != nil {
			d.config.Logger.Printf("Failed to set aside %s: %v", path, rerr)
		}
		return fmt.Errorf("failed to import %s: %w", path, err)
	}

	d.config.Logger.Printf("Imported %q from %s", course.Name, path)
	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Failed to remove %s: %v", path, err)
	}
	return nil
}

func (d *Daemon) watchInbox() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case path, ok := <-d.inbox.Files():
			if !ok {
				return
			}
			d.postImport(path)
		case err, ok := <-d.inbox.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Inbox watcher error: %v", err)
		}
	}
}

func (d *Daemon) postImport(path string) {
	d.loop.Go(func(ctx context.Context) {
		if err := d.ImportFile(ctx, path); err != nil {
			d.config.Logger.Printf("Inbox: %v", err)
		}
	})
}

func (d *Daemon) onMessage(_ context.Context, msg protocol.Message) {
	d.loop.Go(func(ctx context.Context) {
		_ = d.coord.Handle(ctx, msg)
	})
}

func (d *Daemon) onStateChange(s peer.State) {
	d.config.Logger.Printf("Companion link %s", s)
	if s != peer.StateOpen {
		return
	}
	d.loop.Go(func(ctx context.Context) {
		d.coord.Reconcile(ctx)
	})
}
