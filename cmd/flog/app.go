package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/flogapp/flog/internal/loop"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
	"github.com/flogapp/flog/internal/repo"
	"github.com/flogapp/flog/internal/session"
	"github.com/flogapp/flog/internal/store"
	coord "github.com/flogapp/flog/internal/sync"
)

// primaryApp is the primary side for a single command: the store, the
// resumed session and, when the companion answers, a live link to it.
type primaryApp struct {
	db      *store.DB
	repo    *repo.Repository
	session *session.Session
	coord   *coord.Coordinator
	link    *peer.Link
	loop    *loop.Loop
	logger  *log.Logger

	connected bool
}

// openPrimary opens the primary store, resumes the saved round and dials
// the companion once unless --offline is set. Any failure exits.
func openPrimary(ctx context.Context) *primaryApp {
	db, err := store.Open(cfg.PrimaryDB())
	if err != nil {
		fatal("%v", err)
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		fatal("%v", err)
	}

	logger := commandLogger("flog")
	a := &primaryApp{
		db:     db,
		repo:   repo.New(db, logger),
		loop:   loop.New(&loop.Config{Logger: logger}),
		logger: logger,
	}
	a.session = session.New(a.repo, logger)
	a.link = peer.NewLink(&peer.LinkConfig{
		Name:      "companion",
		OnMessage: a.onMessage,
		Logger:    logger,
	})
	a.coord = coord.New(a.repo, a.session, a.link, logger)
	a.loop.Start(ctx)

	err = a.Do(ctx, func(ctx context.Context) error {
		a.session.Load(ctx)
		if _, err := a.session.Resume(ctx); err != nil {
			logger.Printf("Failed to resume round: %v", err)
		}
		return nil
	})
	if err != nil {
		a.Close()
		fatal("%v", err)
	}

	if !offline && cfg.Primary.CompanionURL != "" {
		dialer := peer.NewDialer(peer.DialerConfig{
			URL:         cfg.Primary.CompanionURL,
			Secret:      []byte(cfg.Peer.Secret),
			PeerName:    "flog-cli",
			TokenTTL:    cfg.Peer.TokenTTL.D(),
			DialTimeout: cfg.Primary.DialTimeout.D(),
			Logger:      logger,
		}, a.link)
		if err := dialer.Dial(ctx); err != nil {
			logger.Printf("Companion not reachable: %v", err)
		} else {
			a.connected = true
		}
	}
	return a
}

// Do runs fn on the app's loop.
func (a *primaryApp) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return a.loop.Do(ctx, fn)
}

// Close applies messages already received from the companion, then closes
// the link and the store.
func (a *primaryApp) Close() {
	drain, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = a.loop.Do(drain, func(context.Context) error { return nil })

	if err := a.link.Close(); err != nil {
		a.logger.Printf("Error closing link: %v", err)
	}
	a.loop.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Printf("Error closing store: %v", err)
	}
}

// syncNote describes whether the change reached the companion.
func (a *primaryApp) syncNote() string {
	if a.connected {
		return "sent to companion"
	}
	return "companion offline"
}

// course loads one course or exits.
func (a *primaryApp) course(ctx context.Context, id string) model.Course {
	var c *model.Course
	_ = a.Do(ctx, func(ctx context.Context) error {
		c = a.repo.LoadCourse(ctx, id)
		return nil
	})
	if c == nil {
		a.Close()
		fatal("%v", fmt.Errorf("%w: course %s", model.ErrReferentialMiss, id))
	}
	return *c
}

func (a *primaryApp) onMessage(_ context.Context, msg protocol.Message) {
	a.loop.Go(func(ctx context.Context) {
		_ = a.coord.Handle(ctx, msg)
	})
}
