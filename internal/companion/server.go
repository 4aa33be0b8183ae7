// Package companion provides the companion's HTTP and websocket surface.
//
// The primary connects to /peer and keeps the key space mirrored. Users
// read and edit the key space through the /api routes; edits are
// classified by the relay and forwarded to the primary.
//
// Every handler action, inbound peer message and confirmation timeout runs
// on one loop.Loop, so the relay and key space are used from a single
// goroutine.
package companion

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/flogapp/flog/internal/confirm"
	"github.com/flogapp/flog/internal/loop"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
	"github.com/flogapp/flog/internal/relay"
)

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7420)
	Addr string

	// Secret verifies the primary's pairing token. Empty disables
	// authentication.
	Secret []byte

	// ConfirmWindow is how long a delete stays armed (default: 3s)
	ConfirmWindow time.Duration

	// Scheduler runs confirmation timeouts (default: timers posted to the
	// server's loop)
	Scheduler confirm.Scheduler

	// AccessLog receives HTTP access logs. Nil disables them.
	AccessLog io.Writer

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:          "127.0.0.1:7420",
		ConfirmWindow: confirm.DefaultWindow,
		Logger:        log.New(os.Stderr, "[companion] ", log.LstdFlags),
	}
}

// Server is the companion process: key space, relay and HTTP surface.
type Server struct {
	addr      string
	secret    []byte
	accessLog io.Writer
	listener  net.Listener
	server    *http.Server

	keys    *relay.KeyStore
	relay   *relay.Relay
	link    *peer.Link
	loop    *loop.Loop
	confirm *confirm.Confirmer

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a companion server over keys.
func NewServer(keys *relay.KeyStore, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}

	s := &Server{
		addr:      addr,
		secret:    config.Secret,
		accessLog: config.AccessLog,
		keys:      keys,
		logger:    config.Logger,
	}

	s.loop = loop.New(&loop.Config{Logger: config.Logger})
	s.link = peer.NewLink(&peer.LinkConfig{
		Name:          "primary",
		OnMessage:     s.onMessage,
		OnStateChange: s.onStateChange,
		Exclusive:     true,
		Logger:        config.Logger,
	})
	s.relay = relay.New(keys, s.link, config.Logger)

	sched := config.Scheduler
	if sched == nil {
		sched = confirm.TimerScheduler{Post: func(fn func()) {
			s.loop.Go(func(context.Context) { fn() })
		}}
	}
	s.confirm = confirm.New(config.ConfirmWindow, sched)
	s.confirm.OnChange = func(id string, st confirm.State) {
		s.logger.Printf("Delete confirmation for %s: %s", id, st)
	}

	return s
}

// Relay returns the server's relay.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Link returns the link to the primary.
func (s *Server) Link() *peer.Link {
	return s.link
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/peer", s.link.AcceptHandler(s.secret)).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/settings", s.handleListSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.handleGetSetting).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.handlePutSetting).Methods(http.MethodPut)
	api.HandleFunc("/settings/{key}", s.handleDeleteSetting).Methods(http.MethodDelete)
	api.HandleFunc("/courses", s.handleCourses).Methods(http.MethodGet)
	api.HandleFunc("/courses/{id}/rename", s.handleRename).Methods(http.MethodPost)
	api.HandleFunc("/courses/{id}/delete", s.handleDelete).Methods(http.MethodPost)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)

	var h http.Handler = router
	h = handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(false),
	)(h)
	if s.accessLog != nil {
		h = handlers.LoggingHandler(s.accessLog, h)
	}
	return h
}

// Start begins the HTTP server and the event loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.loop.Start(s.ctx)

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Companion listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Println("Stopping companion server")

	if err := s.link.Close(); err != nil {
		s.logger.Printf("Error closing link: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	s.cancel()
	s.loop.Stop()

	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Println("Companion server stopped")
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) onMessage(_ context.Context, msg protocol.Message) {
	s.loop.Go(func(ctx context.Context) {
		if err := s.relay.HandlePeer(ctx, msg); err != nil {
			s.logger.Printf("Failed to mirror %s: %v", msg.Kind, err)
		}
	})
}

func (s *Server) onStateChange(st peer.State) {
	s.logger.Printf("Primary link %s", st)
	if st != peer.StateOpen {
		return
	}
	s.loop.Go(func(ctx context.Context) {
		s.relay.Flush(ctx)
	})
}
