// Package peer carries protocol messages between the primary and the
// companion over websocket connections.
//
// A Link owns the set of live connections on one side and reports a
// readiness State. Sending is fire-and-forget: a message is written to every
// live connection, or rejected with model.ErrChannelNotReady when there is
// none. Nothing is queued and nothing is acknowledged. An exclusive link
// keeps at most one connection, the most recently attached.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/protocol"
)

// State is the readiness of a channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the outbound side of a link as the sync layers see it.
type Channel interface {
	// State reports whether messages can currently be sent.
	State() State

	// Send writes msg to the peer. It returns model.ErrChannelNotReady
	// when the channel is not open.
	Send(ctx context.Context, msg protocol.Message) error
}

// MessageHandler receives each decoded inbound message.
type MessageHandler func(ctx context.Context, msg protocol.Message)

// maxFrameSize bounds a single inbound frame. A sync-courses frame carries
// the whole course list.
const maxFrameSize = 1 << 20

// LinkConfig holds link configuration.
type LinkConfig struct {
	// Name identifies the link in logs (default: "peer").
	Name string

	// OnMessage is called for every decoded inbound message, from the
	// connection's read goroutine.
	OnMessage MessageHandler

	// OnStateChange is called after the state changes.
	OnStateChange func(State)

	// WriteTimeout bounds each frame write (default: 5s).
	WriteTimeout time.Duration

	// Exclusive makes a newly attached connection replace the ones
	// already attached.
	Exclusive bool

	// Logger for link activity (default: stderr logger).
	Logger *log.Logger
}

// Link manages the live connections to the peer.
type Link struct {
	name          string
	onMessage     MessageHandler
	onStateChange func(State)
	writeTimeout  time.Duration
	exclusive     bool
	logger        *log.Logger

	conns  map[*websocket.Conn]string
	closed bool
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLink creates a link with no connections. Its state is
// StateConnecting until a connection is attached.
func NewLink(config *LinkConfig) *Link {
	if config == nil {
		config = &LinkConfig{}
	}
	name := config.Name
	if name == "" {
		name = "peer"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "["+name+"] ", log.LstdFlags)
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		name:          name,
		onMessage:     config.OnMessage,
		onStateChange: config.OnStateChange,
		writeTimeout:  writeTimeout,
		exclusive:     config.Exclusive,
		logger:        logger,
		conns:         make(map[*websocket.Conn]string),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// State implements Channel.State.
func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stateLocked()
}

func (l *Link) stateLocked() State {
	switch {
	case l.closed:
		return StateClosed
	case len(l.conns) > 0:
		return StateOpen
	default:
		return StateConnecting
	}
}

// Peers returns the number of live connections.
func (l *Link) Peers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conns)
}

// Attach adds an established connection and starts reading from it.
// On an exclusive link the connections already attached are closed.
// It returns the id used for the connection in logs.
func (l *Link) Attach(conn *websocket.Conn) (string, error) {
	conn.SetReadLimit(maxFrameSize)
	id := uuid.NewString()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "link closed")
		return "", fmt.Errorf("%s link is closed", l.name)
	}
	// Registered under the lock so Close cannot pass wg.Wait first.
	l.wg.Add(1)
	before := l.stateLocked()
	var replaced map[*websocket.Conn]string
	if l.exclusive && len(l.conns) > 0 {
		replaced = l.conns
		l.conns = make(map[*websocket.Conn]string)
	}
	l.conns[conn] = id
	count := len(l.conns)
	l.mu.Unlock()

	for old, oldID := range replaced {
		_ = old.Close(websocket.StatusPolicyViolation, "replaced by a newer peer")
		l.logger.Printf("Peer %s replaced by %s", oldID, id)
	}

	l.logger.Printf("Peer %s connected (total: %d)", id, count)
	if before != StateOpen {
		l.notify(StateOpen)
	}

	go l.readLoop(conn, id)

	return id, nil
}

// Send implements Channel.Send.
func (l *Link) Send(ctx context.Context, msg protocol.Message) error {
	l.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(l.conns))
	for conn := range l.conns {
		conns = append(conns, conn)
	}
	state := l.stateLocked()
	l.mu.RUnlock()

	if state != StateOpen {
		return fmt.Errorf("%w: %s link is %s", model.ErrChannelNotReady, l.name, state)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Kind, err)
	}

	delivered := 0
	for _, conn := range conns {
		wctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			l.logger.Printf("Failed to send %s: %v", msg.Kind, err)
			l.removeConn(conn)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("%w: no peer accepted %s", model.ErrChannelNotReady, msg.Kind)
	}
	return nil
}

// Close disconnects every peer and stops the read goroutines.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := l.conns
	l.conns = make(map[*websocket.Conn]string)
	l.mu.Unlock()

	l.cancel()
	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	l.wg.Wait()

	l.notify(StateClosed)
	return nil
}

// readLoop decodes inbound frames until the connection fails. Frames that
// do not decode are logged and dropped.
func (l *Link) readLoop(conn *websocket.Conn, id string) {
	defer l.wg.Done()
	defer l.removeConn(conn)

	for {
		typ, data, err := conn.Read(l.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				l.logger.Printf("Peer %s read failed: %v", id, err)
			}
			return
		}
		if typ != websocket.MessageText {
			l.logger.Printf("Peer %s sent a binary frame (dropped)", id)
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			l.logger.Printf("Peer %s sent a bad frame (dropped): %v", id, err)
			continue
		}
		if l.onMessage != nil {
			l.onMessage(l.ctx, msg)
		}
	}
}

func (l *Link) removeConn(conn *websocket.Conn) {
	l.mu.Lock()
	id, exists := l.conns[conn]
	if !exists {
		l.mu.Unlock()
		return
	}
	delete(l.conns, conn)
	count := len(l.conns)
	after := l.stateLocked()
	l.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	l.logger.Printf("Peer %s disconnected (total: %d)", id, count)
	if after != StateOpen {
		l.notify(after)
	}
}

func (l *Link) notify(s State) {
	if l.onStateChange != nil {
		l.onStateChange(s)
	}
}
