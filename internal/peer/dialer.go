package peer

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
)

// DialerConfig holds configuration for the primary side of a link.
type DialerConfig struct {
	// URL of the companion's peer endpoint, e.g. ws://127.0.0.1:7420/peer.
	URL string

	// Secret signs pairing tokens. Empty disables authentication.
	Secret []byte

	// PeerName is the subject of issued tokens (default: "primary").
	PeerName string

	// TokenTTL is the lifetime of each pairing token (default: 1h).
	TokenTTL time.Duration

	// DialTimeout bounds each connection attempt (default: 5s).
	DialTimeout time.Duration

	// ReconnectInterval is the wait between attempts (default: 5s).
	ReconnectInterval time.Duration

	// Logger for dial activity (default: stderr logger).
	Logger *log.Logger
}

// Dialer connects a Link to the companion and keeps it connected.
type Dialer struct {
	config DialerConfig
	link   *Link
	logger *log.Logger
}

// NewDialer creates a dialer that attaches connections to link.
func NewDialer(config DialerConfig, link *Link) *Dialer {
	if config.PeerName == "" {
		config.PeerName = "primary"
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dialer] ", log.LstdFlags)
	}

	return &Dialer{
		config: config,
		link:   link,
		logger: logger,
	}
}

// Dial makes one connection attempt.
func (d *Dialer) Dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.DialTimeout)
	defer cancel()

	header := http.Header{}
	if len(d.config.Secret) > 0 {
		token, err := IssueToken(d.config.Secret, d.config.PeerName, d.config.TokenTTL, time.Now())
		if err != nil {
			return err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, d.config.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: companion rejected the pairing token", ErrUnauthorized)
		}
		return fmt.Errorf("failed to dial %s: %w", d.config.URL, err)
	}

	if _, err := d.link.Attach(conn); err != nil {
		return err
	}
	return nil
}

// Run keeps the link connected until ctx is cancelled, retrying every
// ReconnectInterval while no peer is attached.
func (d *Dialer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.ReconnectInterval)
	defer ticker.Stop()

	failures := 0
	for {
		if d.link.State() == StateConnecting {
			if err := d.Dial(ctx); err != nil {
				failures++
				// Log the first failure and then every tenth to keep the log readable.
				if failures == 1 || failures%10 == 0 {
					d.logger.Printf("Companion unreachable (attempt %d): %v", failures, err)
				}
			} else {
				if failures > 0 {
					d.logger.Printf("Connected to companion after %d failed attempts", failures)
				}
				failures = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
