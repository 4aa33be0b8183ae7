package peer

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// AcceptHandler returns the HTTP handler that upgrades an authorized
// request to a websocket and attaches it to l.
func (l *Link) AcceptHandler(secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := Authorize(secret, r)
		if err != nil {
			l.logger.Printf("Rejected peer from %s: %v", r.RemoteAddr, err)
			status := http.StatusUnauthorized
			if !errors.Is(err, ErrUnauthorized) {
				status = http.StatusInternalServerError
			}
			http.Error(w, err.Error(), status)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The peer is a native client, not a browser page.
			InsecureSkipVerify: true,
		})
		if err != nil {
			l.logger.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		id, err := l.Attach(conn)
		if err != nil {
			l.logger.Printf("Failed to attach peer: %v", err)
			return
		}
		if claims != nil {
			l.logger.Printf("Peer %s authorized as %s (token %s)", id, claims.Peer, claims.Id)
		}
	}
}
