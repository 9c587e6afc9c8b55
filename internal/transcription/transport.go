package transcription

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a WebSocket connection the client needs.
type Conn interface {
	// ReadMessage reads the next frame, blocking until one arrives.
	ReadMessage() (messageType int, data []byte, err error)

	// WriteMessage writes a single frame. Not safe for concurrent use;
	// the client serializes writers.
	WriteMessage(messageType int, data []byte) error

	// Close closes the underlying network connection.
	Close() error
}

// Dialer establishes WebSocket connections.
type Dialer interface {
	// DialContext opens a connection to urlStr, negotiating the given
	// subprotocols during the handshake.
	DialContext(ctx context.Context, urlStr string, subprotocols []string) (Conn, error)
}

// wsDialer wraps gorilla/websocket's dialer.
type wsDialer struct {
	handshakeTimeout time.Duration
}

// NewDialer creates the production WebSocket dialer.
func NewDialer() Dialer {
	return &wsDialer{handshakeTimeout: 10 * time.Second}
}

func (d *wsDialer) DialContext(ctx context.Context, urlStr string, subprotocols []string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
		Subprotocols:     subprotocols,
	}

	conn, resp, err := dialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return conn, nil
}
