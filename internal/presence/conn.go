package presence

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn defines the socket operations the client relies on.
// This abstraction allows us to mock the relay in tests.
//
//go:generate mockgen -destination=mocks/conn_mock.go -package=mocks github.com/genricoloni/synest-overlay/internal/presence Conn
type Conn interface {
	// ReadJSON blocks until the next frame is decoded into v
	ReadJSON(v any) error

	// WriteJSON encodes v as one text frame
	WriteJSON(v any) error

	// Close closes the underlying connection
	Close() error

	// SetReadDeadline bounds the pending and future reads
	SetReadDeadline(t time.Time) error

	// SetPongHandler is called from the read path for every pong frame
	SetPongHandler(h func(appData string) error)

	// WriteControl sends a control frame such as a ping
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Dialer opens relay connections
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer is the real dialer built on gorilla/websocket
type WSDialer struct {
	dialer *websocket.Dialer
}

// NewWSDialer creates a dialer with a bounded handshake
func NewWSDialer() *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial connects to the relay socket
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}
