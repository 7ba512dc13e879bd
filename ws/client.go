// Package ws wraps the gorilla WebSocket client behind the small
// connect/send/receive/close surface the ticker engine needs, so tests
// can swap in an in-memory connection.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultHandshakeTimeout = 7 * time.Second

// Frame type constants, mirrored from gorilla so callers do not need to
// import it directly.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Conn is a live WebSocket connection. ReadMessage blocks until the next
// frame arrives or the connection dies.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens WebSocket connections. The handshake must respect ctx
// cancellation and deadlines.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct {
	handshakeTimeout time.Duration
	headers          http.Header
}

// NewDialer returns the production Dialer. Extra headers are sent with the
// upgrade request.
func NewDialer(handshakeTimeout time.Duration, headers map[string]string) Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	h := http.Header{}
	for key, value := range headers {
		h.Set(key, value)
	}
	return &gorillaDialer{handshakeTimeout: handshakeTimeout, headers: h}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
