package conn

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// Socket is one live message-oriented connection.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens sockets to the peer.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebsocketDialer dials text websockets.
type WebsocketDialer struct {
	HTTPClient *http.Client
	// ReadLimit caps inbound frame size; registry pushes are larger than
	// the library default.
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return wsSocket{c: c}, nil
}

type wsSocket struct {
	c *websocket.Conn
}

func (s wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.c.Read(ctx)
	return data, err
}

func (s wsSocket) Write(ctx context.Context, frame []byte) error {
	return s.c.Write(ctx, websocket.MessageText, frame)
}

func (s wsSocket) Close() error {
	return s.c.Close(websocket.StatusNormalClosure, "bye")
}

// NormalizeURL turns an http(s) base address into the peer's websocket
// endpoint: http -> ws, https -> wss, and a trailing /ws.
func NormalizeURL(raw string) string {
	u := raw
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	}
	u = strings.TrimRight(u, "/")
	if !strings.HasSuffix(u, "/ws") {
		u += "/ws"
	}
	return u
}
