package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"comfy-relay/server/internal/interfaces"
)

const handshakeTimeout = 10 * time.Second

// WebsocketDialer opens upstream event stream connections with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1 << 16,
		},
		header: http.Header{
			"User-Agent": {"comfy-relay"},
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (interfaces.FrameConn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to websocket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadFrame() (interfaces.Frame, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return interfaces.Frame{}, err
		}
		switch messageType {
		case websocket.TextMessage:
			return interfaces.Frame{Kind: interfaces.TextFrame, Data: data}, nil
		case websocket.BinaryMessage:
			return interfaces.Frame{Kind: interfaces.BinaryFrame, Data: data}, nil
		}
	}
}

// Close is safe to call more than once.
func (c *websocketConn) Close() error {
	return c.conn.Close()
}
