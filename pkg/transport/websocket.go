package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDial connects through a web chat gateway instead of raw TCP.
// Name resolution stays with the Resolver: the returned DialFunc pins the
// underlying TCP connection to the endpoint being attempted while keeping
// the gateway URL's hostname for the handshake and TLS.
func WebSocketDial(gatewayURL string, timeout time.Duration) (DialFunc, error) {
	if _, err := url.Parse(gatewayURL); err != nil {
		return nil, err
	}

	return func(ctx context.Context, ep Endpoint) (Conn, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout: timeout,
			NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				d := &net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, network, ep.Addr())
			},
		}

		ws, _, err := dialer.DialContext(ctx, gatewayURL, nil)
		if err != nil {
			return nil, err
		}

		return &wsLineConn{ws: ws}, nil
	}, nil
}

// wsLineConn adapts a message-framed WebSocket connection to the
// byte-stream Conn the Listener reads lines from. Gateways forward one or
// more protocol lines per text message.
type wsLineConn struct {
	ws      *websocket.Conn
	current io.Reader
}

func (c *wsLineConn) Read(p []byte) (int, error) {
	for {
		if c.current == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				return 0, c.mapCloseError(err)
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			c.current = r
		}

		n, err := c.current.Read(p)
		if err == io.EOF {
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsLineConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsLineConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsLineConn) Close() error {
	return c.ws.Close()
}

// mapCloseError turns an expected WebSocket close into the plain EOF the
// Listener's error taxonomy understands.
func (c *wsLineConn) mapCloseError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}
