package transport

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pongWait is how long a WebSocket peer may stay silent, pongs included,
// before the read side gives up.
const pongWait = 60 * time.Second

// WSConn carries one protocol line per WebSocket text frame.
type WSConn struct {
	conn         *websocket.Conn
	addr         string
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewWSConn wraps an upgraded connection. addr is the peer address reported
// by the HTTP request, which survives proxies better than conn.RemoteAddr.
func NewWSConn(conn *websocket.Conn, addr string, maxLine int64, writeTimeout time.Duration) *WSConn {
	if maxLine > 0 {
		conn.SetReadLimit(maxLine)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &WSConn{
		conn:         conn,
		addr:         addr,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next text frame. Binary frames are skipped and a frame
// over the read limit yields ErrFrameTooLarge.
func (c *WSConn) ReadLine() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", ErrFrameTooLarge
			}
			return "", err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (c *WSConn) WriteLines(lines ...string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, line := range lines {
		if err := c.setWriteDeadline(); err != nil {
			return err
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return err
		}
	}
	return nil
}

// Ping sends a control ping; the peer's pong extends the read deadline.
func (c *WSConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.setWriteDeadline(); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a best-effort close frame before dropping the connection.
// WriteControl is safe to call alongside a blocked writer.
func (c *WSConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *WSConn) RemoteAddr() string {
	if c.addr != "" {
		return c.addr
	}
	return c.conn.RemoteAddr().String()
}

func (c *WSConn) setWriteDeadline() error {
	if c.writeTimeout <= 0 {
		return nil
	}
	return c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
}
