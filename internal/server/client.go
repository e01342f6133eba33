// Package server manages individual relay sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/chanrelay/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pingPeriod must stay below the WebSocket read deadline.
const pingPeriod = 54 * time.Second

// State is the lifecycle position of a session.
type State int

const (
	StateConnected State = iota
	StateInChannel
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInChannel:
		return "in_channel"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Client is the server side of one connection: identity, current channel,
// and a bounded queue of outbound lines drained by its own write pump.
type Client struct {
	id   string
	seq  uint64
	conn transport.Conn
	hub  *Hub
	addr string

	send       chan []string
	sendMu     sync.RWMutex
	sendClosed bool

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	nickname string
	channel  string
	state    State

	rateLimiter *rateLimiter
	logger      *zap.Logger
}

// NewClient creates a session for conn with a default nickname derived from
// the peer address. The client does nothing until the hub registers it.
func NewClient(conn transport.Conn, hub *Hub) *Client {
	addr := conn.RemoteAddr()
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		send:        make(chan []string, hub.cfg.SendQueueSize),
		done:        make(chan struct{}),
		nickname:    defaultNickname(addr),
		state:       StateConnected,
		rateLimiter: newRateLimiter(hub.cfg.RateLimit.Burst, hub.cfg.RateLimit.RefillInterval),
		logger:      hub.logger.Named("client").With(zap.String("session_id", id), zap.String("addr", addr)),
	}
}

// defaultNickname is "User" followed by the peer's port, or the whole address
// when it has no port.
func defaultNickname(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil && port != "" {
		return "User" + port
	}
	return "User" + addr
}

// ID returns the session's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Nickname returns the current display name.
func (c *Client) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

// SetNickname renames the session and returns the previous name.
func (c *Client) SetNickname(nick string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.nickname
	c.nickname = nick
	return old
}

// Channel returns the current channel name, or "" when not in one.
func (c *Client) Channel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// State returns the session's lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) enterChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return
	}
	c.channel = name
	c.state = StateInChannel
}

func (c *Client) leaveChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != name {
		return
	}
	c.channel = ""
	if c.state == StateInChannel {
		c.state = StateConnected
	}
}

// enqueue pushes lines onto the outbound queue as one batch without blocking.
func (c *Client) enqueue(lines ...string) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.sendClosed {
		return ErrClientClosed
	}
	select {
	case c.send <- lines:
		return nil
	default:
		return ErrQueueFull
	}
}

// reply sends a response line to this client only.
func (c *Client) reply(line string) {
	_ = c.hub.Deliver(c, line)
}

// closeSend closes the outbound queue once; the write pump drains what is
// left and then closes the connection.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// kick closes the connection so that the read pump fails and terminates the
// session through the usual path.
func (c *Client) kick() {
	c.closeOnce.Do(func() { close(c.done) })
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error closing connection", zap.Error(err))
	}
}

// terminate moves the session to Terminated and releases its channel
// membership and outbound queue.
func (c *Client) terminate() {
	c.hub.disconnect(c)

	c.mu.Lock()
	c.state = StateTerminated
	c.channel = ""
	c.mu.Unlock()

	c.closeSend()
}

// handleReadError logs the reason a read pump is stopping.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, transport.ErrFrameTooLarge):
		c.logger.Warn("line exceeded maximum size", zap.Int64("max_bytes", c.hub.cfg.MaxMessageSize))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Info("client disconnected")
	default:
		c.logger.Warn("read error", zap.Error(err))
	}
}

// throttle holds the line just read until the rate limiter grants it. It
// returns false when the session is closed while waiting.
func (c *Client) throttle() bool {
	delay := c.rateLimiter.reserve()
	if delay <= 0 {
		return true
	}
	c.logger.Debug("rate limit reached; delaying line", zap.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.done:
		return false
	}
}

// readPump processes inbound lines one at a time until the peer goes away or
// the session quits.
func (c *Client) readPump() {
	defer c.terminate()

	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.throttle() {
			return
		}

		if !c.hub.router.Dispatch(c, line) {
			return
		}
	}
}

// writePump drains the outbound queue onto the connection. It owns closing
// the connection once the queue is closed or a write fails.
func (c *Client) writePump() {
	var tick <-chan time.Time
	if _, ok := c.conn.(transport.Pinger); ok {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.kick()

	for c.processWriteEvent(tick) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(tick <-chan time.Time) bool {
	select {
	case lines, ok := <-c.send:
		if !ok {
			return false
		}
		return c.writeLines(lines)
	case <-tick:
		return c.handlePing()
	}
}

// writeLines writes lines plus anything already queued behind them in a
// single flush.
func (c *Client) writeLines(lines []string) bool {
	open := true
	for n := len(c.send); n > 0; n-- {
		more, ok := <-c.send
		if !ok {
			open = false
			break
		}
		lines = append(lines, more...)
	}

	if err := c.conn.WriteLines(lines...); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write error", zap.Error(err))
		}
		return false
	}
	return open
}

// handlePing sends a keep-alive on connections that need one.
func (c *Client) handlePing() bool {
	pinger, ok := c.conn.(transport.Pinger)
	if !ok {
		return true
	}
	if err := pinger.Ping(); err != nil {
		c.logger.Warn("ping failed", zap.Error(err))
		return false
	}
	return true
}
