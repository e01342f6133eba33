// Package server coordinates client registration, the channel registry, and
// broadcast delivery for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	leftNoticeFmt         = "%s has left the channel."
	joinedNoticeFmt       = "%s has joined the channel."
	disconnectedNoticeFmt = "%s has disconnected."
	joinedChannelFmt      = "Joined channel '%s'"
)

// Hub owns every channel and every live client. Channel state is guarded per
// channel; the hub lock only protects the name and client maps.
type Hub struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	router  *Router
	now     func() time.Time

	mu       sync.RWMutex
	channels map[string]*Channel
	order    []string
	clients  map[*Client]struct{}
	nextSeq  uint64
	closed   bool

	wg sync.WaitGroup
}

// NewHub creates an empty hub. A nil logger or metrics set is replaced by a
// no-op logger and an unregistered metrics set.
func NewHub(cfg Config, logger *zap.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	h := &Hub{
		cfg:      cfg.sanitize(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		channels: make(map[string]*Channel),
		clients:  make(map[*Client]struct{}),
	}
	h.router = newRouter(h)
	return h
}

// Register tracks c, greets it and starts its read and write pumps. It
// returns immediately; the pumps run until the session terminates.
func (h *Hub) Register(c *Client) error {
	if err := h.add(c, 2); err != nil {
		_ = c.conn.Close()
		return err
	}

	c.reply(welcomeMessage)

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return nil
}

// add tracks c and reserves pumps goroutines on the shutdown wait group. The
// reservation happens under the lock so it cannot race Shutdown's Wait.
func (h *Hub) add(c *Client, pumps int) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrServerClosed
	}
	h.wg.Add(pumps)
	h.nextSeq++
	c.seq = h.nextSeq
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.sessionsActive.Inc()
	h.logger.Info("client registered",
		zap.String("session_id", c.id),
		zap.String("addr", c.addr),
		zap.String("nickname", c.Nickname()),
		zap.Int("clients", count),
	)
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.sessionsActive.Dec()
	h.logger.Info("client unregistered",
		zap.String("session_id", c.id),
		zap.String("addr", c.addr),
		zap.Int("clients", count),
	)
}

// Create allocates an empty channel. It fails with ErrChannelExists when the
// name is taken and leaves the existing channel untouched.
func (h *Hub) Create(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[name]; ok {
		return fmt.Errorf("create %q: %w", name, ErrChannelExists)
	}
	h.channels[name] = newChannel(name)
	h.order = append(h.order, name)
	h.metrics.channels.Inc()
	return nil
}

// Channel looks up a channel by name.
func (h *Hub) Channel(name string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[name]
	return ch, ok
}

// Channels lists channel names in creation order.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]string(nil), h.order...)
}

// Join moves c into the named channel. A previous channel is left first with
// a notice to its remaining members. The joiner then receives the full
// history and a confirmation, and the other members a joined notice.
func (h *Hub) Join(c *Client, name string) ([]Message, error) {
	ch, ok := h.Channel(name)
	if !ok {
		return nil, fmt.Errorf("join %q: %w", name, ErrChannelNotFound)
	}

	nick := c.Nickname()
	if prev := c.Channel(); prev != "" {
		if h.Leave(c, prev) {
			h.Broadcast(prev, fmt.Sprintf(leftNoticeFmt, nick), c)
		}
	}

	history, err := ch.join(c, fmt.Sprintf(joinedChannelFmt, name))
	c.enterChannel(name)
	if err != nil {
		h.handleFailures(name, []deliveryFailure{{client: c, err: err}})
	}

	h.Broadcast(name, fmt.Sprintf(joinedNoticeFmt, nick), c)
	h.logger.Debug("client joined channel",
		zap.String("session_id", c.id),
		zap.String("channel", name),
		zap.Int("replayed", len(history)),
	)
	return history, nil
}

// Leave removes c from the named channel. It is a no-op when c is not a
// member and reports whether anything changed.
func (h *Hub) Leave(c *Client, name string) bool {
	removed := false
	if ch, ok := h.Channel(name); ok {
		removed = ch.leave(c)
	}
	c.leaveChannel(name)
	return removed
}

// Post appends msg to the channel history and delivers it to every member
// except exclude.
func (h *Hub) Post(name string, msg Message, exclude *Client) error {
	ch, ok := h.Channel(name)
	if !ok {
		return fmt.Errorf("post to %q: %w", name, ErrChannelNotFound)
	}
	h.metrics.messages.WithLabelValues(msg.Kind.String()).Inc()
	h.handleFailures(name, ch.post(msg, exclude))
	return nil
}

// Broadcast delivers a notice line to every member except exclude without
// recording it in history.
func (h *Hub) Broadcast(name, line string, exclude *Client) {
	ch, ok := h.Channel(name)
	if !ok {
		return
	}
	h.handleFailures(name, ch.notify(line, exclude))
}

// Replay returns the channel's full history in append order.
func (h *Hub) Replay(name string) ([]Message, error) {
	ch, ok := h.Channel(name)
	if !ok {
		return nil, fmt.Errorf("replay %q: %w", name, ErrChannelNotFound)
	}
	return ch.History(), nil
}

// FindByNickname returns the longest-connected live client using nick.
// Nicknames are not unique; only that one client is ever returned.
func (h *Hub) FindByNickname(nick string) (*Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var found *Client
	for c := range h.clients {
		if c.Nickname() != nick {
			continue
		}
		if found == nil || c.seq < found.seq {
			found = c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("find %q: %w", nick, ErrUserNotFound)
	}
	return found, nil
}

// Deliver queues line directly to c, outside of any channel.
func (h *Hub) Deliver(c *Client, line string) error {
	if err := c.enqueue(line); err != nil {
		h.handleFailures("", []deliveryFailure{{client: c, err: err}})
		return err
	}
	return nil
}

// disconnect runs the channel side of session termination.
func (h *Hub) disconnect(c *Client) {
	nick := c.Nickname()
	if name := c.Channel(); name != "" {
		if h.Leave(c, name) {
			h.Broadcast(name, fmt.Sprintf(disconnectedNoticeFmt, nick), c)
		}
	}
	h.unregister(c)
}

// handleFailures logs failed deliveries. A member whose queue is full gets
// its connection closed; its own read pump then runs the normal cleanup.
func (h *Hub) handleFailures(channel string, failures []deliveryFailure) {
	for _, f := range failures {
		if errors.Is(f.err, ErrClientClosed) {
			h.logger.Debug("skipped delivery to closing client",
				zap.String("session_id", f.client.id),
				zap.String("channel", channel),
			)
			continue
		}

		h.metrics.deliveryFailures.Inc()
		h.logger.Warn("delivery failed; dropping slow client",
			zap.String("session_id", f.client.id),
			zap.String("addr", f.client.addr),
			zap.String("channel", channel),
			zap.Error(f.err),
		)
		go f.client.kick()
	}
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Shutdown closes every client connection and waits for their pumps to
// finish, or returns context.DeadlineExceeded once timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closed = true
	clients := lo.Keys(h.clients)
	h.mu.Unlock()

	h.logger.Info("closing client connections", zap.Int("clients", len(clients)))
	for _, c := range clients {
		c.kick()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out; some sessions may still be running")
		return context.DeadlineExceeded
	}
}
