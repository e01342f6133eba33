package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/Tyrowin/chanrelay/internal/transport"
	"go.uber.org/zap"
)

const maxAcceptBackoff = time.Second

// Listener accepts line-protocol connections and hands each one to the hub
// as an independent session.
type Listener struct {
	hub    *Hub
	logger *zap.Logger
}

// NewListener creates a listener that registers sessions with hub.
func NewListener(hub *Hub, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{hub: hub, logger: logger}
}

// Serve accepts connections from ln until ctx is cancelled or ln is closed.
// Accept failures are logged and retried with a short backoff.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			l.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	cfg := l.hub.cfg
	lineConn := transport.NewLineConn(conn, int(cfg.MaxMessageSize), cfg.WriteTimeout)

	client := NewClient(lineConn, l.hub)
	if err := l.hub.Register(client); err != nil {
		l.logger.Warn("rejected connection",
			zap.String("addr", lineConn.RemoteAddr()),
			zap.Error(err),
		)
	}
}
