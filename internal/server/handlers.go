// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"net/http"

	"github.com/Tyrowin/chanrelay/internal/transport"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades GET requests and runs the same line protocol as
// the TCP listener, one protocol line per text frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	cfg := s.hub.cfg
	wsConn := transport.NewWSConn(conn, r.RemoteAddr, cfg.MaxMessageSize, cfg.WriteTimeout)
	if err := s.hub.Register(NewClient(wsConn, s.hub)); err != nil {
		s.logger.Warn("rejected websocket session", zap.String("addr", r.RemoteAddr), zap.Error(err))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chanrelay server is running!")
}

func newUpgrader(policy *originPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}
}
