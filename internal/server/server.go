// Package server constructs and runs the relay: the TCP line-protocol
// listener plus the optional HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Server owns the hub and every listener feeding it.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	registry *prometheus.Registry
	hub      *Hub
	listener *Listener
	upgrader websocket.Upgrader

	mu       sync.Mutex
	tcpLn    net.Listener
	httpLn   net.Listener
	http     *http.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	shutdown bool
}

// NewServer builds a server from cfg. Zero-valued settings fall back to
// their defaults.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.sanitize()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := NewHub(cfg, logger.Named("hub"), NewMetrics(registry))
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		hub:      hub,
		listener: NewListener(hub, logger.Named("listener")),
	}
	s.upgrader = newUpgrader(newOriginPolicy(cfg.AllowedOrigins, logger.Named("http")))
	return s
}

// Hub returns the server's channel registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the TCP listener and, when configured, the HTTP listener, then
// serves both in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	tcpLn, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = tcpLn.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.tcpLn = tcpLn
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.listener.Serve(ctx, tcpLn)
	}()

	if httpLn != nil {
		s.httpLn = httpLn
		s.http = CreateServer(s.cfg.HTTPAddr, s.Routes())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("http listening", zap.String("addr", httpLn.Addr().String()))
			if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// Addr returns the bound TCP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpLn == nil {
		return nil
	}
	return s.tcpLn.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when HTTP is disabled.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Shutdown stops accepting connections, closes every session and waits for
// all goroutines. It returns context.DeadlineExceeded if sessions are still
// running when the configured timeout elapses.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if !s.started || s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.cancel()
	tcpLn, httpServer := s.tcpLn, s.http
	s.mu.Unlock()

	s.logger.Info("shutting down")
	timeout := s.cfg.ShutdownTimeout

	var errs []error
	if err := tcpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close tcp listener: %w", err))
	}
	if httpServer != nil {
		if err := shutdownHTTP(httpServer, timeout); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}
	s.wg.Wait()

	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("shutdown hub: %w", err))
	}

	s.logger.Info("shutdown complete", zap.Duration("timeout", timeout))
	return errors.Join(errs...)
}
