// Package server constructs the ops HTTP service with helpers that apply
// production timeouts.
package server

import (
	"context"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server with the specified address and handler.
// WriteTimeout is left unset because upgraded WebSocket sessions outlive any
// single response.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// shutdownHTTP stops accepting HTTP requests and waits for in-flight ones
// until the timeout elapses.
func shutdownHTTP(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return server.Shutdown(ctx)
}
