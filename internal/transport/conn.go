// Package transport frames the relay's line protocol over byte streams and
// WebSocket connections.
package transport

import "errors"

// ErrFrameTooLarge is returned by ReadLine when a peer sends a line longer
// than the configured maximum.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

// Conn is a message-framed connection carrying one protocol line per frame.
type Conn interface {
	// ReadLine blocks until the next complete line arrives. The delimiter is
	// not included.
	ReadLine() (string, error)
	// WriteLines writes every line as its own frame and flushes once.
	WriteLines(lines ...string) error
	Close() error
	RemoteAddr() string
}

// Pinger is implemented by connections that need an application-level
// keep-alive from the write side.
type Pinger interface {
	Ping() error
}
