package server

import (
	"errors"
	"strings"
)

var (
	ErrChannelExists   = errors.New("channel already exists")
	ErrChannelNotFound = errors.New("channel does not exist")
	ErrNotInChannel    = errors.New("not in a channel")
	ErrUserNotFound    = errors.New("user not found")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrClientClosed    = errors.New("client closed")
	ErrServerClosed    = errors.New("server closed")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "io: read/write on closed pipe") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
