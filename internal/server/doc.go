// Package server implements the channel relay: a TCP line-protocol listener,
// an optional WebSocket gateway, the channel registry with history replay,
// and the command router that drives them.
//
// The implementation is organized into specialized files for configuration,
// hub and channel state, clients, command routing, listeners and HTTP
// handlers.
package server
