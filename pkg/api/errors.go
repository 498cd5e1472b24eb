// Package api provides the HTTP and WebSocket surface of the oracle node.
package api

import "errors"

var (
	// ErrBroadcastDropped indicates the stream hub's queue was full.
	ErrBroadcastDropped = errors.New("websocket broadcast queue full")
)
