// Package domain contains core concepts of the chat broker.
// This file defines the Session binding between a user and a live connection.
package domain

import (
	"time"
)

// Connection is the transport-side handle a session is bound to. The broker
// never inspects the underlying socket; it only writes frames and observes
// the open/closed state.
type Connection interface {
	// Send writes one serialized frame. It must be safe for concurrent use.
	Send(frame []byte) error
	// IsOpen reports whether the connection can still accept frames.
	IsOpen() bool
	// Close tears the connection down. Idempotent.
	Close() error
}

// Session is the live binding between a userId and one open connection.
// At most one session exists per userId at any instant.
type Session struct {
	UserID       string
	Conn         Connection
	ConnectedAt  time.Time
	LastActivity time.Time
}
