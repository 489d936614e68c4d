// SPDX-License-Identifier: Apache-2.0

// Package event holds the listener types Session publishes lifecycle
// notifications through.
package event

import (
	"time"

	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

// Established is published once a Session completes its handshake and
// registers a TunnelId.
type Established struct {
	ID         tunnel.ID
	Mode       tunnel.Mode
	ListenAddr string
	At         time.Time
}

// EstablishedListener is notified of Established events.
type EstablishedListener interface {
	OnEstablished(Established)
}

// EstablishedListenerFunc adapts a function to EstablishedListener.
type EstablishedListenerFunc func(Established)

func (f EstablishedListenerFunc) OnEstablished(e Established) { f(e) }

// Closed is published once a Session tears down, whatever the cause.
type Closed struct {
	ID     tunnel.ID
	Reason error
	At     time.Time
}

// ClosedListener is notified of Closed events.
type ClosedListener interface {
	OnClosed(Closed)
}

// ClosedListenerFunc adapts a function to ClosedListener.
type ClosedListenerFunc func(Closed)

func (f ClosedListenerFunc) OnClosed(c Closed) { f(c) }

// CancelFunc removes a previously registered listener.
type CancelFunc func()
