// SPDX-License-Identifier: Apache-2.0

// Package event holds the listener types Client publishes connection
// lifecycle notifications through.
package event

import "time"

// Connected is published once the agent completes its handshake with the
// rendezvous server.
type Connected struct {
	PublicURL string
	At        time.Time
}

// ConnectedListener is notified of Connected events.
type ConnectedListener interface {
	OnConnected(Connected)
}

// ConnectedListenerFunc adapts a function to ConnectedListener.
type ConnectedListenerFunc func(Connected)

func (f ConnectedListenerFunc) OnConnected(c Connected) { f(c) }

// Disconnected is published whenever the steady-state connection to the
// server ends, whether cleanly or not.
type Disconnected struct {
	Err error
	At  time.Time
}

// DisconnectedListener is notified of Disconnected events.
type DisconnectedListener interface {
	OnDisconnected(Disconnected)
}

// DisconnectedListenerFunc adapts a function to DisconnectedListener.
type DisconnectedListenerFunc func(Disconnected)

func (f DisconnectedListenerFunc) OnDisconnected(d Disconnected) { f(d) }

// Heartbeat is published each time a "ping" payload arrives on a
// unidirectional stream.
type Heartbeat struct {
	At time.Time
}

// HeartbeatListener is notified of Heartbeat events.
type HeartbeatListener interface {
	OnHeartbeat(Heartbeat)
}

// HeartbeatListenerFunc adapts a function to HeartbeatListener.
type HeartbeatListenerFunc func(Heartbeat)

func (f HeartbeatListenerFunc) OnHeartbeat(h Heartbeat) { f(h) }

// CancelFunc removes a previously registered listener.
type CancelFunc func()
