// SPDX-License-Identifier: Apache-2.0

package quicwire

import (
	"context"

	"github.com/quic-go/quic-go"
)

// Connection is the subset of a *quic.Conn the tunnel protocol uses: the
// handshake's control exchange runs over the first bidirectional stream,
// the steady-state bridge opens one bidirectional stream per public
// connection, and the heartbeat rides a unidirectional stream opened by the
// server.
type Connection interface {
	// AcceptStream returns the next bidirectional stream opened by the
	// peer, blocking until one is available.
	AcceptStream(context.Context) (Stream, error)
	// AcceptUniStream returns the next unidirectional stream opened by the
	// peer, blocking until one is available.
	AcceptUniStream(context.Context) (ReceiveStream, error)
	// OpenStream opens a new bidirectional QUIC stream. There is no
	// signaling to the peer about new streams until data is written.
	OpenStream() (Stream, error)
	// OpenUniStream opens a new outgoing unidirectional QUIC stream.
	OpenUniStream() (SendStream, error)
	// CloseWithError closes the connection, sending msg to the peer.
	CloseWithError(quic.ApplicationErrorCode, string) error
	// Context is canceled when the connection closes.
	Context() context.Context
}

// ConnectionWrapper adapts a live *quic.Conn to Connection.
type ConnectionWrapper struct {
	Conn *quic.Conn
}

func (w ConnectionWrapper) AcceptStream(ctx context.Context) (Stream, error) {
	return w.Conn.AcceptStream(ctx)
}

func (w ConnectionWrapper) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	return w.Conn.AcceptUniStream(ctx)
}

func (w ConnectionWrapper) OpenStream() (Stream, error) {
	return w.Conn.OpenStream()
}

func (w ConnectionWrapper) OpenUniStream() (SendStream, error) {
	return w.Conn.OpenUniStream()
}

func (w ConnectionWrapper) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	return w.Conn.CloseWithError(code, msg)
}

func (w ConnectionWrapper) Context() context.Context {
	return w.Conn.Context()
}
