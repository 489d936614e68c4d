// SPDX-License-Identifier: Apache-2.0

// Package quicwire wraps quic-go's Connection and Stream types behind small
// interfaces so the session and agent client packages can be exercised
// against fakes without a live QUIC handshake.
package quicwire

import (
	"context"
	"time"

	"github.com/quic-go/quic-go"
)

// Stream is the subset of a bidirectional QUIC stream the tunnel protocol
// uses.
type Stream interface {
	StreamID() quic.StreamID
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	CancelRead(code quic.StreamErrorCode)
	CancelWrite(code quic.StreamErrorCode)
	Context() context.Context
	Close() error
	SetDeadline(t time.Time) error
}

// SendStream is a unidirectional send-only stream, used for heartbeats.
type SendStream interface {
	Write(p []byte) (int, error)
	Close() error
}

// ReceiveStream is a unidirectional receive-only stream.
type ReceiveStream interface {
	Read(p []byte) (int, error)
}
