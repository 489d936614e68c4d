// SPDX-License-Identifier: Apache-2.0

// Package errs collects the sentinel error kinds named in the session
// protocol so callers can classify failures with errors.Is instead of
// string matching.
package errs

import "errors"

var (
	// ErrHandshakeTimeout is returned when accepting the handshake's first
	// bidirectional stream fails (including when the context ends first).
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrHandshakeMalformed is returned when the handshake stream cannot be
	// read or carries no bytes at all. Any mode byte is accepted.
	ErrHandshakeMalformed = errors.New("handshake malformed")

	// ErrAuthMissingKid is returned when a JWT header carries no kid.
	ErrAuthMissingKid = errors.New("jwt missing kid")

	// ErrAuthUnknownKid is returned when no verification key is known for
	// the token's kid.
	ErrAuthUnknownKid = errors.New("jwt unknown kid")

	// ErrAuthInvalidSignature is returned when RS256 verification fails.
	ErrAuthInvalidSignature = errors.New("jwt invalid signature")

	// ErrAuthUnauthorized is returned when a validly-signed token fails the
	// claims-based acceptance rule.
	ErrAuthUnauthorized = errors.New("jwt unauthorized")

	// ErrPortExhaustion is returned when no port in the ephemeral range is
	// free to bind.
	ErrPortExhaustion = errors.New("no ephemeral port available")

	// ErrBridgeIO is returned when the session's ephemeral TCP listener
	// fails to accept a public connection. Errors from the byte copy itself
	// are not wrapped with it.
	ErrBridgeIO = errors.New("bridge io error")

	// ErrQUICTransport is returned for QUIC-layer connection errors outside
	// the handshake and bridging paths.
	ErrQUICTransport = errors.New("quic transport error")

	// The three ErrUpstream kinds name interceptor failures. The interceptor
	// reports those failures as HTTP error responses and does not return or
	// wrap these values.

	// ErrUpstreamRefused names a refused dial to the target port.
	ErrUpstreamRefused = errors.New("upstream connection refused")

	// ErrUpstreamBadURI names a request URI that cannot be built for the
	// target port.
	ErrUpstreamBadURI = errors.New("upstream bad uri")

	// ErrUpstreamBodyRead names a failed read of the request or response
	// body.
	ErrUpstreamBodyRead = errors.New("upstream body read error")
)
