// SPDX-License-Identifier: Apache-2.0

package tunnel

import "time"

// ALPN is the protocol negotiated on the QUIC/TLS 1.3 handshake between
// agent and server.
const ALPN = "sgrok"

// HeartbeatPayload is the literal payload of every heartbeat stream.
const HeartbeatPayload = "ping"

// HeartbeatInterval is how often the steady-state heartbeat sender opens a
// new unidirectional stream.
const HeartbeatInterval = 4 * time.Second
