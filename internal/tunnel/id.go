// SPDX-License-Identifier: Apache-2.0

// Package tunnel holds the wire-level identifiers shared by the agent and
// the rendezvous server: the 128-bit tunnel identifier and the mode byte
// negotiated at handshake time.
package tunnel

import (
	"fmt"

	"github.com/google/uuid"
)

// Size is the wire length of an ID, in bytes.
const Size = 16

// ID is the 128-bit identifier assigned by the server at handshake
// completion. In Http mode it also forms the left-most DNS label of the
// public URL.
type ID uuid.UUID

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical string form (the DNS-label form) of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("parse tunnel id %q: %w", s, err)
	}
	return ID(u), nil
}

// DecodeID reads an ID from its 16-byte wire representation.
func DecodeID(b []byte) (ID, error) {
	if len(b) != Size {
		return ID{}, fmt.Errorf("decode tunnel id: want %d bytes, got %d", Size, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Bytes returns the 16-byte wire representation.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String returns the canonical UUID form, used as the DNS label.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}
