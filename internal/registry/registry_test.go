// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

func TestRegistryInsertLookupRemove(t *testing.T) {
	r := New()
	id := tunnel.NewID()

	_, ok := r.Lookup(id)
	assert.False(t, ok)

	r.Insert(id, "127.0.0.1:4000")
	addr, ok := r.Lookup(id)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:4000", addr)
	assert.True(t, r.Has(id))
	assert.Equal(t, 1, r.Len())

	r.Remove(id)
	_, ok = r.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := New()
	id := tunnel.NewID()
	r.Remove(id)
	r.Remove(id)
	assert.Equal(t, 0, r.Len())
}
