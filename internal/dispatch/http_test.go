// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrok-dev/sgrok/internal/registry"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

func TestDispatcherUnknownTunnelReturns404(t *testing.T) {
	d := New(registry.New(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://00000000-0000-0000-0000-000000000000.localhost:3000/", nil)
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "No active client found\n", string(body))
}

func TestDispatcherFallsBackOnUnparseableHost(t *testing.T) {
	d := New(registry.New(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://localhost:3000/", nil)
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDispatcherProxiesToRegisteredTunnel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Hello, World!"))
	}))
	defer upstream.Close()

	reg := registry.New()
	id := tunnel.NewID()
	reg.Insert(id, upstream.Listener.Addr().String())

	d := New(reg, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://"+id.String()+".localhost:3000/", nil)
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "Hello, World!", string(body))
}
