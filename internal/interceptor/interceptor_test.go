// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrok-dev/sgrok/internal/trafficlog"
)

func TestInterceptorRecordsCompletedCycle(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Hello, World!"))
	}))
	defer target.Close()

	targetURL, err := url.Parse(target.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(targetURL.Port())
	require.NoError(t, err)

	log := trafficlog.New()
	ic := New(port, log, nil)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "Hello, World!", string(body))
	assert.Empty(t, rec.Header().Get("Content-Length"))

	require.Equal(t, 1, log.Len())
	cycle := log.Snapshot()[0]
	assert.Equal(t, "GET", cycle.RequestHead.Method)
	assert.Equal(t, http.StatusOK, cycle.ResponseHead.Status)
	assert.Equal(t, "Hello, World!", string(cycle.ResponseBody))
	assert.False(t, cycle.TimestampOut.Before(cycle.TimestampIn))
}

func TestInterceptorRefusedTargetReturns404(t *testing.T) {
	log := trafficlog.New()
	ic := New(1, log, nil) // nothing listens on port 1

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, log.Len())
}
