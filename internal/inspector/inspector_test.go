// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrok-dev/sgrok/internal/trafficlog"
)

func TestHandlerServesSnapshotAsJSON(t *testing.T) {
	log := trafficlog.New()
	log.Append(trafficlog.RequestCycle{
		TimestampIn:  time.Unix(1, 0),
		RequestHead:  trafficlog.Head{Method: "GET", URI: "/foo"},
		TimestampOut: time.Unix(2, 0),
		ResponseHead: trafficlog.Head{Status: 200},
	})

	h := New(log)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var cycles []trafficlog.RequestCycle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, "GET", cycles[0].RequestHead.Method)
	assert.Equal(t, 200, cycles[0].ResponseHead.Status)
}

func TestHandlerEmptyLogServesEmptyArray(t *testing.T) {
	h := New(trafficlog.New())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.JSONEq(t, "[]", rec.Body.String())
}
