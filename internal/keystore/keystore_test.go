// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrok-dev/sgrok/internal/keystore/event"
)

func TestTTLFromCacheControl(t *testing.T) {
	assert.Equal(t, 60*time.Second, ttlFromCacheControl("public, max-age=60"))
	assert.Equal(t, DefaultTTL, ttlFromCacheControl(""))
	assert.Equal(t, DefaultTTL, ttlFromCacheControl("no-cache"))
}

func TestStoreLookupMissing(t *testing.T) {
	s := New(nil)
	_, ok := s.Lookup("missing")
	assert.False(t, ok)
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func intToBytes(e int) []byte {
	b := big.NewInt(int64(e)).Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}

func TestStoreRefreshesAndServesLookup(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		doc := jwksDoc{Keys: []jwkKey{{
			Kid: "kid-1",
			Kty: "RSA",
			Use: "sig",
			N:   b64url(priv.PublicKey.N.Bytes()),
			E:   b64url(intToBytes(priv.PublicKey.E)),
		}}}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	s := New([]string{srv.URL})

	fetched := make(chan struct{}, 1)
	s.AddFetchListener(event.FetchListenerFunc(func(event.Fetch) { fetched <- struct{}{} }))

	s.Start()
	defer s.Stop()

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for refresh")
	}

	key, ok := s.Lookup("kid-1")
	require.True(t, ok)
	assert.Equal(t, priv.PublicKey.N, key.N)
	assert.Equal(t, priv.PublicKey.E, key.E)

	_, ok = s.Lookup("unknown-kid")
	assert.False(t, ok)
}
