// SPDX-License-Identifier: Apache-2.0

// Package keystore implements C1: a live-refreshed cache of JWT
// verification keys, keyed by kid, fetched from a set of JWKS endpoints.
package keystore

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/xmidt-org/eventor"

	"github.com/sgrok-dev/sgrok/internal/keystore/event"
)

var (
	// ErrNoValidKeys is returned internally when a JWKS document contains no
	// usable RSA signing keys; it never escapes the refresh loop.
	ErrNoValidKeys = errors.New("jwks: no valid rsa signing keys")

	maxAgeRE = regexp.MustCompile(`max-age=(\d+)`)
)

const (
	// DefaultTTL is used when a JWKS response has no parseable Cache-Control
	// max-age.
	DefaultTTL = 5 * time.Minute

	// RetryDelay is the sleep between refresh attempts after a failure.
	RetryDelay = 10 * time.Second

	fetchTimeout = 10 * time.Second
)

type jwksDoc struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Store holds the current verification keys and runs the background refresh
// loop, one task per configured endpoint.
type Store struct {
	m    sync.RWMutex
	keys map[string]*rsa.PublicKey

	endpoints []string
	client    *http.Client
	now       func() time.Time

	fetchListeners eventor.Eventor[event.FetchListener]

	wg       sync.WaitGroup
	shutdown context.CancelFunc
	runM     sync.Mutex
}

// New creates a Store for the given JWKS endpoint URLs. The store holds no
// keys and satisfies no lookups until Start is called.
func New(endpoints []string) *Store {
	return &Store{
		keys:      make(map[string]*rsa.PublicKey),
		endpoints: append([]string(nil), endpoints...),
		client:    &http.Client{Timeout: fetchTimeout},
		now:       time.Now,
	}
}

// AddFetchListener registers a listener called after every refresh attempt.
func (s *Store) AddFetchListener(l event.FetchListener) event.CancelFunc {
	return event.CancelFunc(s.fetchListeners.Add(l))
}

// Lookup returns the verification key for kid, if known. It is a
// constant-time read under a shared-read lock.
func (s *Store) Lookup(kid string) (*rsa.PublicKey, bool) {
	s.m.RLock()
	defer s.m.RUnlock()
	k, ok := s.keys[kid]
	return k, ok
}

// Start launches the refresh_loop: one goroutine per configured endpoint.
func (s *Store) Start() {
	s.runM.Lock()
	defer s.runM.Unlock()

	if s.shutdown != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.shutdown = cancel

	for _, ep := range s.endpoints {
		s.wg.Add(1)
		go s.refreshLoop(ctx, ep)
	}
}

// Stop cancels the refresh loops and waits for them to exit.
func (s *Store) Stop() {
	s.runM.Lock()
	cancel := s.shutdown
	s.runM.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// refreshLoop fetches the JWKS document at endpoint, upserts its keys, and
// sleeps for the derived TTL before repeating. On failure it sleeps
// RetryDelay and retries. Failures are reported only via fetch listeners;
// they are never surfaced to Lookup callers.
func (s *Store) refreshLoop(ctx context.Context, endpoint string) {
	defer s.wg.Done()

	for {
		n, ttl, err := s.fetchOnce(ctx, endpoint)

		s.fetchListeners.Visit(func(l event.FetchListener) {
			l.OnFetch(event.Fetch{Endpoint: endpoint, At: s.now(), KeyCount: n, Err: err})
		})

		wait := ttl
		if err != nil {
			wait = RetryDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Store) fetchOnce(ctx context.Context, endpoint string) (keyCount int, ttl time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("jwks endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("read jwks body: %w", err)
	}

	var doc jwksDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, 0, fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := decodeRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	if len(keys) == 0 {
		return 0, 0, ErrNoValidKeys
	}

	s.m.Lock()
	for kid, pub := range keys {
		s.keys[kid] = pub
	}
	s.m.Unlock()

	return len(keys), ttlFromCacheControl(resp.Header.Get("Cache-Control")), nil
}

func decodeRSAKey(k jwkKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus for kid %s: %w", k.Kid, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent for kid %s: %w", k.Kid, err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func ttlFromCacheControl(header string) time.Duration {
	m := maxAgeRE.FindStringSubmatch(header)
	if len(m) != 2 {
		return DefaultTTL
	}
	seconds, err := time.ParseDuration(m[1] + "s")
	if err != nil {
		return DefaultTTL
	}
	return seconds
}
