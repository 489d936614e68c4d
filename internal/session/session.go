// SPDX-License-Identifier: Apache-2.0

// Package session implements C3: the per-agent server-side state machine,
// covering handshake, registration, steady-state bridging, and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xmidt-org/eventor"
	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/auth"
	"github.com/sgrok-dev/sgrok/internal/bridge"
	"github.com/sgrok-dev/sgrok/internal/errs"
	"github.com/sgrok-dev/sgrok/internal/keystore"
	"github.com/sgrok-dev/sgrok/internal/quicwire"
	"github.com/sgrok-dev/sgrok/internal/registry"
	"github.com/sgrok-dev/sgrok/internal/session/event"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

const (
	// maxHandshakeBytes is the practical ceiling on a JWT plus its one mode
	// byte.
	maxHandshakeBytes = 8192

	// rejectCode is the QUIC application error code used to close a
	// connection that failed the handshake or auth gate.
	rejectCode = 1

	portProbeStart = 1025
	portProbeEnd   = 65535
)

// Session is one connected agent: it owns the handshake, the heartbeat, the
// ephemeral TCP listener, and the per-request bridging tasks that multiplex
// over a single QUIC connection.
type Session struct {
	conn     quicwire.Connection
	registry *registry.Registry
	keys     *keystore.Store
	rules    auth.Rules
	logger   *zap.Logger
	now      func() time.Time

	establishedListeners eventor.Eventor[event.EstablishedListener]
	closedListeners      eventor.Eventor[event.ClosedListener]

	mu       sync.Mutex
	id       tunnel.ID
	mode     tunnel.Mode
	listener *net.TCPListener
}

// Option configures a Session at construction time.
type Option interface {
	apply(*Session)
}

type optionFunc func(*Session)

func (f optionFunc) apply(s *Session) { f(s) }

// WithLogger sets the logger used for session lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(s *Session) { s.logger = l })
}

// WithNow overrides the session's clock, for tests.
func WithNow(now func() time.Time) Option {
	return optionFunc(func(s *Session) { s.now = now })
}

// New creates a Session bound to an already-accepted QUIC connection. reg and
// keys are shared across all sessions; rules is the auth gate configuration
// snapshot.
func New(conn quicwire.Connection, reg *registry.Registry, keys *keystore.Store, rules auth.Rules, opts ...Option) *Session {
	s := &Session{
		conn:     conn,
		registry: reg,
		keys:     keys,
		rules:    rules,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o.apply(s)
	}
	return s
}

// AddEstablishedListener registers l to be notified when the session
// completes its handshake.
func (s *Session) AddEstablishedListener(l event.EstablishedListener) event.CancelFunc {
	return event.CancelFunc(s.establishedListeners.Add(l))
}

// AddClosedListener registers l to be notified when the session tears down.
func (s *Session) AddClosedListener(l event.ClosedListener) event.CancelFunc {
	return event.CancelFunc(s.closedListeners.Add(l))
}

// Run drives the session end to end: handshake, registration, steady state,
// teardown. It returns once the session has fully torn down; the returned
// error is nil only if the connection closed cleanly with no protocol
// violation.
func (s *Session) Run(ctx context.Context) error {
	listener, err := s.handshake(ctx)
	if err != nil {
		s.closedListeners.Visit(func(l event.ClosedListener) { l.OnClosed(event.Closed{ID: s.id, Reason: err, At: s.now()}) })
		return err
	}

	s.mu.Lock()
	s.listener = listener
	id := s.id
	mode := s.mode
	s.mu.Unlock()

	s.registry.Insert(id, listener.Addr().String())
	s.establishedListeners.Visit(func(l event.EstablishedListener) {
		l.OnEstablished(event.Established{ID: id, Mode: mode, ListenAddr: listener.Addr().String(), At: s.now()})
	})
	s.logger.Info("session established", zap.String("tunnel_id", id.String()), zap.String("mode", mode.String()))

	runErr := s.steadyState(ctx, listener)

	s.registry.Remove(id)
	_ = listener.Close()
	_ = s.conn.CloseWithError(0, "session closed")
	s.closedListeners.Visit(func(l event.ClosedListener) { l.OnClosed(event.Closed{ID: id, Reason: runErr, At: s.now()}) })
	s.logger.Info("session closed", zap.String("tunnel_id", id.String()), zap.Error(runErr))

	return runErr
}

// handshake performs the server side of the wire handshake described in
// §4.4/§6: read mode+token off the first bidirectional stream, bind an
// ephemeral listener, run the auth gate, and write the response.
func (s *Session) handshake(ctx context.Context) (*net.TCPListener, error) {
	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrHandshakeTimeout, err)
	}

	data, err := io.ReadAll(io.LimitReader(stream, maxHandshakeBytes+1))
	if err != nil {
		s.failHandshake(stream, errs.ErrHandshakeMalformed)
		return nil, errs.ErrHandshakeMalformed
	}
	if len(data) < 1 {
		s.failHandshake(stream, errs.ErrHandshakeMalformed)
		return nil, errs.ErrHandshakeMalformed
	}

	mode := tunnel.DecodeMode(data[0])
	tokenBytes := data[1:]

	bindHost := "0.0.0.0"
	if mode == tunnel.ModeHTTP {
		bindHost = "127.0.0.1"
	}

	listener, err := probeListener(bindHost)
	if err != nil {
		s.failHandshake(stream, err)
		return nil, err
	}

	id := tunnel.NewID()
	if s.rules.Enabled {
		decision, authErr := s.authenticate(tokenBytes)
		if authErr != nil {
			_ = listener.Close()
			s.failHandshake(stream, authErr)
			return nil, authErr
		}
		if decision.AssignFromSub {
			if parsed, perr := tunnel.ParseID(decision.Sub); perr == nil && !s.registry.Has(parsed) {
				id = parsed
			}
		}
	}

	s.mu.Lock()
	s.id = id
	s.mode = mode
	s.mu.Unlock()

	resp := encodeResponse(mode, id, listener.Addr().(*net.TCPAddr).Port)
	if _, err := stream.Write(resp); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrQUICTransport, err)
	}
	_ = stream.Close()

	return listener, nil
}

// authenticate parses tokenBytes as a JWT, verifies its signature against
// the key store, and applies the auth gate's acceptance rule.
func (s *Session) authenticate(tokenBytes []byte) (auth.Decision, error) {
	raw := strings.TrimSpace(string(tokenBytes))
	if raw == "" {
		return auth.Decision{}, errs.ErrAuthUnauthorized
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	tok, err := parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errs.ErrAuthMissingKid
		}
		key, ok := s.keys.Lookup(kid)
		if !ok {
			return nil, errs.ErrAuthUnknownKid
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrAuthMissingKid) || errors.Is(err, errs.ErrAuthUnknownKid) {
			return auth.Decision{}, err
		}
		return auth.Decision{}, fmt.Errorf("%w: %v", errs.ErrAuthInvalidSignature, err)
	}

	claims := auth.ClaimsFromToken(tok)
	decision := auth.Validate(claims, s.rules)
	if !decision.Accepted {
		return auth.Decision{}, errs.ErrAuthUnauthorized
	}
	return decision, nil
}

// failHandshake resets the stream and closes the connection with reason as
// the application-level close payload, per §7's propagation policy.
func (s *Session) failHandshake(stream quicwire.Stream, reason error) {
	stream.CancelWrite(rejectCode)
	_ = s.conn.CloseWithError(rejectCode, reason.Error())
}

// steadyState runs the acceptor and heartbeat sender concurrently; whichever
// finishes first tears the session down.
func (s *Session) steadyState(parent context.Context, listener *net.TCPListener) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results := make(chan error, 2)
	go func() { results <- s.acceptLoop(ctx, listener) }()
	go func() { results <- s.heartbeatLoop(ctx) }()

	first := <-results
	cancel()
	// listener.Accept does not observe ctx; closing the listener unblocks the
	// acceptor when the heartbeat sender finishes first.
	_ = listener.Close()
	<-results

	return first
}

// acceptLoop accepts public TCP connections and bridges each to a new
// bidirectional QUIC stream.
func (s *Session) acceptLoop(ctx context.Context, listener *net.TCPListener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", errs.ErrBridgeIO, err)
		}

		stream, err := s.conn.OpenStream()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("%w: %v", errs.ErrQUICTransport, err)
		}

		go func() {
			if err := bridge.Copy(ctx, conn, stream); err != nil {
				s.logger.Debug("bridge ended", zap.Error(err))
			}
		}()
	}
}

// heartbeatLoop opens a unidirectional stream every heartbeatInterval and
// writes the "ping" payload, per §4.4.
func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(tunnel.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sendHeartbeat(); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrQUICTransport, err)
			}
		}
	}
}

func (s *Session) sendHeartbeat() error {
	stream, err := s.conn.OpenUniStream()
	if err != nil {
		return err
	}
	if _, err := stream.Write([]byte(tunnel.HeartbeatPayload)); err != nil {
		return err
	}
	return stream.Close()
}

// encodeResponse builds the handshake response payload per §6: 2
// big-endian bytes for Tcp mode, the raw 16-byte TunnelId for Http mode.
func encodeResponse(mode tunnel.Mode, id tunnel.ID, port int) []byte {
	if mode == tunnel.ModeTCP {
		return []byte{byte(port >> 8), byte(port)}
	}
	return id.Bytes()
}

// probeListener binds an ephemeral TCP listener on host, sequentially
// probing ports in [portProbeStart, portProbeEnd] and skipping
// already-in-use ports, per §4.4 step 3.
func probeListener(host string) (*net.TCPListener, error) {
	for port := portProbeStart; port <= portProbeEnd; port++ {
		addr := &net.TCPAddr{IP: net.ParseIP(host), Port: port}
		l, err := net.ListenTCP("tcp", addr)
		if err == nil {
			return l, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("%w: %v", errs.ErrQUICTransport, err)
		}
	}
	return nil, errs.ErrPortExhaustion
}

func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}
