// SPDX-License-Identifier: Apache-2.0

// Package quicserver implements C4: the public QUIC listener that accepts
// agent connections and spawns a Session for each.
package quicserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/auth"
	"github.com/sgrok-dev/sgrok/internal/keystore"
	"github.com/sgrok-dev/sgrok/internal/quicwire"
	"github.com/sgrok-dev/sgrok/internal/registry"
	"github.com/sgrok-dev/sgrok/internal/session"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

// Server binds a QUIC listener and spawns a Session per inbound
// connection.
type Server struct {
	addr     string
	tls      *tls.Config
	registry *registry.Registry
	keys     *keystore.Store
	rules    auth.Rules
	logger   *zap.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	listener *quic.Listener
}

// New creates a Server bound to addr (host:port, UDP), using tlsConfig for
// the handshake. reg and keys are shared across sessions spawned by this
// server.
func New(addr string, tlsConfig *tls.Config, reg *registry.Registry, keys *keystore.Store, rules auth.Rules, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{tunnel.ALPN}
	}
	return &Server{
		addr:     addr,
		tls:      cfg,
		registry: reg,
		keys:     keys,
		rules:    rules,
		logger:   logger,
	}
}

// ListenAndServe binds the QUIC listener and accepts connections until ctx
// is canceled or Close is called. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := quic.ListenAddr(s.addr, s.tls, &quic.Config{
		MaxIdleTimeout:  0,
		KeepAlivePeriod: 0,
	})
	if err != nil {
		return fmt.Errorf("quicserver: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("quic listener bound", zap.String("addr", s.addr))

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("quicserver: accept: %w", err)
		}

		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn *quic.Conn) {
	defer s.wg.Done()

	sess := session.New(
		quicwire.ConnectionWrapper{Conn: conn},
		s.registry,
		s.keys,
		s.rules,
		session.WithLogger(s.logger),
	)

	if err := sess.Run(ctx); err != nil {
		s.logger.Warn("session ended with error",
			zap.Stringer("remote_addr", safeAddr(conn)),
			zap.Error(err),
		)
	}
}

// Close stops accepting new connections. In-flight sessions are left to
// drain; callers should cancel the context passed to ListenAndServe and
// wait for it to return for a full graceful shutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func safeAddr(conn *quic.Conn) net.Addr {
	if conn == nil {
		return nil
	}
	return conn.RemoteAddr()
}
