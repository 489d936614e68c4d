// SPDX-License-Identifier: Apache-2.0

// Package agentclient implements C6: the agent's long-lived QUIC connection
// to the rendezvous server, covering handshake, heartbeat consumption, and
// per-stream bridging to the local forward target.
package agentclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/xmidt-org/eventor"
	"github.com/xmidt-org/retry"
	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/agentclient/event"
	"github.com/sgrok-dev/sgrok/internal/bridge"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

// Status is the agent's current relationship to the rendezvous server.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

const (
	localPortProbeStart = 6001
	localPortProbeEnd   = 65535

	maxHandshakeResponseBytes = 16
	maxHeartbeatPayloadBytes  = 100
)

// Config is the static configuration an agent connection needs.
type Config struct {
	// ServerAddr is the rendezvous server's UDP address, host:port.
	ServerAddr string
	// Mode is the tunnel mode negotiated at handshake.
	Mode tunnel.Mode
	// ForwardPort is the local TCP port bidirectional streams are bridged
	// to (the developer's actual service, or the Interceptor in Http
	// mode).
	ForwardPort int
	// Token is read fresh on every connection attempt, so a rotated
	// SGROK_TOKEN takes effect on the next reconnect.
	Token func() string
	// Dev selects an insecure TLS verifier instead of system root anchors.
	Dev bool
	// KeyLogWriter, if set, receives TLS secrets for the connection (the
	// SSLKEYLOGFILE facility).
	KeyLogWriter io.Writer
	// RetryPolicy controls the backoff between reconnect attempts. A zero
	// value (retry.Config{}) is itself a valid factory.
	RetryPolicy retry.PolicyFactory
}

// Client drives one agent-side tunnel connection, reconnecting with
// exponential backoff whenever the connection drops.
type Client struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	connectedListeners    eventor.Eventor[event.ConnectedListener]
	disconnectedListeners eventor.Eventor[event.DisconnectedListener]
	heartbeatListeners    eventor.Eventor[event.HeartbeatListener]

	mu        sync.RWMutex
	status    Status
	publicURL string
}

// Option configures a Client at construction time.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithLogger sets the logger used for connection lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *Client) { c.logger = l })
}

// WithNow overrides the client's clock, for tests.
func WithNow(now func() time.Time) Option {
	return optionFunc(func(c *Client) { c.now = now })
}

// New creates a Client from cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = retry.Config{}
	}
	c := &Client{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		status: StatusDisconnected,
	}
	for _, o := range opts {
		o.apply(c)
	}
	return c
}

// AddConnectedListener registers l to be notified on every successful
// handshake.
func (c *Client) AddConnectedListener(l event.ConnectedListener) event.CancelFunc {
	return event.CancelFunc(c.connectedListeners.Add(l))
}

// AddDisconnectedListener registers l to be notified whenever the steady
// state connection ends.
func (c *Client) AddDisconnectedListener(l event.DisconnectedListener) event.CancelFunc {
	return event.CancelFunc(c.disconnectedListeners.Add(l))
}

// AddHeartbeatListener registers l to be notified of each observed
// heartbeat.
func (c *Client) AddHeartbeatListener(l event.HeartbeatListener) event.CancelFunc {
	return event.CancelFunc(c.heartbeatListeners.Add(l))
}

// Status reports the client's current connection status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// PublicURL reports the most recently announced tunnel address, empty if
// never connected.
func (c *Client) PublicURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publicURL
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Run connects to the rendezvous server and reconnects with exponential
// backoff on every drop. It blocks until ctx is canceled.
func (c *Client) Run(ctx context.Context) {
	defer c.setStatus(StatusDisconnected)

	policy := c.cfg.RetryPolicy.NewPolicy(ctx)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if attempt == 0 {
			c.setStatus(StatusConnecting)
		} else {
			c.setStatus(StatusReconnecting)
		}

		err := c.connectAndServe(ctx)
		c.disconnectedListeners.Visit(func(l event.DisconnectedListener) {
			l.OnDisconnected(event.Disconnected{Err: err, At: c.now()})
		})
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			// Clean server-initiated close: reset the backoff policy before
			// the next attempt.
			policy = c.cfg.RetryPolicy.NewPolicy(ctx)
		}

		attempt++
		backoff, _ := policy.Next()
		c.logger.Warn("tunnel disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// connectAndServe performs one full connect-handshake-steady-state cycle.
// It returns when the connection ends: nil on a clean server-initiated close
// (application error code 0) or when ctx is canceled, an error otherwise.
func (c *Client) connectAndServe(ctx context.Context) error {
	udpConn, err := probeUDPConn()
	if err != nil {
		return fmt.Errorf("agentclient: bind local udp socket: %w", err)
	}
	defer udpConn.Close()

	raddr, err := net.ResolveUDPAddr("udp", c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("agentclient: resolve %s: %w", c.cfg.ServerAddr, err)
	}

	tlsConf := c.tlsConfig()
	conn, err := quic.Dial(ctx, udpConn, raddr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("agentclient: dial %s: %w", c.cfg.ServerAddr, err)
	}
	defer conn.CloseWithError(0, "client shutdown")

	publicURL, err := c.handshake(ctx, conn)
	if err != nil {
		return fmt.Errorf("agentclient: handshake: %w", err)
	}

	c.mu.Lock()
	c.publicURL = publicURL
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.connectedListeners.Visit(func(l event.ConnectedListener) {
		l.OnConnected(event.Connected{PublicURL: publicURL, At: c.now()})
	})
	c.logger.Info("tunnel established", zap.String("url", publicURL))

	err = c.steadyState(ctx, conn)
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == 0 {
		return nil
	}
	return err
}

// handshake performs the agent side of the wire handshake described in
// §4.6/§6 and returns the address it announces: "nc localhost <port>" in
// Tcp mode, "http://<tunnel id>" in Http mode (no domain or port appended).
func (c *Client) handshake(ctx context.Context, conn *quic.Conn) (string, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return "", err
	}

	token := ""
	if c.cfg.Token != nil {
		token = c.cfg.Token()
	}
	if token == "" {
		c.logger.Warn("SGROK_TOKEN not set, presenting empty token")
	}

	if _, err := stream.Write([]byte{c.cfg.Mode.Byte()}); err != nil {
		return "", err
	}
	if _, err := stream.Write([]byte(token)); err != nil {
		return "", err
	}
	if err := stream.Close(); err != nil {
		return "", err
	}

	resp, err := io.ReadAll(io.LimitReader(stream, maxHandshakeResponseBytes+1))
	if err != nil {
		return "", err
	}

	switch len(resp) {
	case 2:
		port := int(resp[0])<<8 | int(resp[1])
		return fmt.Sprintf("nc localhost %d", port), nil
	case tunnel.Size:
		id, err := tunnel.DecodeID(resp)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("http://%s", id.String()), nil
	default:
		return "", fmt.Errorf("unexpected handshake response length %d", len(resp))
	}
}

// steadyState runs the heartbeat consumer and the bi-stream acceptor
// concurrently; whichever fails first ends the connection.
func (c *Client) steadyState(parent context.Context, conn *quic.Conn) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results := make(chan error, 2)
	go func() { results <- c.consumeHeartbeats(ctx, conn) }()
	go func() { results <- c.acceptBiStreams(ctx, conn) }()

	first := <-results
	cancel()
	<-results
	return first
}

func (c *Client) consumeHeartbeats(ctx context.Context, conn *quic.Conn) error {
	for {
		stream, err := conn.AcceptUniStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		payload, err := io.ReadAll(io.LimitReader(stream, maxHeartbeatPayloadBytes+1))
		if err != nil {
			continue
		}
		if string(payload) != tunnel.HeartbeatPayload {
			c.logger.Warn("unexpected uni-stream payload", zap.ByteString("payload", payload))
			continue
		}
		c.heartbeatListeners.Visit(func(l event.HeartbeatListener) {
			l.OnHeartbeat(event.Heartbeat{At: c.now()})
		})
	}
}

func (c *Client) acceptBiStreams(ctx context.Context, conn *quic.Conn) error {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		go c.bridgeToForwardTarget(ctx, stream)
	}
}

func (c *Client) bridgeToForwardTarget(ctx context.Context, stream *quic.Stream) {
	target := net.JoinHostPort("127.0.0.1", strconv.Itoa(c.cfg.ForwardPort))
	tcpConn, err := (&net.Dialer{}).DialContext(ctx, "tcp", target)
	if err != nil {
		c.logger.Warn("forward target refused connection", zap.String("target", target), zap.Error(err))
		stream.CancelWrite(1)
		return
	}

	if err := bridge.Copy(ctx, tcpConn, stream); err != nil {
		c.logger.Debug("bridge ended", zap.Error(err))
	}
}

// tlsConfig builds the agent's client TLS config per §4.6 step 2.
func (c *Client) tlsConfig() *tls.Config {
	cfg := &tls.Config{
		NextProtos:   []string{tunnel.ALPN},
		KeyLogWriter: c.cfg.KeyLogWriter,
	}
	if c.cfg.Dev {
		// Development only: the rendezvous server presents a self-signed
		// certificate in --dev mode.
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// probeUDPConn binds a local UDP socket by sequentially probing ports in
// [localPortProbeStart, localPortProbeEnd], per §4.6 step 1.
func probeUDPConn() (*net.UDPConn, error) {
	for port := localPortProbeStart; port <= localPortProbeEnd; port++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
		if err == nil {
			return conn, nil
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return nil, err
		}
	}
	return nil, fmt.Errorf("agentclient: no free local udp port in [%d, %d]", localPortProbeStart, localPortProbeEnd)
}
