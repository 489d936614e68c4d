// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrok-dev/sgrok/internal/auth"
	"github.com/sgrok-dev/sgrok/internal/keystore"
	"github.com/sgrok-dev/sgrok/internal/quicwire"
	"github.com/sgrok-dev/sgrok/internal/registry"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

type fakeStream struct {
	*bytes.Reader
	written bytes.Buffer
	closed  bool
}

func newFakeStream(in []byte) *fakeStream {
	return &fakeStream{Reader: bytes.NewReader(in)}
}

func (f *fakeStream) Write(p []byte) (int, error)   { return f.written.Write(p) }
func (f *fakeStream) Close() error                  { f.closed = true; return nil }
func (f *fakeStream) StreamID() quic.StreamID       { return 0 }
func (f *fakeStream) CancelRead(quic.StreamErrorCode)  {}
func (f *fakeStream) CancelWrite(quic.StreamErrorCode) {}
func (f *fakeStream) Context() context.Context      { return context.Background() }
func (f *fakeStream) SetDeadline(time.Time) error   { return nil }

type fakeConn struct {
	stream    *fakeStream
	acceptErr error
	closedCode quic.ApplicationErrorCode
	closedMsg  string
}

func (c *fakeConn) AcceptStream(context.Context) (quicwire.Stream, error) {
	if c.acceptErr != nil {
		return nil, c.acceptErr
	}
	return c.stream, nil
}
func (c *fakeConn) AcceptUniStream(context.Context) (quicwire.ReceiveStream, error) {
	return nil, errors.New("no uni streams")
}
func (c *fakeConn) OpenStream() (quicwire.Stream, error) { return nil, errors.New("not implemented") }
func (c *fakeConn) OpenUniStream() (quicwire.SendStream, error) {
	return nil, errors.New("not implemented")
}
func (c *fakeConn) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	c.closedCode = code
	c.closedMsg = msg
	return nil
}
func (c *fakeConn) Context() context.Context { return context.Background() }

func TestHandshakeTcpModeNoAuth(t *testing.T) {
	stream := newFakeStream([]byte("t"))
	conn := &fakeConn{stream: stream}
	s := New(conn, registry.New(), keystore.New(nil), auth.Rules{Enabled: false})

	listener, err := s.handshake(context.Background())
	require.NoError(t, err)
	defer listener.Close()

	assert.Len(t, stream.written.Bytes(), 2)
	assert.True(t, stream.closed)
	assert.Equal(t, tunnel.ModeTCP, s.mode)
}

func TestHandshakeHttpModeNoAuth(t *testing.T) {
	stream := newFakeStream([]byte("h"))
	conn := &fakeConn{stream: stream}
	s := New(conn, registry.New(), keystore.New(nil), auth.Rules{Enabled: false})

	listener, err := s.handshake(context.Background())
	require.NoError(t, err)
	defer listener.Close()

	assert.Len(t, stream.written.Bytes(), tunnel.Size)
	assert.Equal(t, "127.0.0.1", listener.Addr().(*net.TCPAddr).IP.String())
}

func TestHandshakeEmptyStreamIsFatal(t *testing.T) {
	stream := newFakeStream(nil)
	conn := &fakeConn{stream: stream}
	s := New(conn, registry.New(), keystore.New(nil), auth.Rules{Enabled: false})

	_, err := s.handshake(context.Background())
	assert.Error(t, err)
	assert.Equal(t, quic.ApplicationErrorCode(rejectCode), conn.closedCode)
}

func TestHandshakeAuthEnabledEmptyTokenRejected(t *testing.T) {
	stream := newFakeStream([]byte("t"))
	conn := &fakeConn{stream: stream}
	s := New(conn, registry.New(), keystore.New(nil), auth.Rules{Enabled: true})

	_, err := s.handshake(context.Background())
	assert.Error(t, err)
	assert.Equal(t, quic.ApplicationErrorCode(rejectCode), conn.closedCode)
}

func TestEncodeResponse(t *testing.T) {
	id := tunnel.NewID()
	assert.Equal(t, []byte{0x1f, 0x90}, encodeResponse(tunnel.ModeTCP, id, 0x1f90))
	assert.Equal(t, id.Bytes(), encodeResponse(tunnel.ModeHTTP, id, 0))
}

func TestProbeListenerSkipsInUsePort(t *testing.T) {
	busy, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: portProbeStart})
	if err != nil {
		t.Skipf("port %d unavailable in this environment: %v", portProbeStart, err)
	}
	defer busy.Close()

	l, err := probeListener("127.0.0.1")
	require.NoError(t, err)
	defer l.Close()
	assert.NotEqual(t, portProbeStart, l.Addr().(*net.TCPAddr).Port)
}
