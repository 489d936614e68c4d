// SPDX-License-Identifier: Apache-2.0

package quicserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/sgrok-dev/sgrok/internal/auth"
	"github.com/sgrok-dev/sgrok/internal/keystore"
	"github.com/sgrok-dev/sgrok/internal/registry"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sgrok-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

func TestServerHandshakeAndBridgeTcpMode(t *testing.T) {
	serverTLS := selfSignedTLSConfig(t)
	reg := registry.New()
	srv := New("127.0.0.1:0", serverTLS, reg, keystore.New(nil), auth.Rules{Enabled: false}, nil)

	listener, err := quic.ListenAddr("127.0.0.1:0", srv.tls, nil)
	require.NoError(t, err)
	srv.listener = listener

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			conn, err := listener.Accept(ctx)
			if err != nil {
				return
			}
			go srv.serve(ctx, conn)
		}
	}()

	clientTLS := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{tunnel.ALPN}}
	clientConn, err := quic.DialAddr(ctx, listener.Addr().String(), clientTLS, nil)
	require.NoError(t, err)

	stream, err := clientConn.OpenStreamSync(ctx)
	require.NoError(t, err)
	_, err = stream.Write([]byte("t"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	resp := make([]byte, 2)
	_, err = io.ReadFull(stream, resp)
	require.NoError(t, err)
	port := binary.BigEndian.Uint16(resp)
	require.NotZero(t, port)

	require.Eventually(t, func() bool {
		return reg.Len() == 1
	}, time.Second, 10*time.Millisecond)

	tcpConn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer tcpConn.Close()

	// The session's stream only reaches the agent once bytes are written on
	// it, so the public side writes before the agent accepts.
	_, err = tcpConn.Write([]byte("hello"))
	require.NoError(t, err)

	agentStream, err := clientConn.AcceptStream(ctx)
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = io.ReadFull(agentStream, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}
