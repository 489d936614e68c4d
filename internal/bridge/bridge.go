// SPDX-License-Identifier: Apache-2.0

// Package bridge pumps bytes between a public TCP connection and the QUIC
// stream carrying it, in both directions, and reports once both directions
// have ended.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Copy bridges local (a TCP connection accepted on the session's ephemeral
// listener, or a dialed connection to the forward target) and remote (the
// bidirectional QUIC stream carrying that connection's bytes). It returns
// once both directions have finished, closing both sides on exit.
//
// When one direction ends it closes only the side it was writing to. That
// ends the other direction when its reads then fail (a closed TCP
// connection or pipe); closing a QUIC stream closes only its send side, so
// the stream-to-local direction keeps copying until the stream itself ends.
// Both sides are also closed when ctx is canceled.
func Copy(ctx context.Context, local io.ReadWriteCloser, remote io.ReadWriteCloser) error {
	defer local.Close()
	defer remote.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := io.Copy(remote, local)
		remote.Close()
		return ignoreClosed(err)
	})

	g.Go(func() error {
		_, err := io.Copy(local, remote)
		local.Close()
		return ignoreClosed(err)
	})

	go func() {
		<-ctx.Done()
		local.Close()
		remote.Close()
	}()

	return g.Wait()
}

// ignoreClosed swallows the errors expected when the other copy direction
// (or the caller's context) tears the connection down first: a closed pipe
// is the normal end of a bridged connection, not a failure.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && strings.Contains(opErr.Err.Error(), "use of closed") {
		return nil
	}
	return err
}
