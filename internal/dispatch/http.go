// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements C5: the public HTTP front that routes
// requests by sub-domain to a registered agent session.
package dispatch

import (
	"net"
	"net/http"
	"net/http/httputil"
	"strings"

	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/registry"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

// Dispatcher is the public-facing http.Handler that resolves the request's
// Host header to a tunnel session and reverse-proxies to it.
type Dispatcher struct {
	registry *registry.Registry
	logger   *zap.Logger
	fallback http.Handler
}

// New creates a Dispatcher backed by reg. fallback handles requests whose
// Host header does not parse as a TunnelId; if nil, a fixed informational
// response is used.
func New(reg *registry.Registry, logger *zap.Logger, fallback http.Handler) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = http.HandlerFunc(defaultHandler)
	}
	return &Dispatcher{registry: reg, logger: logger, fallback: fallback}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTunnelID(r.Host)
	if !ok {
		d.fallback.ServeHTTP(w, r)
		return
	}

	addr, ok := d.registry.Lookup(id)
	if !ok {
		http.Error(w, "No active client found", http.StatusNotFound)
		return
	}

	d.proxyTo(addr, w, r)
}

func (d *Dispatcher) proxyTo(addr string, w http.ResponseWriter, r *http.Request) {
	target := "http://" + addr

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = addr
			if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				req.Header.Set("x-forwarded-for", clientIP)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			d.logger.Warn("proxy error", zap.String("target", target), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
		},
	}
	proxy.ServeHTTP(w, r)
}

// parseTunnelID extracts the left-most DNS label from host and parses it as
// a TunnelId.
func parseTunnelID(host string) (tunnel.ID, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return tunnel.ID{}, false
	}
	label := strings.SplitN(host, ".", 2)[0]
	id, err := tunnel.ParseID(label)
	if err != nil {
		return tunnel.ID{}, false
	}
	return id, true
}

func defaultHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("sgrok rendezvous server\n"))
}
