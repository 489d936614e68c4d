// SPDX-License-Identifier: Apache-2.0

// Package interceptor implements C7: the agent-side L7 proxy that sits
// between the QUIC bridge and the developer's actual HTTP service in Http
// mode, recording each request/response cycle into a TrafficLog.
package interceptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/trafficlog"
)

// Interceptor forwards HTTP requests to a fixed local target port,
// recording the full head and body of both directions into a TrafficLog.
type Interceptor struct {
	targetPort int
	log        *trafficlog.Log
	logger     *zap.Logger
	now        func() time.Time
	proxy      *httputil.ReverseProxy
}

// New creates an Interceptor that forwards to 127.0.0.1:targetPort.
func New(targetPort int, log *trafficlog.Log, logger *zap.Logger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Interceptor{
		targetPort: targetPort,
		log:        log,
		logger:     logger,
		now:        time.Now,
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", targetPort)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Director = func(req *http.Request) {
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.Host = target.Host
	}
	proxy.ModifyResponse = i.recordResponse
	proxy.ErrorHandler = i.handleProxyError
	i.proxy = proxy

	return i
}

// ServeHTTP implements http.Handler. It buffers the request body (so it can
// both forward it and record it), stamps t_in, and delegates to the
// reverse proxy; the matching RequestCycle is appended once the response
// has been read in recordResponse.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tIn := i.now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	cycle := trafficlog.RequestCycle{
		TimestampIn: tIn,
		RequestHead: trafficlog.Head{
			Method:  r.Method,
			URI:     r.URL.RequestURI(),
			Headers: r.Header.Clone(),
		},
		RequestBody: body,
	}

	ctx := withCycle(r.Context(), &cycle)
	i.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// recordResponse strips connection-framing headers, buffers the response
// body, and appends the completed cycle to the log.
func (i *Interceptor) recordResponse(resp *http.Response) error {
	cycle, ok := cycleFromContext(resp.Request.Context())
	if !ok {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read upstream response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	resp.Header.Del("Content-Length")
	resp.Header.Del("Transfer-Encoding")

	cycle.ResponseHead = trafficlog.Head{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
	}
	cycle.ResponseBody = body
	cycle.TimestampOut = i.now()

	i.log.Append(*cycle)
	return nil
}

// handleProxyError maps proxy/transport failures to the distinct status
// codes required by §4.7; no cycle is recorded on error. The target URI is
// fixed at construction (127.0.0.1:targetPort), so the only failure modes
// reachable here are a refused downstream connection and everything else.
func (i *Interceptor) handleProxyError(w http.ResponseWriter, r *http.Request, err error) {
	i.logger.Warn("interceptor proxy error", zap.Error(err), zap.String("uri", r.URL.RequestURI()))

	status := http.StatusInternalServerError
	msg := "upstream error"
	if isRefused(err) {
		status = http.StatusNotFound
		msg = "target refused connection"
	}

	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func isRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED)
}
