// SPDX-License-Identifier: Apache-2.0

// Command sgrok-agent dials the rendezvous server and exposes a local TCP
// or HTTP service to it.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/agentclient"
	"github.com/sgrok-dev/sgrok/internal/agentclient/event"
	"github.com/sgrok-dev/sgrok/internal/config"
	"github.com/sgrok-dev/sgrok/internal/inspector"
	"github.com/sgrok-dev/sgrok/internal/interceptor"
	"github.com/sgrok-dev/sgrok/internal/logging"
	"github.com/sgrok-dev/sgrok/internal/trafficlog"
	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

func main() {
	var dev bool

	cmd := &cobra.Command{
		Use:           "sgrok-agent <mode:tcp|http> <port>",
		Short:         "Exposes a local TCP or HTTP service through sgrok.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			mode, err := parseMode(args[0])
			if err != nil {
				return err
			}
			port, err := strconv.Atoi(args[1])
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("port must be 1..65535, got %q", args[1])
			}
			return run(mode, port, dev)
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "connect to a local dev rendezvous server with an insecure TLS verifier")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseMode(s string) (tunnel.Mode, error) {
	switch s {
	case "tcp":
		return tunnel.ModeTCP, nil
	case "http":
		return tunnel.ModeHTTP, nil
	default:
		return 0, fmt.Errorf("mode must be tcp or http, got %q", s)
	}
}

func run(mode tunnel.Mode, port int, dev bool) error {
	cfg, err := config.LoadAgentConfig(mode, port, dev)
	if err != nil {
		return err
	}

	level, format := "info", "json"
	if dev {
		level, format = "debug", "console"
	}
	logger, err := logging.New(level, format, dev)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	forwardPort := cfg.ForwardPort
	if mode == tunnel.ModeHTTP {
		forwardPort, err = startInterceptor(cfg.ForwardPort, logger)
		if err != nil {
			return err
		}
	}

	acfg := agentclient.Config{
		ServerAddr:   cfg.ServerAddr(),
		Mode:         mode,
		ForwardPort:  forwardPort,
		Token:        config.Token,
		Dev:          dev,
		KeyLogWriter: openKeyLogWriter(logger),
	}

	client := agentclient.New(acfg, agentclient.WithLogger(logger))
	client.AddConnectedListener(event.ConnectedListenerFunc(func(c event.Connected) {
		logger.Info("tunnel ready", zap.String("url", c.PublicURL))
	}))
	client.AddDisconnectedListener(event.DisconnectedListenerFunc(func(d event.Disconnected) {
		logger.Warn("tunnel disconnected", zap.Error(d.Err))
	}))
	client.AddHeartbeatListener(event.HeartbeatListenerFunc(func(event.Heartbeat) {
		logger.Debug("heartbeat")
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Run(ctx)
	return nil
}

// startInterceptor binds a loopback listener running the Interceptor in
// front of targetPort, plus the inspector snapshot endpoint, and returns
// the port the agent should bridge inbound QUIC streams to.
func startInterceptor(targetPort int, logger *zap.Logger) (int, error) {
	log := trafficlog.New()
	ic := interceptor.New(targetPort, log, logger)

	mux := http.NewServeMux()
	mux.Handle("/__sgrok/inspector", inspector.New(log))
	mux.Handle("/", ic)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("sgrok-agent: bind interceptor listener: %w", err)
	}

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("interceptor server stopped", zap.Error(err))
		}
	}()

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}

	logger.Info("interceptor listening", zap.Int("port", port), zap.Int("target_port", targetPort))
	return port, nil
}

func openKeyLogWriter(logger *zap.Logger) io.Writer {
	path := os.Getenv("SSLKEYLOGFILE")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Warn("could not open SSLKEYLOGFILE", zap.String("path", path), zap.Error(err))
		return nil
	}
	return f
}
