// SPDX-License-Identifier: Apache-2.0

// Command sgrok-server runs the rendezvous server: the QUIC listener agents
// dial into, and the public HTTP front that dispatches to them.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sgrok-dev/sgrok/internal/config"
	"github.com/sgrok-dev/sgrok/internal/dispatch"
	"github.com/sgrok-dev/sgrok/internal/keystore"
	"github.com/sgrok-dev/sgrok/internal/logging"
	"github.com/sgrok-dev/sgrok/internal/pemfile"
	"github.com/sgrok-dev/sgrok/internal/quicserver"
	"github.com/sgrok-dev/sgrok/internal/registry"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "sgrok-server",
		Short:         "Authenticated QUIC reverse-tunnel rendezvous server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "./server.toml", "path to server.toml")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.IsDev())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cert, err := pemfile.Load(cfg.IsDev(), cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	if err != nil {
		return err
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	reg := registry.New()
	keys := keystore.New(cfg.Auth.JWTKeyEndpoints)
	keys.Start()
	defer keys.Stop()

	quicSrv := quicserver.New(cfg.QUICAddr(), tlsConfig, reg, keys, cfg.AuthRules(), logger)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: dispatch.New(reg, logger, nil),
	}
	if !cfg.IsDev() {
		httpSrv.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		logger.Info("quic listener starting", zap.String("addr", cfg.QUICAddr()))
		errs <- quicSrv.ListenAndServe(ctx)
	}()
	go func() {
		logger.Info("http front starting", zap.String("addr", cfg.HTTPAddr()), zap.Bool("tls", !cfg.IsDev()))
		var err error
		if cfg.IsDev() {
			err = httpSrv.ListenAndServe()
		} else {
			err = httpSrv.ListenAndServeTLS("", "")
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errs <- err
	}()

	first := <-errs
	stop()
	_ = quicSrv.Close()
	_ = httpSrv.Close()
	<-errs

	return first
}
