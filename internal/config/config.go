// SPDX-License-Identifier: Apache-2.0

// Package config implements A1: loading and validating the server's
// server.toml, with SG__SECTION__KEY environment overrides layered on top.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/sgrok-dev/sgrok/internal/auth"
)

// TLS names the PEM files the QUIC and public HTTP listeners present in
// production mode.
type TLS struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Server is the `[server]` TOML table.
type Server struct {
	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port"`
	QUICHost string `mapstructure:"quic_host"`
	QUICPort int    `mapstructure:"quic_port"`
	TLS      TLS    `mapstructure:"tls"`
}

// Auth is the `[auth]` TOML table.
type Auth struct {
	Enabled             bool     `mapstructure:"enabled"`
	Users               []string `mapstructure:"users"`
	HostDomains         []string `mapstructure:"host_domains"`
	DefaultAllowIssuers []string `mapstructure:"default_allow_issuers"`
	JWTKeyEndpoints     []string `mapstructure:"jwt_key_endpoints"`
}

// Log is the `[log]` TOML table.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the fully-resolved server configuration, after TOML load and
// environment overrides.
type Config struct {
	Server Server `mapstructure:"server"`
	Auth   Auth   `mapstructure:"auth"`
	Log    Log    `mapstructure:"log"`
	// Env is "Prod" or "Dev". It is normally set by the RUN_ENV environment
	// variable; the TOML `env` key is the fallback for local files that
	// don't rely on the environment at all.
	Env string `mapstructure:"env"`
}

// Load reads path as TOML, applies SG__SECTION__KEY overrides (and the
// standalone RUN_ENV variable), and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	// viper joins prefix and key with "_", so the "SG_" prefix plus the
	// replacer below yields SG__SERVER__QUIC_PORT for server.quic_port.
	v.SetEnvPrefix("SG_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	v.SetDefault("server.http_host", "0.0.0.0")
	v.SetDefault("server.http_port", 3000)
	v.SetDefault("server.quic_host", "0.0.0.0")
	v.SetDefault("server.quic_port", 5000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("env", "Prod")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if runEnv := os.Getenv("RUN_ENV"); runEnv != "" {
		cfg.Env = runEnv
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.QUICPort < 1 || c.Server.QUICPort > 65535 {
		return fmt.Errorf("config: server.quic_port %d out of range", c.Server.QUICPort)
	}
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: server.http_port %d out of range", c.Server.HTTPPort)
	}
	if !c.IsDev() {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("config: server.tls.cert_file and key_file are required outside Dev")
		}
	}
	if c.Auth.Enabled && len(c.Auth.JWTKeyEndpoints) == 0 {
		return fmt.Errorf("config: auth.enabled requires at least one auth.jwt_key_endpoints entry")
	}
	return nil
}

// IsDev reports whether Env selects development mode (self-signed TLS,
// plaintext public HTTP front).
func (c Config) IsDev() bool {
	return strings.EqualFold(c.Env, "Dev")
}

// QUICAddr is the host:port the QUIC listener binds.
func (c Config) QUICAddr() string {
	return net.JoinHostPort(c.Server.QUICHost, strconv.Itoa(c.Server.QUICPort))
}

// HTTPAddr is the host:port the public HTTP front binds.
func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.HTTPHost, strconv.Itoa(c.Server.HTTPPort))
}

// AuthRules converts the loaded [auth] table into the auth package's
// runtime shape.
func (c Config) AuthRules() auth.Rules {
	return auth.NewRules(c.Auth.Enabled, c.Auth.Users, c.Auth.HostDomains, c.Auth.DefaultAllowIssuers, c.Auth.JWTKeyEndpoints)
}
