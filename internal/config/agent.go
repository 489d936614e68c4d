// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

const (
	defaultQUICPort = 5000
	defaultHTTPPort = 3000
)

// AgentConfig is the agent's runtime configuration: the CLI-provided mode
// and forward port, plus the environment variables spec.md §6 names.
type AgentConfig struct {
	Mode        tunnel.Mode
	ForwardPort int
	Dev         bool

	// ServerHost is the rendezvous server's hostname, taken from
	// SG__SERVER__HOST; it defaults to 127.0.0.1 with or without --dev.
	ServerHost string
	QUICPort   int
	// HTTPPort is loaded from SG__SERVER__HTTP_PORT but nothing in the agent
	// reads it: it is never dialed, and the announced Http-mode URL carries
	// no domain or port.
	HTTPPort int
}

// LoadAgentConfig reads the environment variables layered on top of the
// CLI-parsed mode/port/dev flags.
func LoadAgentConfig(mode tunnel.Mode, forwardPort int, dev bool) (AgentConfig, error) {
	if forwardPort < 1 || forwardPort > 65535 {
		return AgentConfig{}, fmt.Errorf("config: forward port %d out of range", forwardPort)
	}

	cfg := AgentConfig{
		Mode:        mode,
		ForwardPort: forwardPort,
		Dev:         dev,
		ServerHost:  "127.0.0.1",
		QUICPort:    intEnv("SG__SERVER__QUIC_PORT", defaultQUICPort),
		HTTPPort:    intEnv("SG__SERVER__HTTP_PORT", defaultHTTPPort),
	}
	if host := os.Getenv("SG__SERVER__HOST"); host != "" {
		cfg.ServerHost = host
	}
	return cfg, nil
}

// Token reads SGROK_TOKEN fresh on every call, so a rotated token takes
// effect on the agent's next reconnect.
func Token() string {
	return os.Getenv("SGROK_TOKEN")
}

// ServerAddr is the host:port the agent dials for its QUIC connection.
func (c AgentConfig) ServerAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.QUICPort))
}

func intEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
