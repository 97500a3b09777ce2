package server

import (
	"fmt"
	"net"
	"time"

	netproxy "golang.org/x/net/proxy"
)

// DialUpstreamHealthCheck performs a narrow outbound dial-health check
// through an optional SOCKS5 proxy (Options.UpstreamHealthCheckProxy),
// used by embedders that sit behind a forward proxy for outbound
// webhooks and want the connection manager's own failed_to_connect
// bookkeeping to cover that path too.
func (m *Manager) DialUpstreamHealthCheck(targetAddr string, timeout time.Duration) error {
	if m.opts.UpstreamHealthCheckProxy == "" {
		conn, err := net.DialTimeout("tcp", targetAddr, timeout)
		if err != nil {
			m.stats.FailedToConnect()
			return err
		}
		return conn.Close()
	}

	dialer, err := netproxy.SOCKS5("tcp", m.opts.UpstreamHealthCheckProxy, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		m.stats.FailedToConnect()
		return fmt.Errorf("failed to create SOCKS5 health-check dialer: %w", err)
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		m.stats.FailedToConnect()
		return fmt.Errorf("upstream health check via proxy failed: %w", err)
	}
	return conn.Close()
}
