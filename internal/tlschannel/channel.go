// Package tlschannel wraps an accepted socket with TLS handshake
// orchestration, ALPN negotiation and a half-close shutdown sequence.
package tlschannel

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/zendrift/httpcore/internal/herrors"
)

// Channel wraps a raw net.Conn that has just been accepted, handling the
// server-side handshake and exposing the connection metadata the
// connection manager needs for introspection (§6.4).
type Channel struct {
	raw  net.Conn
	conn *tls.Conn
}

// Config configures how a Channel negotiates TLS.
type Config struct {
	Base         *tls.Config
	CipherFilter func(supported, defaultSuites []uint16) []uint16
	H2Enabled    bool
	IdleTimeout  time.Duration
}

// New wraps raw in a server-side tls.Conn using cfg. The handshake is
// not performed until Handshake is called.
func New(raw net.Conn, cfg Config) *Channel {
	base := cfg.Base.Clone()
	if base == nil {
		base = &tls.Config{}
	}
	ApplyVersionProfile(base, ProfileSecure)
	if cfg.CipherFilter != nil {
		base.CipherSuites = cfg.CipherFilter(supportedCipherSuites(), defaultCipherSuites())
	}
	if cfg.H2Enabled {
		base.NextProtos = []string{"h2", "http/1.1"}
	} else {
		base.NextProtos = []string{"http/1.1"}
	}
	return &Channel{raw: raw, conn: tls.Server(raw, base)}
}

// supportedCipherSuites lists every suite the Go runtime can negotiate,
// secure and insecure alike, so a CipherFilter has the full platform
// set to choose from.
func supportedCipherSuites() []uint16 {
	var ids []uint16
	for _, s := range tls.CipherSuites() {
		ids = append(ids, s.ID)
	}
	for _, s := range tls.InsecureCipherSuites() {
		ids = append(ids, s.ID)
	}
	return ids
}

// defaultCipherSuites is Go's own secure default set, handed to a
// CipherFilter alongside the full supported list.
func defaultCipherSuites() []uint16 {
	var ids []uint16
	for _, s := range tls.CipherSuites() {
		ids = append(ids, s.ID)
	}
	return ids
}

// Handshake drives the handshake to completion or failure. Go's
// crypto/tls performs the NEED_UNWRAP/NEED_WRAP/NEED_TASK loop
// internally; this method just bounds it with ctx and translates
// failure into the TlsFailure error kind so the caller can bump
// failed_to_connect without ever constructing an Exchange.
func (c *Channel) Handshake(ctx context.Context) error {
	if err := c.conn.HandshakeContext(ctx); err != nil {
		return herrors.TLSFailure("handshake", err)
	}
	return nil
}

// NegotiatedProtocol returns the ALPN protocol chosen during the
// handshake ("h2", "http/1.1", or "" if ALPN wasn't negotiated).
func (c *Channel) NegotiatedProtocol() string {
	return c.conn.ConnectionState().NegotiatedProtocol
}

// CipherSuite and Version expose handshake results for the connection
// view exposed by server.active_connections().
func (c *Channel) CipherSuite() uint16 { return c.conn.ConnectionState().CipherSuite }
func (c *Channel) Version() uint16    { return c.conn.ConnectionState().Version }

func (c *Channel) Read(dst []byte) (int, error)  { return c.conn.Read(dst) }
func (c *Channel) Write(src []byte) (int, error) { return c.conn.Write(src) }

// ShutdownOutput sends close_notify and drains any residual inbound
// data up to deadline, but never blocks indefinitely on the peer's own
// close_notify.
func (c *Channel) ShutdownOutput(deadline time.Time) error {
	_ = c.conn.SetDeadline(deadline)
	err := c.conn.CloseWrite()
	buf := make([]byte, 512)
	for {
		if _, rerr := c.conn.Read(buf); rerr != nil {
			break
		}
	}
	return err
}

// Close tears down the TLS record layer and the underlying socket.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// RemoteAddr exposes the peer address for connection introspection.
func (c *Channel) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// SetDeadline forwards to the underlying connection, bounding its
// reads and writes.
func (c *Channel) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }
