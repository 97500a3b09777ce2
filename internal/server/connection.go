package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zendrift/httpcore/internal/bufpool"
	"github.com/zendrift/httpcore/internal/config"
	"github.com/zendrift/httpcore/internal/timing"
	"github.com/zendrift/httpcore/internal/tlschannel"
)

// Protocol names the wire protocol a Connection negotiated.
type Protocol int

const (
	ProtocolH1 Protocol = iota
	ProtocolH2
)

func (p Protocol) String() string {
	if p == ProtocolH2 {
		return "h2"
	}
	return "http/1.1"
}

// LifecycleState is the Connection's own lifecycle, separate from any
// Exchange it is currently driving.
type LifecycleState int

const (
	Handshaking LifecycleState = iota
	Open
	InputClosed
	OutputClosed
	FullyClosed
	ConnErrored
)

// Connection owns one accepted socket, optionally wrapped in TLS. It
// is the sole owner of its Exchanges; everything else holds only its
// id.
type Connection struct {
	id       uint64
	raw      net.Conn
	tls      *tlschannel.Channel
	protocol Protocol
	opts     *config.Options

	startTime time.Time
	lastActive int64 // unix nanos, atomic

	bufPool *bufpool.Pool

	// wheel arms this connection's exchanges' request-read and
	// response-write deadlines (§4.6); shared across every connection
	// the owning Manager drives.
	wheel *timing.Wheel

	mu            sync.Mutex
	state         LifecycleState
	activeExchanges int
	completedRequests int64

	closeOnce     sync.Once
	halfCloseOnce sync.Once
}

func newConnection(id uint64, raw net.Conn, opts *config.Options, wheel *timing.Wheel) *Connection {
	return &Connection{
		id:        id,
		raw:       raw,
		opts:      opts,
		wheel:     wheel,
		startTime: time.Now(),
		bufPool:   bufpool.NewPool(opts.MaxBufferSize()),
		state:     Handshaking,
	}
}

// NetConn returns the raw accepted socket.
func (c *Connection) NetConn() net.Conn { return c.raw }

// TLS returns the TLS channel wrapping this connection, or nil for
// plaintext H1 connections.
func (c *Connection) TLS() *tlschannel.Channel { return c.tls }

// Protocol reports the negotiated wire protocol.
func (c *Connection) Protocol() Protocol { return c.protocol }

// RemoteAddr exposes the peer address, satisfying internal/h2's
// transportConn interface so a Connection can be handed to h2.New
// directly -- Read/Write already route through TLS when present.
func (c *Connection) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// BufferPool returns the pool the H1 parser/writer should draw from.
func (c *Connection) BufferPool() *bufpool.Pool { return c.bufPool }

// Options returns the ambient configuration.
func (c *Connection) Options() *config.Options { return c.opts }

// Reader/Writer expose the byte stream, preferring the TLS channel
// when present.
func (c *Connection) Read(p []byte) (int, error) {
	c.touch()
	if c.tls != nil {
		return c.tls.Read(p)
	}
	return c.raw.Read(p)
}

func (c *Connection) Write(p []byte) (int, error) {
	c.touch()
	if c.tls != nil {
		return c.tls.Write(p)
	}
	return c.raw.Write(p)
}

func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastActive, time.Now().UnixNano())
}

// LastActivity reports the last time bytes were read or written,
// backing the idle timeout sweep (§4.6).
func (c *Connection) LastActivity() time.Time {
	n := atomic.LoadInt64(&c.lastActive)
	if n == 0 {
		return c.startTime
	}
	return time.Unix(0, n)
}

func (c *Connection) setState(s LifecycleState) {
	c.mu.Lock()
	if c.state != FullyClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// State reports the current lifecycle state.
func (c *Connection) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ExchangeStarted/ExchangeEnded track how many Exchanges this
// connection currently owns, enforcing the H1 "at most one" /
// H2 "up to N" invariant is the caller's job (parser vs stream table);
// this just keeps the count for introspection and completedRequests.
func (c *Connection) ExchangeStarted() {
	c.mu.Lock()
	c.activeExchanges++
	c.mu.Unlock()
}

func (c *Connection) ExchangeEnded() {
	c.mu.Lock()
	c.activeExchanges--
	c.completedRequests++
	c.mu.Unlock()
}

// IsIdle reports whether this connection currently owns no in-flight
// Exchange, the condition graceful shutdown requires before it will
// half-close the connection.
func (c *Connection) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeExchanges == 0
}

// InitiateHalfClose starts a half-close handshake in the background:
// close_notify (and a drain of any residual inbound bytes) for TLS, or
// a plain CloseWrite for plaintext, bounded by deadline. It never
// blocks the caller and runs at most once per connection.
func (c *Connection) InitiateHalfClose(deadline time.Time) {
	c.halfCloseOnce.Do(func() {
		go func() {
			if c.tls != nil {
				_ = c.tls.ShutdownOutput(deadline)
				return
			}
			_ = c.raw.SetDeadline(deadline)
			if cw, ok := c.raw.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
		}()
	})
}

// Close tears the connection down exactly once, transitioning it to
// FullyClosed (terminal, implies every owned Exchange has ended --
// callers are expected to have already aborted any still-open
// Exchange before calling this).
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(FullyClosed)
		if c.tls != nil {
			err = c.tls.Close()
		} else {
			err = c.raw.Close()
		}
	})
	return err
}

// ConnectionView is the read-only snapshot exposed by
// Server.ActiveConnections() (§6.4).
type ConnectionView struct {
	ID                uint64
	Protocol           string
	TLSVersion         string
	CipherSuite        string
	RemoteAddr         string
	StartTime          time.Time
	ActiveRequests     int
	CompletedRequests  int64
}

// View snapshots this connection's introspection-facing fields.
func (c *Connection) View() ConnectionView {
	c.mu.Lock()
	active := c.activeExchanges
	completed := c.completedRequests
	c.mu.Unlock()

	v := ConnectionView{
		ID:                c.id,
		Protocol:          c.protocol.String(),
		RemoteAddr:        c.raw.RemoteAddr().String(),
		StartTime:         c.startTime,
		ActiveRequests:    active,
		CompletedRequests: completed,
	}
	if c.tls != nil {
		v.TLSVersion = tlschannel.GetVersionName(c.tls.Version())
		v.CipherSuite = tlschannel.GetCipherSuiteName(c.tls.CipherSuite())
	}
	return v
}
