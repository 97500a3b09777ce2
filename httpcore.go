// Package httpcore provides an embeddable HTTP/1.1 and HTTP/2 server
// engine: wire-level parsing and framing, an exchange state machine
// bridging requests to application handlers, and a connection manager
// driving accept loops, TLS and graceful shutdown.
package httpcore

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/zendrift/httpcore/handler"
	"github.com/zendrift/httpcore/internal/config"
	"github.com/zendrift/httpcore/internal/exchange"
	"github.com/zendrift/httpcore/internal/server"
	"github.com/zendrift/httpcore/internal/timing"
)

// Version is the current version of the httpcore engine.
const Version = "1.0.0"

// Re-export the types application code needs to hold onto without
// reaching into internal packages.
type (
	// Options controls the ports, limits and ambient collaborators the
	// engine runs with; see config.Defaults for the full tunable set.
	Options = config.Options

	// Exchange is the per-request lifecycle handed to a handler.Func.
	Exchange = exchange.Exchange

	// AsyncHandle lets a handler complete an Exchange from another
	// goroutine after claiming it with Exchange.HandleAsync.
	AsyncHandle = exchange.AsyncHandle

	// ReadListener receives request body chunks in arrival order.
	ReadListener = exchange.ReadListener

	// Chain is the ordered handler-chain boundary; see package handler.
	Chain = handler.Chain

	// HandlerFunc is the synchronous/async handler signature.
	HandlerFunc = handler.Func

	// Result is what a handler reports back to the chain.
	Result = handler.Result

	// Stats is a point-in-time snapshot of the process-wide counters.
	Stats = timing.Snapshot

	// ConnectionView is a read-only snapshot of one live connection.
	ConnectionView = server.ConnectionView
)

const (
	NotHandled = handler.NotHandled
	Handled    = handler.Handled
	Async      = handler.Async

	SendResponse   = config.SendResponse
	KillConnection = config.KillConnection
)

// DefaultOptions returns an Options populated with the engine's
// documented defaults; callers typically start here and override the
// handful of fields they care about.
func DefaultOptions() *Options { return config.Defaults() }

// NewChain returns an empty handler chain ready for Use/Route
// registrations (handler.Static builds a handler to pass to Use).
func NewChain() *Chain { return handler.NewChain() }

// Server owns one embeddable instance of the engine: a connection
// manager bound to a handler chain and a set of options.
type Server struct {
	opts *Options
	mgr  *server.Manager
}

// NewServer wires chain to a freshly created connection manager. opts
// is not copied; mutating it after ListenAndServe is undefined.
func NewServer(opts *Options, chain *Chain) *Server {
	if opts == nil {
		opts = config.Defaults()
	}
	s := &Server{opts: opts}
	s.mgr = server.New(opts, s.connHandler(chain))
	return s
}

// connHandler builds the ConnHandler the Manager drives every accepted
// connection through, dispatching to the H1 or H2 serve loop by
// negotiated protocol and logging unexpected serve errors.
func (s *Server) connHandler(chain *Chain) server.ConnHandler {
	return func(_ context.Context, conn *server.Connection) {
		stats := s.mgr.StatsRef()
		var err error
		if conn.Protocol() == server.ProtocolH2 {
			err = server.ServeH2(conn, chain, stats)
		} else {
			err = server.ServeH1(conn, chain, stats)
		}
		if err != nil && !isExpectedCloseErr(err) {
			s.opts.Logger.Printf("httpcore: connection %s: %v", conn.RemoteAddr(), err)
		}
	}
}

// ListenAndServe binds the configured HTTP/HTTPS listeners and blocks
// until Stop or Kill is called.
func (s *Server) ListenAndServe() error { return s.mgr.ListenAndServe() }

// Addr blocks until the plaintext listener is bound and returns its
// address, or nil if HTTPPort is disabled. Callers that configured
// HTTPPort: 0 (pick any free port) and run ListenAndServe in a
// goroutine use this to learn which port was actually chosen.
func (s *Server) Addr() net.Addr { return s.mgr.HTTPAddr() }

// TLSAddr is Addr's HTTPS-listener counterpart.
func (s *Server) TLSAddr() net.Addr { return s.mgr.HTTPSAddr() }

// Stop begins graceful shutdown: stop accepting new connections, give
// in-flight exchanges up to grace to finish, then force-close whatever
// remains.
func (s *Server) Stop(grace time.Duration) error { return s.mgr.Stop(grace) }

// Kill force-closes every connection immediately.
func (s *Server) Kill() { s.mgr.Kill() }

// StatsSnapshot returns the process-wide counters named in the
// configuration and observability sections (bytes, requests, rejections).
func (s *Server) StatsSnapshot() Stats { return s.mgr.Stats() }

// ActiveConnections returns a snapshot of every live connection's
// protocol, TLS metadata, remote address and request counts.
func (s *Server) ActiveConnections() []ConnectionView { return s.mgr.ActiveConnections() }

// isExpectedCloseErr reports whether err is just the ordinary shape a
// connection takes when it ends -- the peer going away or the socket
// closing out from under a blocked read -- rather than something worth
// logging.
func isExpectedCloseErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
