// Package server implements the connection manager: accept loops,
// ALPN-based protocol dispatch, the per-connection driver, and
// graceful/forced shutdown. Connections are tracked in a concurrent
// map keyed by connection id, with atomic stats and a background sweep
// goroutine enforcing idle timeouts.
package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zendrift/httpcore/internal/config"
	"github.com/zendrift/httpcore/internal/timing"
	"github.com/zendrift/httpcore/internal/tlschannel"
)

// Manager owns every accepted Connection and drives the accept loops
// for the plaintext and TLS listeners: a concurrent map keyed by
// connection id, atomic stats, and a background sweep goroutine
// enforcing idle timeouts.
type Manager struct {
	opts    *config.Options
	handler ConnHandler

	conns   sync.Map // map[uint64]*Connection
	nextID  uint64
	stats   timing.Stats
	wheel   *timing.Wheel

	// exWheel arms per-exchange request-read/response-write deadlines
	// (§4.6). A separate instance from wheel, which arms per-connection
	// idle timeouts: exchange ids and connection ids are independent
	// atomic counters and would otherwise collide in the same id space.
	exWheel *timing.Wheel

	// ioSem bounds how many connections are driven concurrently,
	// standing in for the I/O worker pool size (NIOThreads) in a
	// goroutine-per-connection model.
	ioSem chan struct{}

	lnMu    sync.Mutex
	httpLn  net.Listener
	httpsLn net.Listener
	ready   chan struct{}
	readyOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	shuttingDown int32
}

// ConnHandler drives one accepted connection to completion; supplied
// by the root package so internal/server stays protocol-agnostic about
// how H1 vs H2 connections are actually served.
type ConnHandler func(ctx context.Context, conn *Connection)

// New creates a Manager bound to opts, which is not yet listening.
func New(opts *config.Options, handler ConnHandler) *Manager {
	ioThreads := opts.NIOThreads
	if ioThreads <= 0 {
		ioThreads = 1
	}
	return &Manager{
		opts:    opts,
		handler: handler,
		wheel:   timing.NewWheel(time.Second, 3600),
		exWheel: timing.NewWheel(time.Second, 3600),
		ioSem:   make(chan struct{}, ioThreads),
		stopCh:  make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Stats returns a snapshot of the process-wide counters (§4.8, §6.4).
func (m *Manager) Stats() timing.Snapshot { return m.stats.Snapshot() }

// StatsRef exposes the live counters themselves, for a ConnHandler to
// record per-request events (bytes read, invalid requests, rejections)
// into the same Stats this Manager reports through Stats().
func (m *Manager) StatsRef() *timing.Stats { return &m.stats }

// ActiveConnections returns a snapshot of every live connection's view
// (§6.4: protocol, cipher, start time, remote address, request counts).
func (m *Manager) ActiveConnections() []ConnectionView {
	var views []ConnectionView
	m.conns.Range(func(_, v any) bool {
		c := v.(*Connection)
		views = append(views, c.View())
		return true
	})
	return views
}

// ListenAndServe binds the configured listeners and blocks, accepting
// connections, until Stop or Kill is called.
func (m *Manager) ListenAndServe() error {
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	if m.opts.HTTPPort >= 0 {
		ln, err := net.Listen("tcp", addrFor(m.opts.HTTPPort))
		if err != nil {
			return err
		}
		m.lnMu.Lock()
		m.httpLn = ln
		m.lnMu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.acceptLoop(ln, false); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}()
	}

	if m.opts.HTTPSPort >= 0 && m.opts.TLSConfig != nil {
		ln, err := net.Listen("tcp", addrFor(m.opts.HTTPSPort))
		if err != nil {
			return err
		}
		m.lnMu.Lock()
		m.httpsLn = ln
		m.lnMu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.acceptLoop(ln, true); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}()
	}

	m.readyOnce.Do(func() { close(m.ready) })

	wg.Wait()
	return firstErr
}

// HTTPAddr blocks until the plaintext listener is bound (or
// ListenAndServe returns without one) and reports its address -- the
// caller's way of discovering the actual port when HTTPPort was 0.
func (m *Manager) HTTPAddr() net.Addr {
	<-m.ready
	m.lnMu.Lock()
	defer m.lnMu.Unlock()
	if m.httpLn == nil {
		return nil
	}
	return m.httpLn.Addr()
}

// HTTPSAddr is HTTPAddr's TLS-listener counterpart.
func (m *Manager) HTTPSAddr() net.Addr {
	<-m.ready
	m.lnMu.Lock()
	defer m.lnMu.Unlock()
	if m.httpsLn == nil {
		return nil
	}
	return m.httpsLn.Addr()
}

func addrFor(port int) string {
	if port == 0 {
		return ":0"
	}
	return ":" + strconv.Itoa(port)
}

func (m *Manager) acceptLoop(ln net.Listener, isTLS bool) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&m.shuttingDown) != 0 {
				return nil
			}
			return err
		}
		m.ioSem <- struct{}{}
		m.wg.Add(1)
		go m.driveConnection(raw, isTLS)
	}
}

func (m *Manager) driveConnection(raw net.Conn, isTLS bool) {
	defer m.wg.Done()
	defer func() { <-m.ioSem }()

	id := atomic.AddUint64(&m.nextID, 1)
	conn := newConnection(id, raw, m.opts, m.exWheel)
	m.conns.Store(id, conn)
	m.stats.ConnectionOpened()
	defer func() {
		m.conns.Delete(id)
		m.stats.ConnectionClosed()
		m.wheel.Cancel(id)
	}()

	if isTLS {
		ch := tlschannel.New(raw, tlschannel.Config{
			Base:         m.opts.TLSConfig,
			CipherFilter: m.opts.CipherFilter,
			H2Enabled:    true,
			IdleTimeout:  m.opts.IdleTimeout,
		})
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.IdleTimeout)
		err := ch.Handshake(ctx)
		cancel()
		if err != nil {
			m.stats.FailedToConnect()
			raw.Close()
			return
		}
		conn.tls = ch
		conn.protocol = protocolFromALPN(ch.NegotiatedProtocol())
	} else {
		conn.protocol = ProtocolH1
	}

	m.armIdleTimer(conn)

	ctx := context.Background()
	m.handler(ctx, conn)
	conn.Close()
}

func protocolFromALPN(proto string) Protocol {
	if proto == "h2" {
		return ProtocolH2
	}
	return ProtocolH1
}

func (m *Manager) armIdleTimer(conn *Connection) {
	m.wheel.Schedule(conn.id, m.opts.IdleTimeout, func() {
		if time.Since(conn.LastActivity()) >= m.opts.IdleTimeout {
			conn.Close()
			return
		}
		m.armIdleTimer(conn) // activity since scheduling; re-arm from the new baseline
	})
}

// Stop begins graceful shutdown: stop accepting, half-close any
// currently-idle connection right away, keep half-closing newly-idle
// ones as in-flight exchanges finish within grace, then force-close
// whatever remains (§4.7).
func (m *Manager) Stop(grace time.Duration) error {
	atomic.StoreInt32(&m.shuttingDown, 1)
	m.lnMu.Lock()
	httpLn, httpsLn := m.httpLn, m.httpsLn
	m.lnMu.Unlock()
	if httpLn != nil {
		httpLn.Close()
	}
	if httpsLn != nil {
		httpsLn.Close()
	}

	deadline := time.Now().Add(grace)
	m.halfCloseIdleConns(deadline)
	for time.Now().Before(deadline) {
		if m.countConns() == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
		m.halfCloseIdleConns(deadline)
	}
	m.Kill()
	return nil
}

// halfCloseIdleConns initiates a half-close (TLS close_notify, or
// CloseWrite for plaintext) on every connection with no Exchange
// currently in flight, bounded by deadline. Connections with an active
// exchange are left alone so their response can still be written.
func (m *Manager) halfCloseIdleConns(deadline time.Time) {
	m.conns.Range(func(_, v any) bool {
		c := v.(*Connection)
		if c.IsIdle() {
			c.InitiateHalfClose(deadline)
		}
		return true
	})
}

// Kill force-closes every socket immediately (§4.7).
func (m *Manager) Kill() {
	m.conns.Range(func(_, v any) bool {
		v.(*Connection).Close()
		return true
	})
	m.wg.Wait()
	m.wheel.Stop()
	m.exWheel.Stop()
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) countConns() int {
	n := 0
	m.conns.Range(func(_, _ any) bool { n++; return true })
	return n
}
