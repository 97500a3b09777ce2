package h2

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/zendrift/httpcore/internal/config"
	"github.com/zendrift/httpcore/internal/herrors"
)

// DefaultInitialWindow is the connection and per-stream flow-control
// window advertised to the peer before any WINDOW_UPDATE is sent.
const DefaultInitialWindow = 65535

// Handler is invoked once a stream's request headers (and, for
// requests with a body, the request body too) are available. It mirrors
// the handler-chain boundary's synchronous contract; the connection
// drives response writes through the returned ResponseWriter.
type Handler func(*Stream, *ResponseWriter)

// transportConn is the minimal byte-stream surface Conn needs to drive
// frames over the wire. A plain net.Conn satisfies it, and so does
// internal/server's Connection and the tlschannel.Channel it wraps --
// this keeps Conn from caring whether it's riding plaintext or TLS.
type transportConn interface {
	io.Reader
	io.Writer
	Close() error
	RemoteAddr() net.Addr
}

// Conn drives one server-side HTTP/2 connection: a read loop decoding
// frames off the wire, a write loop serializing outbound frames (so
// concurrent streams never interleave partial frames), and a stream
// table enforcing MAX_CONCURRENT_STREAMS. Separate read/write loops
// handed frames over channels is the concurrency pattern a
// server-mode HTTP/2 multiplexer needs so a slow stream's flow-control
// stall never blocks frames for a fast one.
type Conn struct {
	nc     transportConn
	framer *http2.Framer

	enc    *hpack.Encoder
	encBuf interface{ Bytes() []byte }
	encMu  sync.Mutex

	dec        *hpack.Decoder
	decTarget  *Stream // stream currently accumulating a HEADERS/CONTINUATION block
	decErr     error   // set by onHeaderField when the §4.5 header-list budget is exceeded

	opts *config.Options

	streams *table

	writeCh chan frameJob
	closeCh chan struct{}
	closeOnce sync.Once

	lastGoodStream uint32
	goAwaySent     int32

	connRecvWindow int32
	connSendWindow int32
	windowMu       sync.Mutex

	handler Handler

	// OnRejectedOverload, if set, is called once per stream refused for
	// exceeding MAX_CONCURRENT_STREAMS (the stats counter of the same
	// name in §4.8).
	OnRejectedOverload func()

	bytesRead int64
	bytesSent int64
}

type frameJob struct {
	write func(*http2.Framer) error
	done  chan error
}

// New wraps nc (already past ALPN negotiation) as a server-side HTTP/2
// connection. Serve does not return until the connection closes.
func New(nc transportConn, opts *config.Options, handler Handler) *Conn {
	var encBuf growBuffer
	c := &Conn{
		nc:             nc,
		framer:         http2.NewFramer(nc, nc),
		enc:            hpack.NewEncoder(&encBuf),
		encBuf:         &encBuf,
		opts:           opts,
		streams:        newTable(maxConcurrent(opts)),
		writeCh:        make(chan frameJob, 16),
		closeCh:        make(chan struct{}),
		connRecvWindow: DefaultInitialWindow,
		connSendWindow: DefaultInitialWindow,
		handler:        handler,
	}
	c.dec = hpack.NewDecoder(4096, c.onHeaderField)
	c.framer.MaxHeaderListSize = uint32(opts.MaxHeadersSize)
	return c
}

// onHeaderField is the HPACK decoder's emit callback; hpack.Decoder
// calls it synchronously from inside Write, once per decoded field, so
// fields land on whichever stream decodeHeaderBlock last pointed
// decTarget at. Header decoding only ever happens on the single read
// loop goroutine, so no locking is needed around decTarget.
func (c *Conn) onHeaderField(hf hpack.HeaderField) {
	if c.decTarget == nil {
		return
	}
	st := c.decTarget
	st.headerListSize += len(hf.Name) + len(hf.Value) + 32 // RFC 7540 6.5.2 per-field overhead
	if st.headerListSize > c.opts.MaxHeadersSize {
		c.decErr = herrors.InvalidRequest(431, "h2.conn", "request header fields too large")
		return
	}
	assignPseudoOrHeader(st, hf)
}

func maxConcurrent(opts *config.Options) uint32 {
	if opts.MaxConcurrentStreamsPerConn == 0 {
		return 100
	}
	return opts.MaxConcurrentStreamsPerConn
}

type growBuffer struct{ b []byte }

func (g *growBuffer) Write(p []byte) (int, error) { g.b = append(g.b, p...); return len(p), nil }
func (g *growBuffer) Bytes() []byte               { return g.b }
func (g *growBuffer) Reset()                      { g.b = g.b[:0] }

// Serve drives the connection until it closes, returning the reason.
// It sends the server preface settings, then runs the read loop on the
// calling goroutine while a write loop and per-stream dispatch run on
// background goroutines, mirroring the fan-in/fan-out shape of a
// server-mode HTTP/2 multiplexer.
func (c *Conn) Serve() error {
	if err := c.writeSettings(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	err := c.readLoop()

	c.closeOnce.Do(func() { close(c.closeCh) })
	close(c.writeCh)
	wg.Wait()
	return err
}

func (c *Conn) writeSettings() error {
	return c.enqueue(func(f *http2.Framer) error {
		return f.WriteSettings(
			http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: maxConcurrent(c.opts)},
			http2.Setting{ID: http2.SettingInitialWindowSize, Val: DefaultInitialWindow},
			http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: uint32(c.opts.MaxHeadersSize)},
		)
	})
}

// enqueue hands a frame-writing closure to the write loop and blocks
// until it has actually been written, so callers (stream handlers
// running on arbitrary goroutines) observe ordering without needing
// their own lock around the shared Framer.
func (c *Conn) enqueue(write func(*http2.Framer) error) error {
	done := make(chan error, 1)
	select {
	case c.writeCh <- frameJob{write: write, done: done}:
	case <-c.closeCh:
		return io.ErrClosedPipe
	}
	select {
	case err := <-done:
		return err
	case <-c.closeCh:
		return io.ErrClosedPipe
	}
}

func (c *Conn) writeLoop() {
	for job := range c.writeCh {
		err := job.write(c.framer)
		job.done <- err
		if err != nil {
			c.closeOnce.Do(func() { close(c.closeCh) })
			return
		}
	}
}

func (c *Conn) readLoop() error {
	for {
		fr, err := c.framer.ReadFrame()
		if err != nil {
			return err
		}
		atomic.AddInt64(&c.bytesRead, int64(frameApproxSize(fr)))
		if err := c.dispatch(fr); err != nil {
			var goAway http2.GoAwayFrame
			_ = goAway
			code := http2.ErrCodeProtocol
			if ce, ok := err.(connError); ok {
				code = ce.code
			}
			_ = c.sendGoAway(code, err.Error())
			return err
		}
	}
}

func frameApproxSize(fr http2.Frame) int {
	return int(fr.Header().Length) + 9
}

type connError struct {
	code http2.ErrCode
	msg  string
}

func (e connError) Error() string { return e.msg }

func protoErr(msg string) error { return connError{code: http2.ErrCodeProtocol, msg: msg} }

func (c *Conn) dispatch(fr http2.Frame) error {
	switch f := fr.(type) {
	case *http2.SettingsFrame:
		return c.handleSettings(f)
	case *http2.HeadersFrame:
		return c.handleHeaders(f)
	case *http2.ContinuationFrame:
		return c.handleContinuation(f)
	case *http2.DataFrame:
		return c.handleData(f)
	case *http2.WindowUpdateFrame:
		return c.handleWindowUpdate(f)
	case *http2.RSTStreamFrame:
		c.streams.remove(f.StreamID)
		return nil
	case *http2.PingFrame:
		return c.handlePing(f)
	case *http2.GoAwayFrame:
		c.closeOnce.Do(func() { close(c.closeCh) })
		return io.EOF
	case *http2.PriorityFrame:
		return nil // stream priority is accepted but not acted on
	case *http2.PushPromiseFrame:
		return protoErr("clients may not send PUSH_PROMISE")
	default:
		return nil
	}
}

func (c *Conn) handleSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	return c.enqueue(func(fr *http2.Framer) error { return fr.WriteSettingsAck() })
}

func (c *Conn) handlePing(f *http2.PingFrame) error {
	if f.IsAck() {
		return nil
	}
	return c.enqueue(func(fr *http2.Framer) error { return fr.WritePing(true, f.Data) })
}

func (c *Conn) handleWindowUpdate(f *http2.WindowUpdateFrame) error {
	if f.StreamID == 0 {
		c.windowMu.Lock()
		c.connSendWindow += int32(f.Increment)
		c.windowMu.Unlock()
		return nil
	}
	st, ok := c.streams.get(f.StreamID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	st.peerWindow += int32(f.Increment)
	st.mu.Unlock()
	return nil
}

func (c *Conn) handleHeaders(f *http2.HeadersFrame) error {
	st, code := c.streams.create(f.StreamID, DefaultInitialWindow)
	if code != 0 {
		if code == http2.ErrCodeRefusedStream && c.OnRejectedOverload != nil {
			c.OnRejectedOverload()
		}
		return c.enqueue(func(fr *http2.Framer) error {
			return fr.WriteRSTStream(f.StreamID, code)
		})
	}
	if atomic.LoadInt32(&c.goAwaySent) != 0 {
		// Past GOAWAY: decode the block so HPACK state stays in step,
		// then refuse the stream; dispatchStream skips closed streams.
		_ = c.decodeHeaderBlock(st, f.HeaderBlockFragment(), f.HeadersEnded())
		st.setState(StateClosed)
		st.bodyR.Close()
		return c.enqueue(func(fr *http2.Framer) error {
			return fr.WriteRSTStream(f.StreamID, http2.ErrCodeRefusedStream)
		})
	}
	atomic.StoreUint32(&c.lastGoodStream, f.StreamID)
	if err := c.decodeHeaderBlock(st, f.HeaderBlockFragment(), f.HeadersEnded()); err != nil {
		return err
	}
	if f.StreamEnded() {
		st.bodyW.Close()
		st.endStream = true
	}
	if f.HeadersEnded() && c.handler != nil {
		go c.dispatchStream(st)
	}
	return nil
}

func (c *Conn) handleContinuation(f *http2.ContinuationFrame) error {
	st, ok := c.streams.get(f.StreamID)
	if !ok {
		return protoErr("CONTINUATION for unknown stream")
	}
	if err := c.decodeHeaderBlock(st, f.HeaderBlockFragment(), f.HeadersEnded()); err != nil {
		return err
	}
	if f.HeadersEnded() && c.handler != nil {
		go c.dispatchStream(st)
	}
	return nil
}

func (c *Conn) decodeHeaderBlock(st *Stream, frag []byte, end bool) error {
	c.decTarget = st
	c.decErr = nil
	_, err := c.dec.Write(frag)
	budgetErr := c.decErr
	c.decErr = nil
	if end {
		c.decTarget = nil
	}
	if err != nil {
		return herrors.InvalidRequest(431, "h2.conn", "malformed HPACK block")
	}
	return budgetErr
}

func assignPseudoOrHeader(st *Stream, hf hpack.HeaderField) {
	switch hf.Name {
	case ":method":
		st.Method = hf.Value
	case ":path":
		st.Path = hf.Value
	case ":scheme":
		st.Scheme = hf.Value
	case ":authority":
		st.Authority = hf.Value
	default:
		st.Headers.Add(hf.Name, hf.Value)
	}
}

func (c *Conn) handleData(f *http2.DataFrame) error {
	st, ok := c.streams.get(f.StreamID)
	if !ok {
		return protoErr("DATA for unknown stream")
	}
	data := f.Data()
	st.mu.Lock()
	st.recvWindow -= int32(len(data)) + int32(f.Length-uint32(len(data)))
	needUpdate := st.recvWindow < DefaultInitialWindow/2
	st.mu.Unlock()
	if len(data) > 0 {
		if _, err := st.bodyW.Write(data); err != nil {
			return nil // reader gone; drop silently, RST already implied
		}
	}
	c.windowMu.Lock()
	c.connRecvWindow -= int32(f.Length)
	connNeedUpdate := c.connRecvWindow < DefaultInitialWindow/2
	c.windowMu.Unlock()
	if f.StreamEnded() {
		st.bodyW.Close()
		st.mu.Lock()
		st.endStream = true
		st.mu.Unlock()
	}
	if needUpdate {
		c.grantStreamWindow(st.ID, DefaultInitialWindow/2)
	}
	if connNeedUpdate {
		c.grantConnWindow(DefaultInitialWindow / 2)
	}
	return nil
}

// grantStreamWindow is called by the Exchange layer too, once a
// consumer has drained buffered body bytes (§4.5's "wants_to_read =
// true" signal), so a slow reader doesn't stall forever between the
// automatic top-ups above.
func (c *Conn) grantStreamWindow(id uint32, n int32) {
	if n <= 0 {
		return
	}
	st, ok := c.streams.get(id)
	if !ok {
		return
	}
	st.mu.Lock()
	st.recvWindow += n
	st.mu.Unlock()
	_ = c.enqueue(func(fr *http2.Framer) error {
		return fr.WriteWindowUpdate(id, uint32(n))
	})
}

func (c *Conn) grantConnWindow(n int32) {
	if n <= 0 {
		return
	}
	c.windowMu.Lock()
	c.connRecvWindow += n
	c.windowMu.Unlock()
	_ = c.enqueue(func(fr *http2.Framer) error {
		return fr.WriteWindowUpdate(0, uint32(n))
	})
}

func (c *Conn) sendGoAway(code http2.ErrCode, msg string) error {
	if !atomic.CompareAndSwapInt32(&c.goAwaySent, 0, 1) {
		return nil
	}
	last := atomic.LoadUint32(&c.lastGoodStream)
	return c.enqueue(func(fr *http2.Framer) error {
		return fr.WriteGoAway(last, code, []byte(msg))
	})
}

// GracefulStop sends GOAWAY with the highest processed stream id,
// rejects streams above it, and reports once the table has emptied or
// grace elapses, per §4.5/§4.7.
func (c *Conn) GracefulStop(grace time.Duration) error {
	if err := c.sendGoAway(http2.ErrCodeNo, "graceful shutdown"); err != nil {
		return err
	}
	deadline := time.After(grace)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return c.nc.Close()
		case <-tick.C:
			if c.streams.openCount() == 0 {
				return c.nc.Close()
			}
		}
	}
}

func (c *Conn) dispatchStream(st *Stream) {
	if st.State() == StateClosed {
		return
	}
	rw := &ResponseWriter{conn: c, stream: st}
	c.handler(st, rw)
}

func (c *Conn) String() string {
	return fmt.Sprintf("h2.Conn{remote=%s}", c.nc.RemoteAddr())
}
