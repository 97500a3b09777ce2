package h2

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/zendrift/httpcore/internal/h1"
)

// ResponseWriter is the H2 analogue of h1.Writer: it serializes a
// response onto one stream as a HEADERS frame followed by zero or more
// DATA frames, splitting DATA to respect both the stream and
// connection flow windows (§4.5).
type ResponseWriter struct {
	conn   *Conn
	stream *Stream

	status  int
	headers h1.Header

	headersSent bool
	ended       bool
}

// SetStatus records the response status. If unset, the status is 200,
// except that End on a response with nothing sent uses 204.
func (w *ResponseWriter) SetStatus(code int) { w.status = code }

// SetHeader sets a response header, replacing any previous value.
func (w *ResponseWriter) SetHeader(name, value string) {
	if w.headers == nil {
		w.headers = h1.Header{}
	}
	name = strings.ToLower(name)
	w.headers[name] = []string{value}
}

func (w *ResponseWriter) statusCode() int {
	if w.status == 0 {
		return 200
	}
	return w.status
}

func (w *ResponseWriter) bodySuppressed() bool {
	code := w.statusCode()
	return code == 204 || code == 304
}

// WriteHeaders emits the HEADERS frame if it hasn't been sent yet. It
// is a no-op on subsequent calls, matching §3's "once
// ResponseHeadersSent, status and headers are immutable" invariant.
func (w *ResponseWriter) WriteHeaders(endStream bool) error {
	if w.headersSent {
		return nil
	}
	w.headersSent = true
	fields := []hpack.HeaderField{{Name: ":status", Value: strconv.Itoa(w.statusCode())}}
	for name, values := range w.headers {
		for _, v := range values {
			fields = append(fields, hpack.HeaderField{Name: name, Value: v})
		}
	}
	block := w.conn.encodeFields(fields)
	return w.conn.enqueue(func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      w.stream.ID,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     endStream,
		})
	})
}

// WriteData sends one DATA frame, splitting into multiple frames if
// the payload exceeds either the stream's or the connection's
// outbound flow window; it blocks (spinning on a short ticker) until
// enough window opens up rather than ever sending over-window bytes.
func (w *ResponseWriter) WriteData(p []byte, endStream bool) error {
	if err := w.WriteHeaders(false); err != nil {
		return err
	}
	for len(p) > 0 || (endStream && !w.ended) {
		n := w.awaitWindow(len(p))
		chunk := p[:n]
		p = p[n:]
		last := endStream && len(p) == 0
		if err := w.conn.enqueue(func(fr *http2.Framer) error {
			return fr.WriteData(w.stream.ID, last, chunk)
		}); err != nil {
			return err
		}
		w.deductWindow(n)
		if last {
			w.ended = true
			break
		}
		if len(p) == 0 {
			break
		}
	}
	return nil
}

// WriteFull sends the entire body in a single HEADERS+DATA exchange,
// setting Content-Length (unless already declared, or the status
// suppresses a body) so the Sink abstraction offers the same one-shot
// semantics on H2 as h1.Writer.WriteFull does on H1 -- H2 has no wire
// distinction between fixed and chunked framing, but callers still
// benefit from not having to split a known-length body across calls.
func (w *ResponseWriter) WriteFull(body []byte) error {
	if w.bodySuppressed() {
		body = nil
	} else if _, declared := w.headers["content-length"]; !declared {
		w.SetHeader("Content-Length", strconv.Itoa(len(body)))
	}
	return w.WriteData(body, true)
}

// awaitWindow returns how many of want bytes may be sent right now,
// blocking on WINDOW_UPDATE frames (delivered asynchronously by the
// read loop into stream.peerWindow / conn.connSendWindow) until the
// window is nonzero. A zero-length write (want==0) always proceeds so
// End() can still emit an END_STREAM-only DATA frame.
func (w *ResponseWriter) awaitWindow(want int) int {
	if want == 0 {
		return 0
	}
	for {
		w.stream.mu.Lock()
		streamWin := w.stream.peerWindow
		w.stream.mu.Unlock()
		w.conn.windowMu.Lock()
		connWin := w.conn.connSendWindow
		w.conn.windowMu.Unlock()
		avail := streamWin
		if connWin < avail {
			avail = connWin
		}
		if avail > 0 {
			n := want
			if int(avail) < n {
				n = int(avail)
			}
			const maxFrame = 16384
			if n > maxFrame {
				n = maxFrame
			}
			return n
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-w.conn.closeCh:
			return 0
		}
	}
}

func (w *ResponseWriter) deductWindow(n int) {
	w.stream.mu.Lock()
	w.stream.peerWindow -= int32(n)
	w.stream.mu.Unlock()
	w.conn.windowMu.Lock()
	w.conn.connSendWindow -= int32(n)
	w.conn.windowMu.Unlock()
}

// End completes the response, emitting trailers as a second HEADERS
// frame (with END_STREAM, no following CONTINUATION) if the handler
// set any via the Trailer mechanism before calling End -- HTTP/2
// trailers need no TE negotiation, unlike H1's gate on "TE: trailers".
func (w *ResponseWriter) End(trailers h1.Header) error {
	if !w.headersSent && w.status == 0 {
		// A handler that never wrote a body and never picked a status
		// gets 204 rather than defaulting to 200 with an empty body.
		w.status = 204
	}
	if err := w.WriteHeaders(len(trailers) == 0 && !w.ended); err != nil {
		return err
	}
	if w.ended {
		return nil
	}
	if len(trailers) == 0 {
		return w.conn.enqueue(func(fr *http2.Framer) error {
			return fr.WriteData(w.stream.ID, true, nil)
		})
	}
	var fields []hpack.HeaderField
	for name, values := range trailers {
		for _, v := range values {
			fields = append(fields, hpack.HeaderField{Name: name, Value: v})
		}
	}
	block := w.conn.encodeFields(fields)
	return w.conn.enqueue(func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      w.stream.ID,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     true,
		})
	})
}

// encodeFields runs the per-connection HPACK encoder; encoding, like
// decoding, only ever happens from goroutines funneled through
// enqueue's caller synchronously, so the shared growBuffer is safe
// without its own lock as long as callers serialize encode calls
// (guaranteed here: each ResponseWriter method encodes then enqueues
// before returning, and Conn.encMu serializes across streams).
func (c *Conn) encodeFields(fields []hpack.HeaderField) []byte {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	c.encBuf.(*growBuffer).Reset()
	for _, f := range fields {
		_ = c.enc.WriteField(f)
	}
	out := make([]byte, len(c.encBuf.Bytes()))
	copy(out, c.encBuf.Bytes())
	return out
}
