package h1

import (
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// WriterState tracks the response writer's own small state machine:
// Nothing -> FullSent, or Nothing -> Streaming -> StreamingComplete.
type WriterState int

const (
	Nothing WriterState = iota
	FullSent
	Streaming
	StreamingComplete
)

// WriteMode is resolved once, on the first body byte (or on Finish for
// a response with no body), following the mode table.
type WriteMode int

const (
	ModeUndetermined WriteMode = iota
	ModeFixedLength
	ModeChunked
	ModeHeadersOnly
	ModeBodySuppressed
)

// ErrAlreadyCompleted is returned by any write attempted past a
// terminal writer state.
type ErrAlreadyCompleted struct{}

func (ErrAlreadyCompleted) Error() string { return "h1: write after response already completed" }

// Writer serializes a response onto dst following the status-line,
// header and body-mode rules of the response writer component. It
// does not buffer the body: each WriteChunk call goes straight to dst,
// chunk-encoded if the mode calls for it.
type Writer struct {
	dst io.Writer

	state WriterState
	mode  WriteMode

	isHead     bool
	status     int
	headers    Header
	contentLen int64 // -1 if unset
	declaredCL bool
	written    int64
	teTrailers bool // client negotiated TE: trailers
	closeConn  bool
}

// NewWriter creates a Writer for one response. isHead suppresses body
// writes at the socket per the HEAD rule; teTrailersNegotiated mirrors
// whether the request carried "TE: trailers".
func NewWriter(dst io.Writer, isHead, teTrailersNegotiated bool) *Writer {
	return &Writer{
		dst:        dst,
		headers:    Header{},
		contentLen: -1,
		isHead:     isHead,
		teTrailers: teTrailersNegotiated,
	}
}

// SetStatus records the response status. If never called, the status
// is 200, except that Finish on a response with nothing written uses 204.
func (w *Writer) SetStatus(code int) { w.status = code }

// SetHeader sets (replacing any previous value) a response header.
func (w *Writer) SetHeader(name, value string) {
	name = strings.ToLower(name)
	if name == "content-length" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			w.contentLen = n
			w.declaredCL = true
		}
		return
	}
	w.headers[name] = []string{value}
}

// RequestClose marks that the connection must close after this
// response (client requested it, keep-alive cap reached, or graceful
// shutdown in progress).
func (w *Writer) RequestClose() { w.closeConn = true }

func (w *Writer) statusCode() int {
	if w.status == 0 {
		return 200
	}
	return w.status
}

func (w *Writer) bodySuppressed() bool {
	code := w.statusCode()
	return code == 204 || code == 304
}

// WriteFull sends status line, headers and the complete body in one
// shot (the Nothing -> FullSent transition).
func (w *Writer) WriteFull(body []byte) error {
	if w.state != Nothing {
		return ErrAlreadyCompleted{}
	}
	if w.bodySuppressed() {
		body = nil
		w.declaredCL = false
		w.contentLen = -1
	} else if !w.declaredCL {
		w.contentLen = int64(len(body))
	}
	if err := w.writeHeadPreamble(int64(len(body))); err != nil {
		return err
	}
	if !w.isHead && len(body) > 0 {
		n := len(body)
		if w.declaredCL && int64(n) > w.contentLen {
			n = int(w.contentLen) // overrun truncated to the declared length
		}
		if _, err := w.dst.Write(body[:n]); err != nil {
			return err
		}
	}
	w.state = FullSent
	return nil
}

// WriteChunk streams one body chunk (Nothing -> Streaming on the
// first call, Streaming -> Streaming afterward). Mode is resolved on
// the first call: chunked unless a Content-Length was declared.
func (w *Writer) WriteChunk(chunk []byte) error {
	if w.state == Streaming {
		return w.writeBodyBytes(chunk)
	}
	if w.state != Nothing {
		return ErrAlreadyCompleted{}
	}
	if w.bodySuppressed() {
		w.mode = ModeBodySuppressed
	} else if w.isHead {
		w.mode = ModeHeadersOnly
	} else if w.declaredCL {
		w.mode = ModeFixedLength
	} else {
		w.mode = ModeChunked
		w.headers["transfer-encoding"] = []string{"chunked"}
	}
	if err := w.writeHeadPreamble(-1); err != nil {
		return err
	}
	w.state = Streaming
	return w.writeBodyBytes(chunk)
}

func (w *Writer) writeBodyBytes(chunk []byte) error {
	switch w.mode {
	case ModeHeadersOnly, ModeBodySuppressed:
		return nil // no-op at the socket
	case ModeFixedLength:
		remaining := w.contentLen - w.written
		if remaining <= 0 {
			return nil
		}
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := w.dst.Write(chunk)
		w.written += int64(n)
		return err
	case ModeChunked:
		if len(chunk) == 0 {
			return nil
		}
		if _, err := fmt.Fprintf(w.dst, "%x\r\n", len(chunk)); err != nil {
			return err
		}
		if _, err := w.dst.Write(chunk); err != nil {
			return err
		}
		_, err := w.dst.Write(crlf)
		w.written += int64(len(chunk))
		return err
	}
	return nil
}

var crlf = []byte("\r\n")

// Finish completes a streaming response (Streaming -> StreamingComplete),
// emitting the chunked terminator and any negotiated trailers.
func (w *Writer) Finish(trailers Header) error {
	if w.state == Nothing {
		// A handler that never wrote a body and never picked a status
		// gets 204 rather than defaulting to 200 with an empty body.
		if w.status == 0 {
			w.status = 204
		}
		if err := w.WriteChunk(nil); err != nil {
			return err
		}
	}
	if w.state != Streaming {
		return ErrAlreadyCompleted{}
	}
	if w.mode == ModeChunked {
		if _, err := w.dst.Write([]byte("0\r\n")); err != nil {
			return err
		}
		if w.teTrailers && trailers != nil {
			for name, values := range trailers {
				for _, v := range values {
					if _, err := fmt.Fprintf(w.dst, "%s: %s\r\n", textproto.CanonicalMIMEHeaderKey(name), v); err != nil {
						return err
					}
				}
			}
		}
		if _, err := w.dst.Write(crlf); err != nil {
			return err
		}
	}
	w.state = StreamingComplete
	return nil
}

func (w *Writer) writeHeadPreamble(bodyLen int64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", w.statusCode(), statusText(w.statusCode()))

	if _, ok := w.headers["date"]; !ok {
		fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(http1Date))
	}
	if bodyLen >= 0 && !w.bodySuppressed() {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", bodyLen)
	} else if w.declaredCL && !w.bodySuppressed() {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", w.contentLen)
	}
	for name, values := range w.headers {
		if name == "content-length" {
			continue
		}
		if w.bodySuppressed() && name == "content-length" {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", textproto.CanonicalMIMEHeaderKey(name), v)
		}
	}
	if w.closeConn {
		b.WriteString("Connection: close\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w.dst, b.String())
	return err
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// statusText returns the reason phrase for common codes used by the
// engine's own error responses; anything else falls back to a generic
// phrase rather than depending on net/http's table for an uncommon code.
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}
