package server

import (
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zendrift/httpcore/internal/config"
	"github.com/zendrift/httpcore/internal/exchange"
	"github.com/zendrift/httpcore/internal/h1"
	"github.com/zendrift/httpcore/internal/h2"
	"github.com/zendrift/httpcore/internal/herrors"
	"github.com/zendrift/httpcore/internal/timing"
)

// requestTimerID and responseTimerID namespace a connection's
// exchange-timer slots so a
// request-read timer and a response-write timer for the same exchange
// never collide in the shared wheel's id space.
func requestTimerID(exID uint64) uint64  { return exID<<1 | 0 }
func responseTimerID(exID uint64) uint64 { return exID<<1 | 1 }

// armRequestReadTimeout schedules a 408 if the request body isn't
// fully read within conn.opts.RequestReadTimeout (§4.6). A zero
// timeout disables the deadline.
func armRequestReadTimeout(conn *Connection, ex *exchange.Exchange) {
	d := conn.opts.RequestReadTimeout
	if d <= 0 {
		return
	}
	conn.wheel.Schedule(requestTimerID(ex.ID), d, func() {
		fireTimeout(conn, ex, 408, d)
	})
}

func cancelRequestReadTimeout(conn *Connection, ex *exchange.Exchange) {
	conn.wheel.Cancel(requestTimerID(ex.ID))
}

// armResponseWriteTimeout schedules a 504 if the response isn't
// completed within conn.opts.ResponseWriteTimeout once dispatch begins.
func armResponseWriteTimeout(conn *Connection, ex *exchange.Exchange) {
	d := conn.opts.ResponseWriteTimeout
	if d <= 0 {
		return
	}
	conn.wheel.Schedule(responseTimerID(ex.ID), d, func() {
		fireTimeout(conn, ex, 504, d)
	})
}

func cancelResponseWriteTimeout(conn *Connection, ex *exchange.Exchange) {
	conn.wheel.Cancel(responseTimerID(ex.ID))
}

// fireTimeout moves ex to TimedOut, answering with status if the
// response hasn't already started, then drops the connection -- a
// no-op if ex has already reached a terminal state by the time the
// wheel fires it.
func fireTimeout(conn *Connection, ex *exchange.Exchange, status int, d time.Duration) {
	if ex.Done() {
		return
	}
	_ = ex.AbortWithResponse(status, exchange.TimedOut, herrors.TimedOut(status, "server.timeout", d))
	conn.Close()
}

// dispatchExchange hands ex off to conn.opts.HandlerExecutor when one
// is configured, blocking until the handler finishes (preserving H1's
// single-exchange-in-flight invariant and H2's already-per-stream
// concurrency), or runs it inline when no executor was configured. A
// rejected submission answers 503 and counts as an overload rejection,
// matching the H2 REFUSED_STREAM path's bookkeeping.
func dispatchExchange(conn *Connection, stats *timing.Stats, chain Dispatcher, ex *exchange.Exchange, method, path string) {
	run := func() { _ = chain.Dispatch(ex, method, path) }
	exec := conn.opts.HandlerExecutor
	if exec == nil {
		run()
		return
	}
	if err := exec(run); err != nil {
		stats.RejectedOverload()
		ex.SetStatus(503)
		_ = ex.Send(nil)
	}
}

// Dispatcher is what the serve loops hand a finished Exchange off to;
// the root package supplies one backed by a handler.Chain, keeping
// this package free of a direct dependency on the handler package.
type Dispatcher interface {
	Dispatch(ex *exchange.Exchange, method, path string) error
}

var globalExchangeID uint64

// ServeH1 drives one plaintext-or-TLS HTTP/1.1 connection: feed bytes
// into the parser, build an Exchange per request, dispatch it through
// chain, write the response, and loop for the next pipelined request.
// At most one Exchange is in flight at a time per the H1 invariant, so
// the loop blocks on Dispatch before reading the next request.
func ServeH1(conn *Connection, chain Dispatcher, stats *timing.Stats) error {
	parser := h1.NewParser(h1.ModeRequest, conn.opts.MaxURLSize, conn.opts.MaxHeadersSize)
	buf := conn.bufPool.Get()
	defer conn.bufPool.Put(buf)

	var cur *exchange.Exchange
	var bodyBytesSeen int64
	var overLimit bool

	for {
		free, ferr := buf.Free()
		if ferr != nil {
			writeCanned(conn, 431, "Request Header Fields Too Large")
			stats.InvalidRequest()
			conn.Close()
			return ferr
		}
		n, rerr := conn.Read(free)
		if n > 0 {
			buf.Fill(n)
			stats.AddBytesRead(int64(n))
		}

		for buf.Len() > 0 {
			events, consumed, perr := parser.Feed(buf.Bytes())
			buf.Advance(consumed)

			for _, ev := range events {
				switch ev.Kind {
				case h1.EventNewRequest:
					cur = startH1Exchange(conn, ev.Request, stats)
					bodyBytesSeen = 0
					overLimit = false
					switch {
					case ev.Request.MethodInvalid:
						cur.SetStatus(405)
						_ = cur.Complete()
						cur = nil
					case ev.Request.URITooLong:
						cur.SetStatus(414)
						_ = cur.Complete()
						cur = nil
					case ev.Request.BodyMode == h1.BodyNone:
						finishRequestAndDispatch(conn, cur, chain, stats)
						cur = nil
					}
				case h1.EventBodyChunk:
					if cur == nil {
						continue
					}
					bodyBytesSeen += int64(len(ev.Chunk))
					if overLimit || bodyBytesSeen > conn.opts.MaxRequestSize {
						overLimit = true
						if conn.opts.RequestBodyTooLargeAction == config.KillConnection {
							cur.Abort(exchange.Errored, herrors.InvalidRequest(413, "h1.serve", "request body too large"))
							conn.Close()
							return nil
						}
						if ev.Last {
							cur.SetStatus(413)
							_ = cur.Complete()
							cur = nil
							overLimit = false
						}
						continue
					}
					cur.BeginBody()
					cur.DeliverBodyChunk(ev.Chunk, nil)
					if ev.Last {
						finishRequestAndDispatch(conn, cur, chain, stats)
						cur = nil
					}
				case h1.EventEndOfBody, h1.EventTrailers:
					if cur == nil {
						continue
					}
					if overLimit {
						cur.SetStatus(413)
						_ = cur.Complete()
						overLimit = false
					} else {
						finishRequestAndDispatch(conn, cur, chain, stats)
					}
					cur = nil
				}
			}

			if perr != nil {
				status := herrors.StatusOf(perr)
				if status == 0 {
					status = 400
				}
				writeCanned(conn, status, reasonPhrase(status))
				stats.InvalidRequest()
				conn.Close()
				return perr
			}
			if consumed == 0 {
				break // parser needs more bytes than the buffer currently holds
			}
		}

		buf.Compact()
		if rerr != nil {
			if cur != nil {
				cur.Abort(exchange.ClientDisconnected, rerr)
			}
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func startH1Exchange(conn *Connection, req *h1.Request, stats *timing.Stats) *exchange.Exchange {
	id := atomic.AddUint64(&globalExchangeID, 1)
	teTrailers := strings.Contains(strings.ToLower(req.Headers.Get("te")), "trailers")
	writer := h1.NewWriter(conn, req.Method == "HEAD", teTrailers)
	var sink exchange.Sink = &h1Sink{w: writer}
	sink = wrapGzip(sink, req.Headers.Get("accept-encoding"), conn.opts.Gzip)
	ex := exchange.New(id, req, sink)
	conn.ExchangeStarted()
	stats.RequestStarted()
	ex.AddResponseCompleteHandler(func(*exchange.Exchange) {
		cancelRequestReadTimeout(conn, ex)
		cancelResponseWriteTimeout(conn, ex)
		conn.ExchangeEnded()
		stats.RequestCompleted()
	})
	armRequestReadTimeout(conn, ex)
	return ex
}

func finishRequestAndDispatch(conn *Connection, ex *exchange.Exchange, chain Dispatcher, stats *timing.Stats) {
	ex.EndRequestBody()
	cancelRequestReadTimeout(conn, ex)
	armResponseWriteTimeout(conn, ex)
	path := ex.Request.Target
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dispatchExchange(conn, stats, chain, ex, ex.Request.Method, path)
}

func writeCanned(conn *Connection, status int, reason string) {
	body := "<html><body><h1>" + strconv.Itoa(status) + " " + reason + "</h1></body></html>"
	_, _ = conn.Write([]byte(
		"HTTP/1.1 " + strconv.Itoa(status) + " " + reason + "\r\n" +
			"Content-Type: text/html;charset=utf-8\r\n" +
			"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
			"Connection: close\r\n\r\n" + body))
}

func reasonPhrase(status int) string {
	switch status {
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
	default:
		return "Internal Server Error"
	}
}

// ServeH2 drives one H2-negotiated connection: an internal/h2.Conn
// fans HEADERS/DATA frames out into per-stream Exchanges, each
// dispatched through chain exactly like an H1 exchange.
func ServeH2(conn *Connection, chain Dispatcher, stats *timing.Stats) error {
	h2conn := h2.New(conn, conn.opts, func(st *h2.Stream, rw *h2.ResponseWriter) {
		id := atomic.AddUint64(&globalExchangeID, 1)
		req := &h1.Request{
			Method:  st.Method,
			Target:  st.Path,
			Version: "HTTP/2",
			Headers: st.Headers,
		}
		var sink exchange.Sink = &h2Sink{w: rw}
		sink = wrapGzip(sink, st.Headers.Get("accept-encoding"), conn.opts.Gzip)
		ex := exchange.New(id, req, sink)
		conn.ExchangeStarted()
		stats.RequestStarted()
		ex.AddResponseCompleteHandler(func(*exchange.Exchange) {
			cancelRequestReadTimeout(conn, ex)
			cancelResponseWriteTimeout(conn, ex)
			conn.ExchangeEnded()
			stats.RequestCompleted()
		})
		armRequestReadTimeout(conn, ex)

		hasBody := false
		buf := make([]byte, 16*1024)
		for {
			n, err := st.Body().Read(buf)
			if n > 0 {
				if !hasBody {
					hasBody = true
					ex.BeginBody()
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				ex.DeliverBodyChunk(chunk, nil)
			}
			if err != nil {
				break
			}
		}
		ex.EndRequestBody()
		cancelRequestReadTimeout(conn, ex)
		armResponseWriteTimeout(conn, ex)

		path := st.Path
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dispatchExchange(conn, stats, chain, ex, st.Method, path)
	})
	h2conn.OnRejectedOverload = stats.RejectedOverload
	return h2conn.Serve()
}
