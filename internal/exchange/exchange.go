// Package exchange implements the per-request lifecycle state machine:
// the request/response pair bridging a wire-level connection (H1 or
// H2) to the application handler chain, including the async handle
// contract that lets a handler complete a response after it returns.
package exchange

import (
	"sync"
	"time"

	"github.com/zendrift/httpcore/internal/bufpool"
	"github.com/zendrift/httpcore/internal/h1"
)

// State enumerates the Exchange lifecycle states, from the moment
// request headers are parsed through whichever terminal state the
// exchange ultimately reaches.
type State int

const (
	RequestHeadersReceived State = iota
	RequestBodyStreaming
	RequestComplete
	ResponseHeadersSent
	ResponseBodyStreaming
	Complete
	Errored
	TimedOut
	ClientDisconnected
)

func (s State) String() string {
	switch s {
	case RequestHeadersReceived:
		return "RequestHeadersReceived"
	case RequestBodyStreaming:
		return "RequestBodyStreaming"
	case RequestComplete:
		return "RequestComplete"
	case ResponseHeadersSent:
		return "ResponseHeadersSent"
	case ResponseBodyStreaming:
		return "ResponseBodyStreaming"
	case Complete:
		return "Complete"
	case Errored:
		return "Errored"
	case TimedOut:
		return "TimedOut"
	case ClientDisconnected:
		return "ClientDisconnected"
	default:
		return "Unknown"
	}
}

func isTerminal(s State) bool {
	switch s {
	case Complete, Errored, TimedOut, ClientDisconnected:
		return true
	}
	return false
}

// isValidTransition gates legal Exchange transitions as a single pure
// function rather than scattering the rule across call sites.
func isValidTransition(from, to State) bool {
	if isTerminal(from) {
		return false
	}
	if isTerminal(to) {
		return true // any non-terminal state may transition to any terminal one
	}
	switch from {
	case RequestHeadersReceived:
		return to == RequestBodyStreaming || to == RequestComplete || to == ResponseHeadersSent
	case RequestBodyStreaming:
		return to == RequestComplete || to == ResponseHeadersSent
	case RequestComplete:
		return to == ResponseHeadersSent
	case ResponseHeadersSent:
		return to == ResponseBodyStreaming
	case ResponseBodyStreaming:
		return false // only Complete/Errored/TimedOut/ClientDisconnected follow, already handled above
	}
	return false
}

// Sink is the protocol-specific response surface an Exchange drives.
// internal/server supplies one adapter backed by h1.Writer and another
// backed by h2.ResponseWriter so this package stays transport-agnostic.
type Sink interface {
	SetStatus(code int)
	SetHeader(name, value string)
	WriteChunk(p []byte) error
	// WriteFull sends the complete response body in a single call,
	// deriving Content-Length from len(body) unless the handler
	// already declared one -- the fixed-length half of §4.4's mode
	// table, as distinct from the streaming WriteChunk/Finish pair.
	WriteFull(body []byte) error
	Finish(trailers h1.Header) error
}

// ResponseCompleteHandler is invoked once an Exchange reaches a
// terminal state, whatever the cause (§4.6 async handle contract (v)
// wiring point: add_response_complete_handler).
type ResponseCompleteHandler func(ex *Exchange)

// ReadListener receives request body chunks strictly in arrival order,
// exactly one outstanding callback at a time (§4.6 async handle
// contract (iv)).
type ReadListener interface {
	OnDataReceived(buf []byte, done func())
	OnComplete()
	OnError(err error)
}

// Exchange is the unit of request/response work: one request paired
// with the response being built for it, tracked from the moment
// headers arrive to whatever terminal state it ends in.
type Exchange struct {
	ID    uint64
	Start time.Time

	Request *h1.Request
	sink    Sink

	// Vars holds route-template captures ({name} segments), set by the
	// handler-chain boundary before a matched handler runs. Exchange
	// itself stays route-agnostic; this is just a labeled slot for C9
	// to use.
	Vars map[string]string

	mu    sync.Mutex
	state State

	async         bool
	asyncComplete bool

	writeChain sync.Mutex // serializes Sink writes across arbitrary goroutines (§4.6 (iii))

	readListener   ReadListener
	bodyConsumed   bool // RequestComplete already reached before a listener was set
	bodyErr        error

	completeHandlers []ResponseCompleteHandler
}

// New creates an Exchange in RequestHeadersReceived for a parsed
// request, wired to sink for response output.
func New(id uint64, req *h1.Request, sink Sink) *Exchange {
	return &Exchange{
		ID:      id,
		Start:   time.Now(),
		Request: req,
		sink:    sink,
		state:   RequestHeadersReceived,
	}
}

// State reports the current lifecycle state.
func (ex *Exchange) State() State {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state
}

// transition attempts to move to 'to', returning false (and leaving
// state unchanged) if the move is illegal. Exactly one terminal
// transition is ever observed for a given exchange.
func (ex *Exchange) transition(to State) bool {
	ex.mu.Lock()
	from := ex.state
	ok := isValidTransition(from, to)
	if ok {
		ex.state = to
	}
	ex.mu.Unlock()
	if ok && isTerminal(to) {
		ex.fireComplete()
	}
	return ok
}

// BeginBody moves RequestHeadersReceived -> RequestBodyStreaming when
// the parser reports a body is present; a bodyless request instead
// calls EndRequestBody directly.
func (ex *Exchange) BeginBody() bool { return ex.transition(RequestBodyStreaming) }

// EndRequestBody moves to RequestComplete from either
// RequestHeadersReceived (no body) or RequestBodyStreaming (EndOfBody
// event seen); invariant boundary: "Content-Length: 0 produces
// RequestComplete without ever entering RequestBodyStreaming" holds
// because callers only invoke BeginBody when a body is actually
// present.
func (ex *Exchange) EndRequestBody() bool {
	ok := ex.transition(RequestComplete)
	ex.mu.Lock()
	ex.bodyConsumed = true
	listener := ex.readListener
	ex.mu.Unlock()
	if listener != nil {
		listener.OnComplete()
	}
	return ok
}

// DeliverBodyChunk feeds one chunk to the registered read listener, if
// any, in the strict arrival order the parser produced it (guaranteed
// by the caller: the connection's single I/O-worker goroutine drives
// both parsing and delivery for one exchange).
func (ex *Exchange) DeliverBodyChunk(chunk []byte, done func()) {
	ex.mu.Lock()
	listener := ex.readListener
	ex.mu.Unlock()
	if listener == nil {
		if done != nil {
			done()
		}
		return
	}
	listener.OnDataReceived(chunk, done)
}

// SetReadListener registers l to receive body chunks. Per §4.6 async
// handle contract (v), if the request body has already finished by
// the time this is called, OnComplete fires immediately with no data.
func (ex *Exchange) SetReadListener(l ReadListener) {
	ex.mu.Lock()
	ex.readListener = l
	already := ex.bodyConsumed
	bodyErr := ex.bodyErr
	ex.mu.Unlock()
	if bodyErr != nil {
		l.OnError(bodyErr)
		return
	}
	if already {
		l.OnComplete()
	}
}

// FailBody reports a body-read failure (client disconnect mid-body,
// protocol error) to the registered listener, at most once.
func (ex *Exchange) FailBody(err error) {
	ex.mu.Lock()
	if ex.bodyErr != nil {
		ex.mu.Unlock()
		return
	}
	ex.bodyErr = err
	listener := ex.readListener
	ex.mu.Unlock()
	if listener != nil {
		listener.OnError(err)
	}
}

// HandleAsync claims the exchange for asynchronous completion: the
// response is not auto-completed when the synchronous handler
// returns. Returns an AsyncHandle bound to this exchange.
func (ex *Exchange) HandleAsync() *AsyncHandle {
	ex.mu.Lock()
	ex.async = true
	ex.mu.Unlock()
	return &AsyncHandle{ex: ex}
}

// IsAsync reports whether a handler has claimed async completion.
func (ex *Exchange) IsAsync() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.async
}

// AddResponseCompleteHandler registers h to run once the exchange
// reaches a terminal state; if it already has, h runs immediately.
func (ex *Exchange) AddResponseCompleteHandler(h ResponseCompleteHandler) {
	ex.mu.Lock()
	done := isTerminal(ex.state)
	if !done {
		ex.completeHandlers = append(ex.completeHandlers, h)
	}
	ex.mu.Unlock()
	if done {
		h(ex)
	}
}

func (ex *Exchange) fireComplete() {
	ex.mu.Lock()
	handlers := ex.completeHandlers
	ex.completeHandlers = nil
	ex.mu.Unlock()
	for _, h := range handlers {
		h(ex)
	}
}

// write serializes a body write through writeChain so ordering holds
// even when the async handle's Write is called from arbitrary
// goroutines (§4.6 (iii)); it also drives the ResponseHeadersSent ->
// ResponseBodyStreaming transition on the first call.
func (ex *Exchange) write(p []byte) error {
	ex.writeChain.Lock()
	defer ex.writeChain.Unlock()
	ex.transition(ResponseHeadersSent)
	ex.transition(ResponseBodyStreaming)
	return ex.sink.WriteChunk(p)
}

// finish serializes the terminal Finish call through the same chain so
// it can never race ahead of a pending Write.
func (ex *Exchange) finish(trailers h1.Header) error {
	ex.writeChain.Lock()
	defer ex.writeChain.Unlock()
	return ex.sink.Finish(trailers)
}

// Complete, called by the synchronous handler-chain boundary when a
// handler returns without claiming async, finishes the response and
// moves the exchange to its terminal state.
func (ex *Exchange) Complete() error {
	err := ex.finish(nil)
	if err != nil {
		ex.transition(Errored)
		return err
	}
	ex.transition(Complete)
	return nil
}

// Abort moves the exchange to a terminal state without attempting to
// write anything further, used for client disconnects, timeouts and
// protocol errors that have already closed the connection.
func (ex *Exchange) Abort(to State, cause error) {
	if !isTerminal(to) {
		to = Errored
	}
	ex.transition(to)
	ex.FailBody(cause)
}

// AbortWithResponse writes a final, bodyless status-only response (if
// the response hasn't already started) and then moves straight to a
// terminal state, used by the request-read/response-write timeout
// paths that still owe the peer a status line per §7's "no 408 if the
// response already started" rule. The write and the terminal
// transition share the write-chain lock so a handler racing to
// complete normally can never land a second response after this one.
func (ex *Exchange) AbortWithResponse(status int, to State, cause error) error {
	if !isTerminal(to) {
		to = Errored
	}
	ex.writeChain.Lock()
	ex.mu.Lock()
	started := ex.state == ResponseHeadersSent || ex.state == ResponseBodyStreaming
	done := isTerminal(ex.state)
	ex.mu.Unlock()
	var err error
	if !started && !done {
		ex.sink.SetStatus(status)
		err = ex.sink.WriteFull(nil)
	}
	ex.writeChain.Unlock()
	ex.transition(to)
	ex.FailBody(cause)
	return err
}

// Done reports whether the exchange has already reached a terminal
// state, letting callers (e.g. the handler-chain boundary after a
// handler uses Send) skip a redundant completion call.
func (ex *Exchange) Done() bool { return isTerminal(ex.State()) }

// SetStatus/SetHeader proxy to the underlying Sink before the first
// write commits the response headers.
func (ex *Exchange) SetStatus(code int)          { ex.sink.SetStatus(code) }
func (ex *Exchange) SetHeader(name, value string) { ex.sink.SetHeader(name, value) }

// Write streams one body chunk synchronously; used by the synchronous
// handler-chain boundary (async handlers go through AsyncHandle.Write
// instead, which layers doneCB pacing on the same write-chain).
func (ex *Exchange) Write(p []byte) error { return ex.write(p) }

// Send writes the entire response in one shot: status line, headers
// and the complete body, with Content-Length auto-derived from
// len(body) unless already declared. This is the "write() vs
// sendChunk()" distinction -- a handler that already has its whole
// body in hand gets a fixed Content-Length instead of falling through
// the streaming WriteChunk/Finish path into Transfer-Encoding: chunked.
// A wrapping sink can still frame the body its own way: the gzip sink,
// once compression engages, sends it chunked.
func (ex *Exchange) Send(body []byte) error {
	ex.writeChain.Lock()
	defer ex.writeChain.Unlock()
	ex.transition(ResponseHeadersSent)
	err := ex.sink.WriteFull(body)
	if err != nil {
		ex.transition(Errored)
		return err
	}
	ex.transition(Complete)
	return nil
}

// RetainBody buffers the entire request body into a SpillBuffer,
// spilling to a temp file past limit bytes (0 uses
// bufpool.DefaultSpillLimit), rather than requiring the caller to
// implement a ReadListener by hand. done runs once with either the
// finished buffer or a non-nil error if the body read failed midway.
// It registers itself as the exchange's read listener, so it can't be
// combined with a caller-supplied one.
func (ex *Exchange) RetainBody(limit int64, done func(*bufpool.SpillBuffer, error)) {
	sb := bufpool.NewSpillBuffer(limit)
	ex.SetReadListener(&retainingListener{sb: sb, done: done})
}

// retainingListener copies arriving body chunks into a SpillBuffer,
// backing Exchange.RetainBody and AsyncHandle.RetainBody.
type retainingListener struct {
	sb   *bufpool.SpillBuffer
	done func(*bufpool.SpillBuffer, error)
}

func (l *retainingListener) OnDataReceived(p []byte, doneCB func()) {
	_, err := l.sb.Write(p)
	if doneCB != nil {
		doneCB()
	}
	if err != nil {
		l.done(nil, err)
	}
}

func (l *retainingListener) OnComplete()      { l.done(l.sb, nil) }
func (l *retainingListener) OnError(err error) { l.done(nil, err) }
