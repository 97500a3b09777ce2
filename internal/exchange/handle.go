package exchange

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zendrift/httpcore/internal/bufpool"
	"github.com/zendrift/httpcore/internal/h1"
)

// AsyncHandle is returned when a handler opts out of synchronous
// completion (§4.6, §6.2's handle_async()). All methods are safe to
// call from any goroutine; ordering across concurrent Write calls is
// preserved by the underlying Exchange's write-chain.
type AsyncHandle struct {
	ex *Exchange

	completedOnce uint32
	mu            sync.Mutex
	trailers      h1.Header
}

// Write streams one body chunk. doneCB, if non-nil, runs after the
// write lands (or fails), letting the caller pace further writes
// without blocking its own goroutine.
func (h *AsyncHandle) Write(p []byte, doneCB func(error)) {
	err := h.ex.write(p)
	if doneCB != nil {
		doneCB(err)
	}
}

// SetTrailer stages a trailer to be emitted by Complete, mirroring the
// H1 writer's Trailer: header gate / H2's unconditional trailer
// support.
func (h *AsyncHandle) SetTrailer(name, value string) {
	h.mu.Lock()
	if h.trailers == nil {
		h.trailers = h1.Header{}
	}
	h.trailers.Add(name, value)
	h.mu.Unlock()
}

// Complete finishes the response. Per §8's idempotence law, calling it
// more than once has the same effect as calling it exactly once --
// the second call is silently ignored rather than erroring, since a
// handler racing two completion paths (e.g. a timeout firing just as
// the handler finishes writing) shouldn't have to coordinate.
func (h *AsyncHandle) Complete() error {
	if !atomic.CompareAndSwapUint32(&h.completedOnce, 0, 1) {
		return nil
	}
	h.mu.Lock()
	trailers := h.trailers
	h.mu.Unlock()
	err := h.ex.finish(trailers)
	if err != nil {
		h.ex.transition(Errored)
		return err
	}
	h.ex.transition(Complete)
	return nil
}

// CompleteWithError finishes the exchange as failed: the connection
// should close rather than attempt any further writes once a response
// has started (§7's "handler-thrown errors after response started").
func (h *AsyncHandle) CompleteWithError(cause error) {
	if !atomic.CompareAndSwapUint32(&h.completedOnce, 0, 1) {
		return
	}
	h.ex.Abort(Errored, cause)
}

// Cancel answers a 503 with an optional Retry-After and cancels the
// exchange (§5 "async_response.cancel()").
func (h *AsyncHandle) Cancel(retryAfterSeconds int) error {
	if !atomic.CompareAndSwapUint32(&h.completedOnce, 0, 1) {
		return nil
	}
	h.ex.sink.SetStatus(503)
	if retryAfterSeconds > 0 {
		h.ex.sink.SetHeader("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	err := h.ex.finish(nil)
	h.ex.transition(Errored)
	return err
}

// SetReadListener registers the body-read listener; see Exchange's
// doc comment for the immediate-OnComplete contract when the request
// body already finished.
func (h *AsyncHandle) SetReadListener(l ReadListener) { h.ex.SetReadListener(l) }

// RetainBody buffers the request body for this exchange into a
// SpillBuffer, spilling past limit bytes (0 uses
// bufpool.DefaultSpillLimit); see Exchange.RetainBody.
func (h *AsyncHandle) RetainBody(limit int64, done func(*bufpool.SpillBuffer, error)) {
	h.ex.RetainBody(limit, done)
}

// AddResponseCompleteHandler registers a completion callback.
func (h *AsyncHandle) AddResponseCompleteHandler(fn ResponseCompleteHandler) {
	h.ex.AddResponseCompleteHandler(fn)
}
