package exchange

import (
	"errors"
	"io"
	"testing"

	"github.com/zendrift/httpcore/internal/bufpool"
	"github.com/zendrift/httpcore/internal/h1"
)

type fakeSink struct {
	status  int
	headers map[string]string
	chunks  [][]byte
	finished bool
	trailers h1.Header
}

func (s *fakeSink) SetStatus(code int) { s.status = code }
func (s *fakeSink) SetHeader(name, value string) {
	if s.headers == nil {
		s.headers = map[string]string{}
	}
	s.headers[name] = value
}
func (s *fakeSink) WriteChunk(p []byte) error {
	cp := append([]byte(nil), p...)
	s.chunks = append(s.chunks, cp)
	return nil
}
func (s *fakeSink) WriteFull(p []byte) error {
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	s.finished = true
	return nil
}
func (s *fakeSink) Finish(trailers h1.Header) error {
	s.finished = true
	s.trailers = trailers
	return nil
}

func newTestExchange() (*Exchange, *fakeSink) {
	sink := &fakeSink{}
	req := &h1.Request{Method: "GET", Target: "/"}
	return New(1, req, sink), sink
}

func TestExchangeCompleteTransitionsToTerminal(t *testing.T) {
	ex, sink := newTestExchange()
	ex.SetStatus(200)
	if err := ex.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ex.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if ex.State() != Complete {
		t.Fatalf("State() = %v, want Complete", ex.State())
	}
	if !sink.finished {
		t.Fatalf("sink was never finished")
	}
	if len(sink.chunks) != 1 || string(sink.chunks[0]) != "hello" {
		t.Fatalf("chunks = %v", sink.chunks)
	}
}

func TestExchangeBodylessRequestSkipsStreaming(t *testing.T) {
	ex, _ := newTestExchange()
	if !ex.EndRequestBody() {
		t.Fatalf("EndRequestBody from RequestHeadersReceived should be legal")
	}
	if ex.State() != RequestComplete {
		t.Fatalf("State() = %v, want RequestComplete", ex.State())
	}
}

func TestExchangeAbortIsTerminalAndIdempotentWithComplete(t *testing.T) {
	ex, _ := newTestExchange()
	ex.Abort(ClientDisconnected, errors.New("peer reset"))
	if ex.State() != ClientDisconnected {
		t.Fatalf("State() = %v, want ClientDisconnected", ex.State())
	}
	// A further Complete attempt must not un-terminate the exchange.
	_ = ex.Complete()
	if ex.State() != ClientDisconnected {
		t.Fatalf("State() changed after terminal: %v", ex.State())
	}
}

func TestSetReadListenerFiresImmediateOnCompleteWhenBodyAlreadyConsumed(t *testing.T) {
	ex, _ := newTestExchange()
	ex.EndRequestBody()

	var completed bool
	ex.SetReadListener(&recordingListener{onComplete: func() { completed = true }})
	if !completed {
		t.Fatalf("OnComplete did not fire immediately for an already-consumed body")
	}
}

func TestDeliverBodyChunkOrdersThroughListener(t *testing.T) {
	ex, _ := newTestExchange()
	ex.BeginBody()

	var got [][]byte
	ex.SetReadListener(&recordingListener{
		onData: func(p []byte, done func()) {
			got = append(got, append([]byte(nil), p...))
			if done != nil {
				done()
			}
		},
	})
	ex.DeliverBodyChunk([]byte("a"), nil)
	ex.DeliverBodyChunk([]byte("b"), nil)
	ex.EndRequestBody()

	if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
		t.Fatalf("chunks delivered out of order: %v", got)
	}
}

func TestAsyncHandleCompleteIsIdempotent(t *testing.T) {
	ex, sink := newTestExchange()
	h := ex.HandleAsync()
	if !ex.IsAsync() {
		t.Fatalf("IsAsync() = false after HandleAsync")
	}
	h.Write([]byte("x"), nil)
	if err := h.Complete(); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if err := h.Complete(); err != nil {
		t.Fatalf("second Complete should be a no-op, got: %v", err)
	}
	if len(sink.chunks) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(sink.chunks))
	}
}

func TestAsyncHandleCancelSetsRetryAfter(t *testing.T) {
	ex, sink := newTestExchange()
	h := ex.HandleAsync()
	if err := h.Cancel(30); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sink.status != 503 {
		t.Fatalf("status = %d, want 503", sink.status)
	}
	if sink.headers["Retry-After"] != "30" {
		t.Fatalf("Retry-After = %q, want 30", sink.headers["Retry-After"])
	}
}

func TestAddResponseCompleteHandlerFiresOnceTerminal(t *testing.T) {
	ex, _ := newTestExchange()
	fired := 0
	ex.AddResponseCompleteHandler(func(*Exchange) { fired++ })
	_ = ex.Complete()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Registering after the exchange is already terminal runs immediately.
	ex.AddResponseCompleteHandler(func(*Exchange) { fired++ })
	if fired != 2 {
		t.Fatalf("fired = %d, want 2 after late registration", fired)
	}
}

func TestExchangeSendWritesFullBodyAndSkipsStreaming(t *testing.T) {
	ex, sink := newTestExchange()
	ex.SetStatus(200)
	if err := ex.Send([]byte("Hello 0")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ex.State() != Complete {
		t.Fatalf("State() = %v, want Complete", ex.State())
	}
	if len(sink.chunks) != 1 || string(sink.chunks[0]) != "Hello 0" {
		t.Fatalf("chunks = %v, want one chunk \"Hello 0\"", sink.chunks)
	}
	if !sink.finished {
		t.Fatalf("WriteFull should mark the response finished")
	}
}

func TestExchangeAbortWithResponseWritesCannedStatusWhenNotStarted(t *testing.T) {
	ex, sink := newTestExchange()
	err := ex.AbortWithResponse(408, TimedOut, errors.New("request read timeout"))
	if err != nil {
		t.Fatalf("AbortWithResponse: %v", err)
	}
	if ex.State() != TimedOut {
		t.Fatalf("State() = %v, want TimedOut", ex.State())
	}
	if sink.status != 408 {
		t.Fatalf("status = %d, want 408", sink.status)
	}
	if !sink.finished {
		t.Fatalf("AbortWithResponse should still write a response when one hasn't started")
	}
}

func TestExchangeAbortWithResponseSkipsWriteOnceStreaming(t *testing.T) {
	ex, sink := newTestExchange()
	ex.SetStatus(200)
	if err := ex.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sink.chunks = nil
	if err := ex.AbortWithResponse(504, TimedOut, errors.New("response write timeout")); err != nil {
		t.Fatalf("AbortWithResponse: %v", err)
	}
	if ex.State() != TimedOut {
		t.Fatalf("State() = %v, want TimedOut", ex.State())
	}
	if len(sink.chunks) != 0 {
		t.Fatalf("no further write should happen once the response already started: %v", sink.chunks)
	}
}

func TestExchangeRetainBodyAccumulatesChunks(t *testing.T) {
	ex, _ := newTestExchange()
	ex.BeginBody()

	var got []byte
	var gotErr error
	done := make(chan struct{})
	ex.RetainBody(0, func(sb *bufpool.SpillBuffer, err error) {
		gotErr = err
		if sb != nil {
			r, rerr := sb.Reader()
			if rerr == nil {
				got, _ = io.ReadAll(r)
				r.Close()
			}
		}
		close(done)
	})
	ex.DeliverBodyChunk([]byte("hello "), nil)
	ex.DeliverBodyChunk([]byte("world"), nil)
	ex.EndRequestBody()
	<-done

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if string(got) != "hello world" {
		t.Fatalf("retained body = %q, want %q", got, "hello world")
	}
}

type recordingListener struct {
	onData     func([]byte, func())
	onComplete func()
	onError    func(error)
}

func (l *recordingListener) OnDataReceived(p []byte, done func()) {
	if l.onData != nil {
		l.onData(p, done)
	}
}
func (l *recordingListener) OnComplete() {
	if l.onComplete != nil {
		l.onComplete()
	}
}
func (l *recordingListener) OnError(err error) {
	if l.onError != nil {
		l.onError(err)
	}
}
