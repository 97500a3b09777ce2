package handler

import (
	"testing"

	"github.com/zendrift/httpcore/internal/exchange"
	"github.com/zendrift/httpcore/internal/h1"
)

// fakeSink satisfies exchange.Sink with the minimum bookkeeping these
// dispatch tests need, mirroring internal/exchange's own test fake.
type fakeSink struct {
	status  int
	headers map[string]string
	chunks  [][]byte
	finished bool
}

func (s *fakeSink) SetStatus(code int) { s.status = code }
func (s *fakeSink) SetHeader(name, value string) {
	if s.headers == nil {
		s.headers = map[string]string{}
	}
	s.headers[name] = value
}
func (s *fakeSink) WriteChunk(p []byte) error {
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	return nil
}
func (s *fakeSink) WriteFull(p []byte) error {
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	s.finished = true
	return nil
}
func (s *fakeSink) Finish(h1.Header) error {
	s.finished = true
	return nil
}

func newExchange(method, target string) (*exchange.Exchange, *fakeSink) {
	sink := &fakeSink{}
	req := &h1.Request{Method: method, Target: target}
	return exchange.New(1, req, sink), sink
}

func TestChainDispatchFirstMatchWins(t *testing.T) {
	c := NewChain()
	var calledB bool
	c.Route("GET", "/a", func(ex *exchange.Exchange) Result {
		ex.SetStatus(200)
		return Handled
	})
	c.Route("GET", "/a", func(ex *exchange.Exchange) Result {
		calledB = true
		return Handled
	})

	ex, sink := newExchange("GET", "/a")
	if err := c.Dispatch(ex, "GET", "/a"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if calledB {
		t.Fatalf("second handler should not run once the first claims Handled")
	}
	if sink.status != 200 {
		t.Fatalf("status = %d, want 200", sink.status)
	}
}

func TestChainDispatchFallsThroughOnNotHandled(t *testing.T) {
	c := NewChain()
	c.Route("GET", "/a", func(ex *exchange.Exchange) Result { return NotHandled })
	c.Route("GET", "/a", func(ex *exchange.Exchange) Result {
		ex.SetStatus(201)
		return Handled
	})

	ex, sink := newExchange("GET", "/a")
	if err := c.Dispatch(ex, "GET", "/a"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sink.status != 201 {
		t.Fatalf("status = %d, want 201", sink.status)
	}
}

func TestChainDispatchNoMatchIs404(t *testing.T) {
	c := NewChain()
	c.Route("GET", "/a", func(ex *exchange.Exchange) Result { return Handled })

	ex, sink := newExchange("GET", "/b")
	if err := c.Dispatch(ex, "GET", "/b"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sink.status != 404 {
		t.Fatalf("status = %d, want 404", sink.status)
	}
}

func TestChainDispatchRouteVarsPopulated(t *testing.T) {
	c := NewChain()
	var seen string
	c.Route("GET", "/widgets/{id}", func(ex *exchange.Exchange) Result {
		seen = ex.Vars["id"]
		return Handled
	})

	ex, _ := newExchange("GET", "/widgets/42")
	if err := c.Dispatch(ex, "GET", "/widgets/42"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if seen != "42" {
		t.Fatalf("route var id = %q, want 42", seen)
	}
}

func TestChainDispatchAsyncWithoutClaimIsError(t *testing.T) {
	c := NewChain()
	c.Route("GET", "/a", func(ex *exchange.Exchange) Result { return Async })

	ex, _ := newExchange("GET", "/a")
	if err := c.Dispatch(ex, "GET", "/a"); err == nil {
		t.Fatalf("expected an error when Async is returned without HandleAsync")
	}
}

func TestChainDispatchMethodFilter(t *testing.T) {
	c := NewChain()
	c.Route("POST", "/a", func(ex *exchange.Exchange) Result {
		ex.SetStatus(200)
		return Handled
	})

	ex, sink := newExchange("GET", "/a")
	if err := c.Dispatch(ex, "GET", "/a"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sink.status != 404 {
		t.Fatalf("GET should not match a POST-only route, got status %d", sink.status)
	}
}
