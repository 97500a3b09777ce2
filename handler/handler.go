// Package handler implements the Handler-Chain boundary (C9): the
// synchronous/async adapter between core Exchanges and application
// callbacks (§6.2), plus the route-matching and static-file built-ins
// named as supplemented features.
package handler

import (
	"github.com/zendrift/httpcore/internal/exchange"
	"github.com/zendrift/httpcore/internal/herrors"
)

// Result is what a handler reports back to the chain.
type Result int

const (
	NotHandled Result = iota
	Handled
	Async
)

// Func is the synchronous/async handler signature: it may write a full
// response and return Handled, claim the exchange with
// ex.HandleAsync() and return Async, or decline with NotHandled to let
// the chain try the next entry.
type Func func(ex *exchange.Exchange) Result

// Entry is one handler-chain link: an optional method filter, an
// optional route matcher, and the handler itself. A nil Matcher always
// matches (used for global middleware-style entries); an empty Method
// matches any method.
type Entry struct {
	Method  string
	Matcher *Matcher
	Handle  Func
}

// Chain is the ordered list of handler entries consulted for every
// request -- one variant per built-in handler (route, static, custom)
// plus a plain Func escape hatch, rather than a heavyweight DI
// mechanism.
type Chain struct {
	entries []Entry
}

// NewChain creates an empty chain; entries are appended in dispatch
// order with Use and Route (Static returns a Func to pass to Use).
func NewChain() *Chain { return &Chain{} }

// Use appends a handler that runs for every request regardless of
// method or path (e.g. a rate-limit gate).
func (c *Chain) Use(fn Func) *Chain {
	c.entries = append(c.entries, Entry{Handle: fn})
	return c
}

// Route appends a method+path-template handler. method == "" matches
// any method. See route.go for template syntax.
func (c *Chain) Route(method, template string, fn Func) *Chain {
	m := compileMatcher(template)
	c.entries = append(c.entries, Entry{Method: method, Matcher: m, Handle: fn})
	return c
}

// Dispatch walks the chain in order, stopping at the first entry that
// returns Handled or Async. If every entry returns NotHandled, it
// emits a 404. A handler that claims async (ex.IsAsync()) but still
// returns NotHandled is an IllegalHandlerState per §4.9 -- the
// invariant is that once async is claimed, the handler owns
// completion, so reverting to "keep looking for a handler" is a bug.
func (c *Chain) Dispatch(ex *exchange.Exchange, method, path string) error {
	for _, e := range c.entries {
		if e.Method != "" && !methodMatches(e.Method, method) {
			continue
		}
		var params map[string]string
		if e.Matcher != nil {
			m, ok := e.Matcher.Match(path)
			if !ok {
				continue
			}
			params = m
		}
		if params != nil {
			ex.Vars = params
		}
		result := e.Handle(ex)
		wasAsync := ex.IsAsync()
		switch result {
		case Handled:
			if wasAsync || ex.Done() {
				// wasAsync: handler both claimed async and wrote synchronously, trust the claim.
				// ex.Done(): handler already finished the response itself (e.g. via ex.Send).
				return nil
			}
			return ex.Complete()
		case Async:
			if !wasAsync {
				return herrors.Internal("handler.Dispatch", "handler returned Async without calling HandleAsync", nil)
			}
			return nil
		case NotHandled:
			if wasAsync {
				return herrors.Internal("handler.Dispatch", "IllegalHandlerState: handler claimed async then returned NotHandled", nil)
			}
			continue
		}
	}
	ex.SetStatus(404)
	return ex.Complete()
}

func methodMatches(filter, method string) bool {
	return filter == method
}
