// Package h2 implements the server side of the HTTP/2 connection
// component: frame reading/writing via golang.org/x/net/http2's Framer,
// HPACK header compression, and a per-connection stream table.
package h2

import (
	"io"
	"sync"

	"golang.org/x/net/http2"

	"github.com/zendrift/httpcore/internal/h1"
)

// StreamState mirrors RFC 7540 section 5.1's state machine, restricted
// to the transitions a server-only (no push) implementation exercises.
type StreamState int

const (
	StateIdle StreamState = iota
	StateOpen
	StateHalfClosedRemote // request finished (END_STREAM seen), response still in flight
	StateHalfClosedLocal  // response finished, client still allowed to send (unused without push)
	StateClosed
)

func isValidTransition(from, to StreamState) bool {
	switch from {
	case StateIdle:
		return to == StateOpen || to == StateClosed
	case StateOpen:
		return to == StateHalfClosedRemote || to == StateHalfClosedLocal || to == StateClosed
	case StateHalfClosedRemote:
		return to == StateClosed
	case StateHalfClosedLocal:
		return to == StateClosed
	default:
		return false
	}
}

// Stream is one HTTP/2 request/response exchange multiplexed on a
// connection. The request body arrives as DATA frames and is fed into
// bodyW; handlers read it back out through Body.
type Stream struct {
	ID    uint32
	state StreamState
	mu    sync.Mutex

	Method    string
	Path      string
	Scheme    string
	Authority string
	Headers   h1.Header

	bodyR    *io.PipeReader
	bodyW    *io.PipeWriter
	trailers h1.Header

	headerListSize int // decompressed bytes seen so far, for the §4.5 budget

	peerWindow int32 // bytes the peer allows us to DATA onto this stream
	recvWindow int32 // bytes we have told the peer we can still receive

	headersSent bool
	endStream   bool
}

func newStream(id uint32, initialWindow int32) *Stream {
	r, w := io.Pipe()
	return &Stream{
		ID:         id,
		state:      StateIdle,
		Headers:    h1.Header{},
		bodyR:      r,
		bodyW:      w,
		peerWindow: initialWindow,
		recvWindow: initialWindow,
	}
}

func (s *Stream) setState(to StreamState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isValidTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Body exposes the request body as an io.Reader; it returns io.EOF
// once the final DATA frame (END_STREAM) has been delivered.
func (s *Stream) Body() io.Reader { return s.bodyR }

// Trailers returns trailing headers received after the body, or nil
// if the request carried none.
func (s *Stream) Trailers() h1.Header { return s.trailers }

// table is the per-connection set of streams, keyed by stream ID.
// Client-initiated streams use odd IDs per RFC 7540 5.1.1; this engine
// never pushes, so it allocates no stream IDs of its own.
type table struct {
	mu            sync.Mutex
	streams       map[uint32]*Stream
	maxConcurrent uint32
	highestSeen   uint32
}

func newTable(maxConcurrent uint32) *table {
	return &table{streams: make(map[uint32]*Stream), maxConcurrent: maxConcurrent}
}

func (t *table) openCount() int {
	n := 0
	for _, s := range t.streams {
		if st := s.State(); st == StateOpen || st == StateHalfClosedRemote || st == StateHalfClosedLocal {
			n++
		}
	}
	return n
}

// create registers a new client-initiated stream. An even stream ID or
// one that is not strictly increasing (a reused/out-of-order ID) is
// rejected with http2.ErrCodeProtocol; a stream that would exceed the
// concurrency cap is rejected with http2.ErrCodeRefusedStream.
func (t *table) create(id uint32, initialWindow int32) (*Stream, http2.ErrCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id%2 == 0 || id <= t.highestSeen {
		return nil, http2.ErrCodeProtocol
	}
	if uint32(t.openCount()) >= t.maxConcurrent {
		return nil, http2.ErrCodeRefusedStream
	}
	t.highestSeen = id
	s := newStream(id, initialWindow)
	s.state = StateOpen
	t.streams[id] = s
	return s, 0
}

func (t *table) get(id uint32) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	return s, ok
}

func (t *table) remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, id)
}
