package httpcore

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// startTestServer binds a Server on an ephemeral port and returns it
// once the listener is actually up. Tests dial it with raw TCP sockets
// and write/read request and response bytes by hand rather than going
// through net/http's client, so they exercise this package's own wire
// codec end to end.
func startTestServer(t *testing.T, chain *Chain) (*Server, func()) {
	t.Helper()
	opts := DefaultOptions()
	opts.HTTPPort = 0
	opts.HTTPSPort = -1
	s := NewServer(opts, chain)

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	addr := s.Addr()
	if addr == nil {
		t.Fatalf("server did not bind a plaintext listener")
	}
	return s, func() {
		s.Stop(time.Second)
		select {
		case <-errCh:
		case <-time.After(time.Second):
		}
	}
}

func roundTrip(t *testing.T, addr net.Addr, raw string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
		// A response with Connection: close never gets a clean EOF
		// signal here until the server actually closes -- that's fine,
		// the deadline bounds the read either way.
	}
	return out.String()
}

// TestHelloWorldFixedLength checks that a handler sending a whole body
// in one shot gets a computed Content-Length and a 200 status line.
func TestHelloWorldFixedLength(t *testing.T) {
	chain := NewChain()
	chain.Route("GET", "/blah", func(ex *Exchange) Result {
		ex.Send([]byte("Hello 0"))
		return Handled
	})
	s, stop := startTestServer(t, chain)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET /blah HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("expected 200 status line, got: %q", resp)
	}
	if !strings.Contains(resp, "Content-Length: 7") {
		t.Fatalf("expected Content-Length: 7, got: %q", resp)
	}
	if !strings.HasSuffix(resp, "Hello 0") {
		t.Fatalf("expected body Hello 0, got: %q", resp)
	}
}

// TestNoContentOnEmptyResponse checks that a handler which only sets a
// header and writes nothing gets 204, no Content-Length, and the
// header preserved.
func TestNoContentOnEmptyResponse(t *testing.T) {
	chain := NewChain()
	chain.Route("GET", "/", func(ex *Exchange) Result {
		ex.SetHeader("hello", "world")
		return Handled
	})
	s, stop := startTestServer(t, chain)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 204") {
		t.Fatalf("expected 204 status line, got: %q", resp)
	}
	if strings.Contains(resp, "Content-Length") {
		t.Fatalf("expected no Content-Length on 204, got: %q", resp)
	}
	if !strings.Contains(resp, "hello: world") {
		t.Fatalf("expected hello: world header preserved, got: %q", resp)
	}
}

// TestChunkedStreaming checks that multiple writes with no declared
// Content-Length get chunked transfer-encoding and reassemble to the
// concatenated body.
func TestChunkedStreaming(t *testing.T) {
	chain := NewChain()
	chain.Route("GET", "/stream", func(ex *Exchange) Result {
		ex.Write([]byte("Hello"))
		ex.Write([]byte(" "))
		ex.Write([]byte("world"))
		return Handled
	})
	s, stop := startTestServer(t, chain)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET /stream HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.Contains(resp, "Transfer-Encoding: chunked") {
		t.Fatalf("expected chunked transfer-encoding, got: %q", resp)
	}

	idx := strings.Index(resp, "\r\n\r\n")
	if idx < 0 {
		t.Fatalf("no header/body boundary found in: %q", resp)
	}
	body := reassembleChunks(t, resp[idx+4:])
	if body != "Hello world" {
		t.Fatalf("expected reassembled body %q, got %q", "Hello world", body)
	}
}

func reassembleChunks(t *testing.T, raw string) string {
	t.Helper()
	r := bufio.NewReader(strings.NewReader(raw))
	var out strings.Builder
	for {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read chunk size: %v", err)
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")
		if sizeLine == "" {
			continue
		}
		var size int64
		if _, err := fmt.Sscanf(sizeLine, "%x", &size); err != nil {
			t.Fatalf("parse chunk size %q: %v", sizeLine, err)
		}
		if size == 0 {
			break
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			t.Fatalf("read chunk data: %v", err)
		}
		out.Write(data)
		r.ReadString('\n') // trailing CRLF after chunk data
	}
	return out.String()
}

func TestNotFoundFallsThroughChain(t *testing.T) {
	chain := NewChain()
	chain.Route("GET", "/known", func(ex *Exchange) Result {
		ex.Write([]byte("ok"))
		return Handled
	})
	s, stop := startTestServer(t, chain)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET /unknown HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 404") {
		t.Fatalf("expected 404 status line, got: %q", resp)
	}
}
