package h1

import (
	"strings"
	"testing"
)

func TestWriterFullResponse(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, false, false)
	w.SetStatus(200)
	w.SetHeader("Content-Type", "text/plain")
	if err := w.WriteFull([]byte("hello")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line wrong: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Fatalf("missing content-length: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nhello") {
		t.Fatalf("missing body: %q", out)
	}
}

func TestWriterHeadSuppressesBody(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, true, false)
	w.SetStatus(200)
	if err := w.WriteFull([]byte("hello")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if strings.HasSuffix(buf.String(), "hello") {
		t.Fatalf("HEAD response must not include body bytes: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Content-Length: 5\r\n") {
		t.Fatalf("HEAD response should still declare the length: %q", buf.String())
	}
}

func TestWriter204SuppressesContentLength(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, false, false)
	w.SetStatus(204)
	if err := w.WriteFull(nil); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if strings.Contains(buf.String(), "Content-Length") {
		t.Fatalf("204 must not carry Content-Length: %q", buf.String())
	}
}

func TestWriterChunkedWhenLengthUnknown(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, false, false)
	w.SetStatus(200)
	if err := w.WriteChunk([]byte("Hello")); err != nil {
		t.Fatalf("WriteChunk 1: %v", err)
	}
	if err := w.WriteChunk([]byte(" world")); err != nil {
		t.Fatalf("WriteChunk 2: %v", err)
	}
	if err := w.Finish(nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("missing transfer-encoding: %q", out)
	}
	if !strings.HasSuffix(out, "5\r\nHello\r\n6\r\n world\r\n0\r\n\r\n") {
		t.Fatalf("bad chunk framing: %q", out)
	}
}

func TestWriterFixedLengthTruncatesOverrun(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, false, false)
	w.SetStatus(200)
	w.SetHeader("Content-Length", "3")
	if err := w.WriteChunk([]byte("abcdef")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := w.Finish(nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\r\n\r\nabc") {
		t.Fatalf("body should be truncated to declared length: %q", buf.String())
	}
}

func TestWriterTrailersRequireNegotiation(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, false, true)
	w.SetStatus(200)
	w.SetHeader("Trailer", "Server-Timing")
	if err := w.WriteChunk([]byte("x")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	trailers := Header{}
	trailers.Add("server-timing", "total;dur=1")
	if err := w.Finish(trailers); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !strings.Contains(buf.String(), "Server-Timing: total;dur=1\r\n") {
		t.Fatalf("expected negotiated trailer in output: %q", buf.String())
	}
}

func TestWriterAlreadyCompleted(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, false, false)
	if err := w.WriteFull([]byte("x")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if err := w.WriteFull([]byte("y")); err == nil {
		t.Fatalf("expected ErrAlreadyCompleted on second write")
	}
}
