package server

import (
	"compress/gzip"
	"strings"

	"github.com/zendrift/httpcore/internal/config"
	"github.com/zendrift/httpcore/internal/exchange"
	"github.com/zendrift/httpcore/internal/h1"
)

// gzipSink wraps a Sink with transparent gzip compression, engaged once
// the handler's declared Content-Type clears the configured allowlist
// and no explicit Content-Length was set -- gzip changes the byte
// count, so a declared fixed length and compression are mutually
// exclusive; a response that wants a known-length fast path simply
// doesn't get compressed, which is the simpler half of that tradeoff to
// implement without buffering the whole body to learn its final size.
type gzipSink struct {
	inner exchange.Sink
	opts  config.GzipOptions

	contentType string
	declaredCL  bool

	gz      *gzip.Writer
	engaged bool
	decided bool
}

// wrapGzip wraps sink in gzip compression when the client advertises
// support for it and opts enables the feature; otherwise it returns
// sink unchanged so the common case pays no overhead.
func wrapGzip(sink exchange.Sink, acceptEncoding string, opts config.GzipOptions) exchange.Sink {
	if !opts.Enabled || !strings.Contains(strings.ToLower(acceptEncoding), "gzip") {
		return sink
	}
	return &gzipSink{inner: sink, opts: opts}
}

func (s *gzipSink) SetStatus(code int) { s.inner.SetStatus(code) }

func (s *gzipSink) SetHeader(name, value string) {
	switch strings.ToLower(name) {
	case "content-type":
		s.contentType = value
	case "content-length":
		s.declaredCL = true
	case "content-encoding":
		return // gzipSink decides this header itself once engaged
	}
	s.inner.SetHeader(name, value)
}

func (s *gzipSink) decide() {
	s.decided = true
	if s.declaredCL {
		return
	}
	if len(s.opts.MIMEAllowlist) > 0 && !mimeAllowed(s.contentType, s.opts.MIMEAllowlist) {
		return
	}
	s.inner.SetHeader("Content-Encoding", "gzip")
	s.gz = gzip.NewWriter(sinkWriter{s.inner})
	s.engaged = true
}

func mimeAllowed(contentType string, allow []string) bool {
	for _, a := range allow {
		if strings.HasPrefix(contentType, a) {
			return true
		}
	}
	return false
}

// sinkWriter adapts a Sink's WriteChunk to io.Writer so gzip.Writer can
// flush compressed bytes straight through it.
type sinkWriter struct{ s exchange.Sink }

func (w sinkWriter) Write(p []byte) (int, error) {
	if err := w.s.WriteChunk(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *gzipSink) WriteChunk(p []byte) error {
	if !s.decided {
		s.decide()
	}
	if s.engaged {
		_, err := s.gz.Write(p)
		return err
	}
	return s.inner.WriteChunk(p)
}

// WriteFull passes a known-length body straight through when gzip
// never engages; once engaged, the compressed length isn't known
// upfront, so the bytes fall back through the gz writer's chunked path
// and Finish, same tradeoff as the streaming case.
func (s *gzipSink) WriteFull(p []byte) error {
	if !s.decided {
		s.decide()
	}
	if s.engaged {
		if _, err := s.gz.Write(p); err != nil {
			return err
		}
		if err := s.gz.Close(); err != nil {
			return err
		}
		return s.inner.Finish(nil)
	}
	return s.inner.WriteFull(p)
}

func (s *gzipSink) Finish(trailers h1.Header) error {
	if !s.decided {
		s.decide()
	}
	if s.engaged {
		if err := s.gz.Close(); err != nil {
			return err
		}
	}
	return s.inner.Finish(trailers)
}
