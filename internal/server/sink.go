package server

import (
	"github.com/zendrift/httpcore/internal/h1"
	"github.com/zendrift/httpcore/internal/h2"
)

// h1Sink adapts h1.Writer to the exchange.Sink interface so the
// Exchange state machine stays transport-agnostic.
type h1Sink struct {
	w *h1.Writer
}

func (s *h1Sink) SetStatus(code int)          { s.w.SetStatus(code) }
func (s *h1Sink) SetHeader(name, value string) { s.w.SetHeader(name, value) }
func (s *h1Sink) WriteChunk(p []byte) error    { return s.w.WriteChunk(p) }
func (s *h1Sink) WriteFull(p []byte) error     { return s.w.WriteFull(p) }
func (s *h1Sink) Finish(trailers h1.Header) error { return s.w.Finish(trailers) }

// h2Sink adapts h2.ResponseWriter to the same interface.
type h2Sink struct {
	w *h2.ResponseWriter
}

func (s *h2Sink) SetStatus(code int)          { s.w.SetStatus(code) }
func (s *h2Sink) SetHeader(name, value string) { s.w.SetHeader(name, value) }
func (s *h2Sink) WriteChunk(p []byte) error    { return s.w.WriteData(p, false) }
func (s *h2Sink) WriteFull(p []byte) error     { return s.w.WriteFull(p) }
func (s *h2Sink) Finish(trailers h1.Header) error { return s.w.End(trailers) }
