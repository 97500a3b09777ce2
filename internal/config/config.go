// Package config carries the server engine's tunables and ambient
// collaborators (logging, cipher selection) that every other internal
// package is handed by reference rather than reaching for globals.
package config

import (
	"crypto/tls"
	"errors"
	"log"
	"time"
)

// BodyTooLargeAction selects what happens when a request body crosses
// max_request_size.
type BodyTooLargeAction int

const (
	// SendResponse answers 413, drains and discards the remaining body
	// bytes, and keeps the connection open for the next request.
	SendResponse BodyTooLargeAction = iota
	// KillConnection closes the socket immediately without attempting
	// a response.
	KillConnection
)

// Logger is the minimal ambient logging interface the engine depends
// on; embedders can plug in any structured logger that satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// DefaultLogger wraps the standard library logger.
func DefaultLogger() Logger {
	return stdLogger{l: log.Default()}
}

// CipherFilter narrows the platform's supported cipher suites down to
// the ones the server is willing to negotiate. defaultSuites is Go's
// own secure default set, handed alongside supported so a filter can
// choose to widen or narrow relative to it rather than reconstruct it.
// The default filter ignores supported and returns defaultSuites.
type CipherFilter func(supported, defaultSuites []uint16) []uint16

func defaultCipherFilter(supported, defaultSuites []uint16) []uint16 { return defaultSuites }

// ErrExecutorFull is returned by a HandlerExecutor that rejects a task
// because it is at capacity; the caller answers 503 and bumps the
// rejected-due-to-overload counter rather than blocking.
var ErrExecutorFull = errors.New("config: handler executor at capacity")

// NewBoundedExecutor returns a HandlerExecutor backed by a fixed-size
// semaphore: up to capacity handlers may run concurrently, and a task
// submitted while the semaphore is full is rejected immediately rather
// than queued, per the "reject, don't queue" overload behavior.
func NewBoundedExecutor(capacity int) func(func()) error {
	if capacity <= 0 {
		capacity = 1
	}
	sem := make(chan struct{}, capacity)
	return func(task func()) error {
		select {
		case sem <- struct{}{}:
		default:
			return ErrExecutorFull
		}
		defer func() { <-sem }()
		task()
		return nil
	}
}

// GzipOptions mirrors the enumerated gzip configuration.
type GzipOptions struct {
	Enabled      bool
	MinSize      int
	MIMEAllowlist []string
}

// Options enumerates every tunable named in the configuration table,
// plus the ambient collaborators every component needs a reference to.
type Options struct {
	HTTPPort  int // -1 disables, 0 picks any free port
	HTTPSPort int

	MaxHeadersSize  int // default 8192, reject 431
	MaxURLSize      int // default 8175, reject 414
	MaxRequestSize  int64 // default 24 MiB

	RequestBodyTooLargeAction BodyTooLargeAction

	IdleTimeout          time.Duration
	RequestReadTimeout   time.Duration
	ResponseWriteTimeout time.Duration

	Gzip GzipOptions

	// NIOThreads sizes the I/O worker pool driving connection reads and
	// writes; HandlerExecutor, if set, offloads handler invocation onto
	// an application-supplied pool instead of the I/O goroutines. It
	// runs task synchronously and returns once task has finished, or
	// returns an error (typically ErrExecutorFull) without running task
	// at all when the pool is saturated.
	NIOThreads      int
	HandlerExecutor func(task func()) error

	TLSConfig    *tls.Config
	CipherFilter CipherFilter

	Logger Logger

	// MaxConcurrentStreamsPerConn bounds HTTP/2 stream concurrency; 0
	// uses the protocol default of 100.
	MaxConcurrentStreamsPerConn uint32

	// UpstreamHealthCheckProxy, if set, is a SOCKS5 proxy address used
	// by the optional outbound dial-health-check helper.
	UpstreamHealthCheckProxy string
}

// Defaults returns an Options populated with the enumerated defaults.
func Defaults() *Options {
	return &Options{
		HTTPPort:                    8080,
		HTTPSPort:                   -1,
		MaxHeadersSize:              8192,
		MaxURLSize:                  8175,
		MaxRequestSize:              24 * 1024 * 1024,
		RequestBodyTooLargeAction:   SendResponse,
		IdleTimeout:                 10 * time.Minute,
		RequestReadTimeout:          2 * time.Minute,
		ResponseWriteTimeout:        2 * time.Minute,
		Gzip:                        GzipOptions{Enabled: true, MinSize: 1400},
		NIOThreads:                  4,
		HandlerExecutor:             NewBoundedExecutor(1024),
		CipherFilter:                defaultCipherFilter,
		Logger:                      DefaultLogger(),
		MaxConcurrentStreamsPerConn: 100,
	}
}

// MaxBufferSize is the byte-cursor growth ceiling, the larger of the
// two header-ish limits per the buffer pool's invariant.
func (o *Options) MaxBufferSize() int {
	if o.MaxURLSize > o.MaxHeadersSize {
		return o.MaxURLSize
	}
	return o.MaxHeadersSize
}
