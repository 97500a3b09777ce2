package bufpool

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/zendrift/httpcore/internal/herrors"
)

// DefaultSpillLimit is the in-memory ceiling before a SpillBuffer starts
// writing to a temporary file.
const DefaultSpillLimit = 4 * 1024 * 1024

// SpillBuffer accumulates a full request or response body in memory up
// to a configured limit, then spills the remainder to a temp file. A
// handler opts into this when it retains a body rather than streaming
// it straight through to the peer.
type SpillBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	closed bool
}

// NewSpillBuffer creates a SpillBuffer with the given memory limit; a
// non-positive limit uses DefaultSpillLimit.
func NewSpillBuffer(limit int64) *SpillBuffer {
	if limit <= 0 {
		limit = DefaultSpillLimit
	}
	return &SpillBuffer{limit: limit}
}

func (b *SpillBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, herrors.Internal("spillbuffer.write", "buffer is closed", nil)
	}
	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "httpcore-body-*.tmp")
		if err != nil {
			return 0, herrors.Internal("spillbuffer.write", "creating temp file", err)
		}
		b.file = tmp
		b.path = tmp.Name()
		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.closeLocked()
				return 0, herrors.Internal("spillbuffer.write", "writing temp file", err)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, herrors.Internal("spillbuffer.write", "writing temp file", err)
	}
	return n, nil
}

// Size returns the total bytes written so far.
func (b *SpillBuffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the buffer moved to disk.
func (b *SpillBuffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh, independent reader over the accumulated data.
func (b *SpillBuffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, herrors.Internal("spillbuffer.reader", "buffer is closed", nil)
	}
	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, herrors.Internal("spillbuffer.reader", "syncing temp file", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, herrors.Internal("spillbuffer.reader", "opening temp file", err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close releases the temp file, if any. Idempotent and safe to call
// more than once.
func (b *SpillBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *SpillBuffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.file != nil {
		err := b.file.Close()
		if rmErr := os.Remove(b.path); rmErr != nil && err == nil {
			err = rmErr
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return herrors.Internal("spillbuffer.close", "closing temp file", err)
		}
	}
	return nil
}
