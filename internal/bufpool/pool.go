package bufpool

import "sync"

// Pool hands out fixed-ceiling Buffers for reuse across exchanges,
// avoiding an allocation per request/response on the hot path.
type Pool struct {
	max int
	p   sync.Pool
}

// NewPool creates a Pool whose Buffers may grow up to max bytes.
func NewPool(max int) *Pool {
	pl := &Pool{max: max}
	pl.p.New = func() any { return NewBuffer(pl.max) }
	return pl
}

// Get returns a reset Buffer, reusing one from the pool when available.
func (pl *Pool) Get() *Buffer {
	buf := pl.p.Get().(*Buffer)
	buf.Reset()
	return buf
}

// Put returns a Buffer to the pool.
func (pl *Pool) Put(buf *Buffer) {
	if buf == nil {
		return
	}
	pl.p.Put(buf)
}
