// Package timing provides the process-wide counters (bytes,
// connections, rejections) and the idle/read/write deadline scheduler
// (a hashed timer wheel) that the connection manager consults, using a plain atomic-counter idiom throughout.
package timing

import "sync/atomic"

// Stats holds the process-wide counters exposed to embedders. All
// increments are atomic; Snapshot returns an eventually-consistent
// read of the whole set.
type Stats struct {
	bytesRead             int64
	bytesSent             int64
	completedRequests     int64
	activeRequests        int64
	invalidHTTPRequests   int64
	rejectedDueToOverload int64
	failedToConnect       int64
	activeConnections     int64
}

// Snapshot is an immutable point-in-time read of Stats.
type Snapshot struct {
	BytesRead             int64
	BytesSent             int64
	CompletedRequests     int64
	ActiveRequests        int64
	InvalidHTTPRequests   int64
	RejectedDueToOverload int64
	FailedToConnect       int64
	ActiveConnections     int64
}

func (s *Stats) AddBytesRead(n int64) { atomic.AddInt64(&s.bytesRead, n) }
func (s *Stats) AddBytesSent(n int64) { atomic.AddInt64(&s.bytesSent, n) }

func (s *Stats) RequestStarted()   { atomic.AddInt64(&s.activeRequests, 1) }
func (s *Stats) RequestCompleted() {
	atomic.AddInt64(&s.activeRequests, -1)
	atomic.AddInt64(&s.completedRequests, 1)
}

func (s *Stats) InvalidRequest()     { atomic.AddInt64(&s.invalidHTTPRequests, 1) }
func (s *Stats) RejectedOverload()   { atomic.AddInt64(&s.rejectedDueToOverload, 1) }
func (s *Stats) FailedToConnect()    { atomic.AddInt64(&s.failedToConnect, 1) }
func (s *Stats) ConnectionOpened()   { atomic.AddInt64(&s.activeConnections, 1) }
func (s *Stats) ConnectionClosed()   { atomic.AddInt64(&s.activeConnections, -1) }

// Snapshot returns a consistent-enough read of every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesRead:             atomic.LoadInt64(&s.bytesRead),
		BytesSent:             atomic.LoadInt64(&s.bytesSent),
		CompletedRequests:     atomic.LoadInt64(&s.completedRequests),
		ActiveRequests:        atomic.LoadInt64(&s.activeRequests),
		InvalidHTTPRequests:   atomic.LoadInt64(&s.invalidHTTPRequests),
		RejectedDueToOverload: atomic.LoadInt64(&s.rejectedDueToOverload),
		FailedToConnect:       atomic.LoadInt64(&s.failedToConnect),
		ActiveConnections:     atomic.LoadInt64(&s.activeConnections),
	}
}
