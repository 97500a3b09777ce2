package timing

import "testing"

func TestStatsSnapshotReflectsIncrements(t *testing.T) {
	var s Stats
	s.AddBytesRead(10)
	s.AddBytesSent(20)
	s.RequestStarted()
	s.RequestStarted()
	s.RequestCompleted()
	s.InvalidRequest()
	s.RejectedOverload()
	s.FailedToConnect()
	s.ConnectionOpened()
	s.ConnectionOpened()
	s.ConnectionClosed()

	snap := s.Snapshot()
	if snap.BytesRead != 10 || snap.BytesSent != 20 {
		t.Fatalf("bytes wrong: %+v", snap)
	}
	if snap.ActiveRequests != 1 || snap.CompletedRequests != 1 {
		t.Fatalf("request counts wrong: %+v", snap)
	}
	if snap.InvalidHTTPRequests != 1 || snap.RejectedDueToOverload != 1 || snap.FailedToConnect != 1 {
		t.Fatalf("error counters wrong: %+v", snap)
	}
	if snap.ActiveConnections != 1 {
		t.Fatalf("active connections = %d, want 1", snap.ActiveConnections)
	}
}
