package h2

import (
	"testing"

	"golang.org/x/net/http2"
)

func TestStreamStateTransitions(t *testing.T) {
	s := newStream(1, DefaultInitialWindow)
	if s.State() != StateIdle {
		t.Fatalf("new stream should start Idle")
	}
	if !s.setState(StateOpen) {
		t.Fatalf("Idle -> Open should be legal")
	}
	if !s.setState(StateHalfClosedRemote) {
		t.Fatalf("Open -> HalfClosedRemote should be legal")
	}
	if s.setState(StateOpen) {
		t.Fatalf("HalfClosedRemote -> Open must be rejected")
	}
	if !s.setState(StateClosed) {
		t.Fatalf("HalfClosedRemote -> Closed should be legal")
	}
	if s.setState(StateOpen) {
		t.Fatalf("Closed is terminal; no further transitions")
	}
}

func TestTableCreateRejectsOverConcurrencyCap(t *testing.T) {
	tbl := newTable(1)
	if _, code := tbl.create(1, DefaultInitialWindow); code != 0 {
		t.Fatalf("first stream should be accepted, got code %v", code)
	}
	_, code := tbl.create(3, DefaultInitialWindow)
	if code != http2.ErrCodeRefusedStream {
		t.Fatalf("second stream over the cap should be refused, got %v", code)
	}
}

func TestTableCreateRejectsNonIncreasingStreamID(t *testing.T) {
	tbl := newTable(10)
	if _, code := tbl.create(5, DefaultInitialWindow); code != 0 {
		t.Fatalf("first stream should be accepted, got %v", code)
	}
	_, code := tbl.create(3, DefaultInitialWindow)
	if code != http2.ErrCodeProtocol {
		t.Fatalf("a lower stream id than already seen must be a protocol error, got %v", code)
	}
}

func TestTableRemoveFreesCapacity(t *testing.T) {
	tbl := newTable(1)
	if _, code := tbl.create(1, DefaultInitialWindow); code != 0 {
		t.Fatalf("create: code %v", code)
	}
	tbl.remove(1)
	if _, code := tbl.create(3, DefaultInitialWindow); code != 0 {
		t.Fatalf("removing a stream should free a concurrency slot, got %v", code)
	}
}

func TestTableOpenCountIgnoresClosedStreams(t *testing.T) {
	tbl := newTable(10)
	s, _ := tbl.create(1, DefaultInitialWindow)
	if got := tbl.openCount(); got != 1 {
		t.Fatalf("openCount = %d, want 1", got)
	}
	s.setState(StateHalfClosedRemote)
	s.setState(StateClosed)
	if got := tbl.openCount(); got != 0 {
		t.Fatalf("closed stream should not count as open, got %d", got)
	}
}
