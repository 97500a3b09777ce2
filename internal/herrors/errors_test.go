package herrors

import (
	"errors"
	"testing"
)

func TestStatusOfInvalidRequest(t *testing.T) {
	err := InvalidRequest(414, "h1.parser", "uri too long")
	if StatusOf(err) != 414 {
		t.Fatalf("StatusOf = %d, want 414", StatusOf(err))
	}
	if TypeOf(err) != TypeInvalidRequest {
		t.Fatalf("TypeOf = %v, want %v", TypeOf(err), TypeInvalidRequest)
	}
}

func TestErrorIsMatchesByType(t *testing.T) {
	a := InvalidRequest(400, "op1", "bad")
	b := InvalidRequest(414, "op2", "also bad")
	if !errors.Is(a, b) {
		t.Fatalf("two InvalidRequest errors should match Is() regardless of status/op")
	}
	if errors.Is(a, RejectedOverload("op3", "busy")) {
		t.Fatalf("different error types must not match Is()")
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("socket reset")
	err := ClientDisconnected("h1.serve", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is should find the wrapped cause via Unwrap")
	}
}

func TestIsTimeoutRecognizesStructuredTimeout(t *testing.T) {
	err := TimedOut(408, "exchange", 0)
	if !IsTimeout(err) {
		t.Fatalf("expected IsTimeout to recognize a structured TimedOut error")
	}
	if IsTimeout(errors.New("plain error")) {
		t.Fatalf("a plain error should not be reported as a timeout")
	}
}

func TestStatusOfUnstructuredErrorIsZero(t *testing.T) {
	if StatusOf(errors.New("boom")) != 0 {
		t.Fatalf("StatusOf should be 0 for a non-structured error")
	}
}
