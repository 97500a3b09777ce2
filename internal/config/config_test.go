package config

import (
	"testing"
	"time"
)

func TestDefaultsMatchSpecTable(t *testing.T) {
	o := Defaults()
	if o.MaxHeadersSize != 8192 {
		t.Errorf("MaxHeadersSize = %d, want 8192", o.MaxHeadersSize)
	}
	if o.MaxURLSize != 8175 {
		t.Errorf("MaxURLSize = %d, want 8175", o.MaxURLSize)
	}
	if o.MaxRequestSize != 24*1024*1024 {
		t.Errorf("MaxRequestSize = %d, want 24 MiB", o.MaxRequestSize)
	}
	if o.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout = %v, want 10m", o.IdleTimeout)
	}
	if o.RequestReadTimeout != 2*time.Minute {
		t.Errorf("RequestReadTimeout = %v, want 2m", o.RequestReadTimeout)
	}
	if o.ResponseWriteTimeout != 2*time.Minute {
		t.Errorf("ResponseWriteTimeout = %v, want 2m", o.ResponseWriteTimeout)
	}
	if o.HTTPSPort != -1 {
		t.Errorf("HTTPSPort default should be disabled (-1), got %d", o.HTTPSPort)
	}
}

func TestMaxBufferSizeIsLargerOfTheTwoBudgets(t *testing.T) {
	o := &Options{MaxURLSize: 100, MaxHeadersSize: 50}
	if got := o.MaxBufferSize(); got != 100 {
		t.Fatalf("MaxBufferSize = %d, want 100", got)
	}
	o = &Options{MaxURLSize: 50, MaxHeadersSize: 200}
	if got := o.MaxBufferSize(); got != 200 {
		t.Fatalf("MaxBufferSize = %d, want 200", got)
	}
}

func TestDefaultCipherFilterPassesThrough(t *testing.T) {
	supported := []uint16{1, 2, 3, 4}
	defaults := []uint16{1, 2}
	out := defaultCipherFilter(supported, defaults)
	if len(out) != len(defaults) {
		t.Fatalf("default cipher filter should return defaultSuites unchanged, got %v", out)
	}
}

func TestNewBoundedExecutorRejectsAtCapacity(t *testing.T) {
	exec := NewBoundedExecutor(1)
	block := make(chan struct{})
	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- exec(func() {
			close(started)
			<-block
		})
	}()
	<-started

	if err := exec(func() {}); err != ErrExecutorFull {
		t.Fatalf("exec at capacity = %v, want ErrExecutorFull", err)
	}
	close(block)
	if err := <-errc; err != nil {
		t.Fatalf("first task returned error: %v", err)
	}
}
