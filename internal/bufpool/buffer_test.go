package bufpool

import "testing"

func TestBufferFillAndAdvance(t *testing.T) {
	b := NewBuffer(64)
	free, err := b.Free()
	if err != nil {
		t.Fatalf("Free: %v", err)
	}
	n := copy(free, "GET / HTTP/1.1\r\n")
	b.Fill(n)

	if got := string(b.Bytes()); got != "GET / HTTP/1.1\r\n" {
		t.Fatalf("Bytes = %q", got)
	}

	b.Advance(4)
	if got := string(b.Bytes()); got != "/ HTTP/1.1\r\n" {
		t.Fatalf("Bytes after Advance = %q", got)
	}
}

func TestBufferCompact(t *testing.T) {
	b := NewBuffer(16)
	free, _ := b.Free()
	n := copy(free, "0123456789ABCDEF")
	b.Fill(n)
	b.Advance(10)
	b.Compact()

	if b.position != 0 {
		t.Fatalf("position after Compact = %d, want 0", b.position)
	}
	if got := string(b.Bytes()); got != "ABCDEF" {
		t.Fatalf("Bytes after Compact = %q", got)
	}
}

func TestBufferGrowsUntilMax(t *testing.T) {
	b := NewBuffer(32)
	for i := 0; i < 4; i++ {
		free, err := b.Free()
		if err != nil {
			t.Fatalf("Free: %v", err)
		}
		n := copy(free, "01234567")
		b.Fill(n)
	}
	if _, err := b.Free(); err == nil {
		t.Fatalf("expected ErrExhausted once max reached")
	}
}

func TestPoolReusesAndResets(t *testing.T) {
	p := NewPool(64)
	b1 := p.Get()
	free, _ := b1.Free()
	b1.Fill(copy(free, "hello"))
	p.Put(b1)

	b2 := p.Get()
	if b2.Len() != 0 {
		t.Fatalf("pooled buffer not reset, Len = %d", b2.Len())
	}
}
