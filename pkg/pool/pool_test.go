package pool

import "testing"

func TestFixedBufferPool(t *testing.T) {
	fp := NewFixedBuffer(4096)

	buf := fp.Get()
	if len(*buf) != 4096 {
		t.Fatalf("expected buffer of len 4096, got %d", len(*buf))
	}
	fp.Put(buf)

	if fp.Size() != 4096 {
		t.Errorf("expected Size() 4096, got %d", fp.Size())
	}
}

func TestFixedBufferPoolRejectsForeignBuffers(t *testing.T) {
	fp := NewFixedBuffer(1024)

	// Wrong capacity must be refused silently.
	foreign := make([]byte, 512)
	fp.Put(&foreign)

	// Nil must not panic.
	fp.Put(nil)

	buf := fp.Get()
	if cap(*buf) != 1024 {
		t.Fatalf("pool handed out a foreign buffer with cap %d", cap(*buf))
	}
}

func TestFixedBufferPoolRestoresLength(t *testing.T) {
	fp := NewFixedBuffer(1024)
	buf := fp.Get()
	*buf = (*buf)[:10]
	fp.Put(buf)

	again := fp.Get()
	if len(*again) != 1024 {
		t.Fatalf("expected full-length buffer after Put, got len %d", len(*again))
	}
}
