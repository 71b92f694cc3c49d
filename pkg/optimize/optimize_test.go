package optimize

import (
	"testing"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1024)

	// Get buffer
	buf := pool.Get(1024)
	if len(buf) != 1024 {
		t.Errorf("expected buffer size 1024, got %d", len(buf))
	}

	// Put back
	pool.Put(buf)

	// Get again (should reuse)
	buf2 := pool.Get(512)
	if len(buf2) != 512 {
		t.Errorf("expected buffer size 512, got %d", len(buf2))
	}
	if cap(buf2) < 1024 {
		t.Errorf("expected capacity >= 1024, got %d", cap(buf2))
	}
}

func TestBufferPool_Grows(t *testing.T) {
	pool := NewBufferPool[int16](960)

	buf := pool.Get(1920)
	if len(buf) != 1920 {
		t.Errorf("expected length 1920, got %d", len(buf))
	}
	pool.Put(buf)

	small := make([]int16, 10)
	pool.Put(small) // dropped, too small

	next := pool.Get(960)
	if len(next) != 960 {
		t.Errorf("expected length 960, got %d", len(next))
	}
}
