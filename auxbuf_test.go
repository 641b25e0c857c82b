package vdpu

import (
	"errors"
	"testing"
)

func TestArenaAllocatorAlignment(t *testing.T) {
	a := NewArenaAllocator(0x1000, 4096)

	b1, err := a.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b2, err := a.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if b1.DeviceAddr%64 != 0 || b2.DeviceAddr%64 != 0 {
		t.Errorf("addresses not 64-byte aligned: %#x %#x", b1.DeviceAddr, b2.DeviceAddr)
	}
	if b2.DeviceAddr <= b1.DeviceAddr {
		t.Errorf("regions overlap: %#x then %#x", b1.DeviceAddr, b2.DeviceAddr)
	}
	if len(b1.Data) != 10 || b1.Size != 10 {
		t.Errorf("region size = %d/%d, want 10", len(b1.Data), b1.Size)
	}
	for _, b := range b1.Data {
		if b != 0 {
			t.Fatal("region not zeroed")
		}
	}
}

func TestArenaAllocatorReuseAfterFree(t *testing.T) {
	a := NewArenaAllocator(0, 4096)

	b1, _ := a.Alloc(128)
	addr := b1.DeviceAddr
	a.Free(b1)

	b2, err := a.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}
	if b2.DeviceAddr != addr {
		t.Errorf("freed region not reused: got %#x, want %#x", b2.DeviceAddr, addr)
	}
}

func TestArenaAllocatorExhaustion(t *testing.T) {
	a := NewArenaAllocator(0, 128)

	if _, err := a.Alloc(100); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := a.Alloc(100); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("error = %v, want ErrOutOfMemory", err)
	}
}

func TestArenaAllocatorDoubleFree(t *testing.T) {
	a := NewArenaAllocator(0, 4096)

	b, _ := a.Alloc(64)
	a.Free(b)
	a.Free(b) // cleared handle, must be a no-op

	if b.Data != nil || b.DeviceAddr != 0 || b.Size != 0 {
		t.Errorf("handle not cleared: %+v", b)
	}
}

func TestArenaAllocatorRejectsInvalidSize(t *testing.T) {
	a := NewArenaAllocator(0, 4096)
	if _, err := a.Alloc(0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := a.Alloc(-1); err == nil {
		t.Error("expected error for negative size")
	}
}
