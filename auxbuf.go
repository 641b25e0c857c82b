package vdpu

import (
	"fmt"
	"sync"
)

// AuxBuffer is a hardware-addressable scratch region used for codec
// side data (probability table, segmentation map). It is visible both
// to the CPU, through Data, and to the engine, through DeviceAddr.
type AuxBuffer struct {
	Data       []byte
	DeviceAddr uint32
	Size       int
}

// zero clears the buffer contents.
func (b *AuxBuffer) zero() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// AuxAllocator allocates device-visible scratch memory. Implementations
// must return zero-initialized regions and tolerate Free being called
// more than once on the same handle.
type AuxAllocator interface {
	// Alloc returns a zeroed scratch region of at least size bytes, or
	// ErrOutOfMemory when the device address space is exhausted.
	Alloc(size int) (*AuxBuffer, error)

	// Free releases the region and clears the handle's fields so a
	// double free is harmless.
	Free(buf *AuxBuffer)
}

// ArenaAllocator is an AuxAllocator carving scratch buffers out of one
// contiguous device-visible arena. It backs the software engine model
// and tests; on real hardware, an allocator over the DMA window takes
// its place.
type ArenaAllocator struct {
	base uint32
	cap  int

	mu   sync.Mutex
	next int
	free map[uint32]int // device addr -> size of released regions
}

// NewArenaAllocator creates an allocator over a device address window
// starting at base and spanning capacity bytes.
func NewArenaAllocator(base uint32, capacity int) *ArenaAllocator {
	return &ArenaAllocator{
		base: base,
		cap:  capacity,
		free: make(map[uint32]int),
	}
}

// Alloc implements AuxAllocator. Regions are aligned to 64 bytes, the
// engine's widest burst granularity.
func (a *ArenaAllocator) Alloc(size int) (*AuxBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("aux alloc: invalid size %d", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// First fit among released regions.
	for addr, freeSize := range a.free {
		if freeSize >= size {
			delete(a.free, addr)
			return &AuxBuffer{
				Data:       make([]byte, size),
				DeviceAddr: addr,
				Size:       size,
			}, nil
		}
	}

	aligned := (a.next + 63) &^ 63
	if aligned+size > a.cap {
		return nil, ErrOutOfMemory
	}
	a.next = aligned + size

	return &AuxBuffer{
		Data:       make([]byte, size),
		DeviceAddr: a.base + uint32(aligned),
		Size:       size,
	}, nil
}

// Free implements AuxAllocator. Freeing an already cleared handle is a
// no-op.
func (a *ArenaAllocator) Free(buf *AuxBuffer) {
	if buf == nil || buf.Data == nil {
		return
	}

	a.mu.Lock()
	a.free[buf.DeviceAddr] = buf.Size
	a.mu.Unlock()

	buf.Data = nil
	buf.DeviceAddr = 0
	buf.Size = 0
}
