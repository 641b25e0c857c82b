// Core frame header and buffer types used across the vdpu package.
package vdpu

import (
	"context"
	"sync"
	"sync/atomic"
)

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // Can be decoded independently
	FrameTypeDelta             // Requires previously decoded frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// SegmentHeader holds the VP8 segmentation parameters of one frame.
type SegmentHeader struct {
	Enabled      bool     // Segmentation in use for this frame
	UpdateMap    bool     // Segment map is updated by this frame
	AbsoluteMode bool     // Per-segment values are absolute, not deltas
	QuantUpdate  [4]int8  // Per-segment quantizer (value or delta)
	LfUpdate     [4]int8  // Per-segment loop filter level (value or delta)
	Probs        [3]uint8 // Segment id tree probabilities
}

// LoopFilterHeader holds the VP8 loop filter parameters of one frame.
type LoopFilterHeader struct {
	Simple        bool    // Simple filter type selected
	Level         uint8   // Filter level, 0..63
	Sharpness     uint8   // Sharpness level, 0..7
	AdjustEnabled bool    // Per-reference/per-mode deltas in use
	RefFrameDelta [4]int8 // Adjustment per reference frame type
	MBModeDelta   [4]int8 // Adjustment per macroblock mode
}

// QuantHeader holds the VP8 quantization indices of one frame. The five
// delta fields are signed adjustments relative to YacQi.
type QuantHeader struct {
	YacQi     uint8 // Luma AC base index, 0..127
	YDcDelta  int8
	Y2DcDelta int8
	Y2AcDelta int8
	UVDcDelta int8
	UVAcDelta int8
}

// EntropyHeader holds the entropy coder probabilities of one frame, in
// the bitstream's natural layout. The register image builder repacks
// them into the hardware probability table.
type EntropyHeader struct {
	CoeffProbs  [4][8][3][11]uint8
	YModeProbs  [4]uint8
	UVModeProbs [3]uint8
	MVProbs     [2][19]uint8
}

// FrameHeader is a fully parsed VP8 frame header as produced by an
// upstream bitstream parser. It is immutable for the duration of the
// job that consumes it.
type FrameHeader struct {
	KeyFrame bool
	Version  uint8 // Bitstream version, 0..3; low two bits select the MC filter
	Width    uint16
	Height   uint16

	// Frame-level probabilities.
	ProbSkipFalse uint8
	ProbIntra     uint8
	ProbLast      uint8
	ProbGF        uint8

	MBNoSkipCoeff bool // mb_no_skip_coeff: per-MB skip flag not coded

	Segment    SegmentHeader
	LoopFilter LoopFilterHeader
	Quant      QuantHeader
	Entropy    EntropyHeader

	// Boolean decoder state at the start of macroblock data.
	BoolDecRange uint32
	BoolDecValue uint32
	BoolDecCount uint32

	// Partition layout. The control partition starts at FirstPartOffset
	// bytes into the source buffer; the DCT partition size table and the
	// DCT partitions follow it. NumDCTParts is 1, 2, 4 or 8.
	FirstPartOffset     uint32
	FirstPartSize       uint32
	MacroblockBitOffset uint32
	NumDCTParts         int
	DCTPartSizes        [8]uint32

	// Reference frame indices into the session's output buffer registry.
	// An out-of-range index resolves to the current job's own output.
	LastFrame   int
	GoldenFrame int
	AltFrame    int

	SignBiasGolden    bool
	SignBiasAlternate bool
}

// Type returns the frame type derived from the keyframe flag.
func (h *FrameHeader) Type() FrameType {
	if h.KeyFrame {
		return FrameTypeKey
	}
	return FrameTypeDelta
}

// BufferState is the completion state of a Buffer.
type BufferState int

const (
	BufferPending BufferState = iota // Queued or bound to a job
	BufferDone                       // Completed successfully
	BufferError                      // Completed with an error
)

func (s BufferState) String() string {
	switch s {
	case BufferPending:
		return "pending"
	case BufferDone:
		return "done"
	case BufferError:
		return "error"
	}
	return "unknown"
}

// Buffer is a memory handle supplied by an external buffer subsystem.
// It carries a CPU-visible byte slice and the device-visible address of
// the same memory. The core never allocates or frees buffer memory; it
// dequeues buffers, binds them to jobs and signals their completion
// exactly once.
type Buffer struct {
	Data       []byte
	DeviceAddr uint32
	Timestamp  int64 // Presentation timestamp in nanoseconds, copied input->output

	state      atomic.Int32
	doneCh     chan struct{}
	onComplete func(*Buffer, Result)
	cbMu       sync.Mutex

	// Per-run data attached by the submitter. For VP8 input buffers this
	// is the parsed frame header.
	frameHdr *FrameHeader

	// Position in the session's output buffer registry, -1 otherwise.
	registryIndex int
}

// NewBuffer wraps externally owned memory into a Buffer handle.
func NewBuffer(data []byte, deviceAddr uint32) *Buffer {
	return &Buffer{
		Data:          data,
		DeviceAddr:    deviceAddr,
		doneCh:        make(chan struct{}),
		registryIndex: -1,
	}
}

// State returns the buffer's completion state.
func (b *Buffer) State() BufferState {
	return BufferState(b.state.Load())
}

// FrameHeader returns the parsed header attached to an input buffer, or
// nil if none was attached.
func (b *Buffer) FrameHeader() *FrameHeader {
	return b.frameHdr
}

// OnComplete registers a callback invoked once when the buffer reaches a
// terminal state. The callback runs on the completion path, outside the
// scheduler lock.
func (b *Buffer) OnComplete(cb func(*Buffer, Result)) {
	b.cbMu.Lock()
	b.onComplete = cb
	b.cbMu.Unlock()
}

// Wait blocks until the buffer reaches a terminal state or ctx expires.
func (b *Buffer) Wait(ctx context.Context) (BufferState, error) {
	select {
	case <-b.doneCh:
		return b.State(), nil
	case <-ctx.Done():
		return b.State(), ctx.Err()
	}
}

// Reset rearms a completed buffer so it can be queued again.
func (b *Buffer) Reset() {
	b.state.Store(int32(BufferPending))
	b.doneCh = make(chan struct{})
	b.frameHdr = nil
}

// complete signals the terminal state. Safe to call at most once per
// Reset cycle; the scheduler guarantees exactly-once signalling.
func (b *Buffer) complete(res Result) {
	if res == ResultDone {
		b.state.Store(int32(BufferDone))
	} else {
		b.state.Store(int32(BufferError))
	}
	close(b.doneCh)

	b.cbMu.Lock()
	cb := b.onComplete
	b.cbMu.Unlock()
	if cb != nil {
		cb(b, res)
	}
}

// EncodedFrame holds one reassembled VP8 bitstream frame produced by the
// RTP front-end, before it is parsed and bound to an input buffer.
type EncodedFrame struct {
	Data      []byte
	FrameType FrameType
	Timestamp uint32 // RTP timestamp, 90kHz clock
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// Clone creates a deep copy of the encoded frame.
func (f *EncodedFrame) Clone() *EncodedFrame {
	clone := &EncodedFrame{
		FrameType: f.FrameType,
		Timestamp: f.Timestamp,
	}
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return clone
}
