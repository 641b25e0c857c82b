package vdpu

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// VP8StreamAssembler reassembles complete VP8 bitstream frames from an
// RTP packet stream using pion's VP8 payload descriptor parsing. One
// assembler serves one SSRC; packets are expected in order, and a
// timestamp change discards any partial frame.
type VP8StreamAssembler struct {
	depacketizer codecs.VP8Packet
	buffer       []byte
	timestamp    uint32
	frameType    FrameType
	mu           sync.Mutex
}

// NewVP8StreamAssembler creates an empty assembler.
func NewVP8StreamAssembler() *VP8StreamAssembler {
	return &VP8StreamAssembler{}
}

// Push processes one RTP packet and returns a complete frame when the
// packet carries the frame's marker bit, or nil while the frame is
// still accumulating.
func (a *VP8StreamAssembler) Push(packet *rtp.Packet) (*EncodedFrame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.depacketizer.Unmarshal(packet.Payload); err != nil {
		return nil, fmt.Errorf("VP8 unmarshal failed: %w", err)
	}

	// Timestamp change means a new frame started; drop the partial one.
	if a.timestamp != 0 && a.timestamp != packet.Header.Timestamp {
		a.buffer = a.buffer[:0]
	}
	a.timestamp = packet.Header.Timestamp

	// The first payload byte of the first partition carries the
	// keyframe flag, inverted.
	if a.depacketizer.S == 1 && a.depacketizer.PID == 0 {
		if len(a.depacketizer.Payload) > 0 && (a.depacketizer.Payload[0]&0x01) == 0 {
			a.frameType = FrameTypeKey
		} else {
			a.frameType = FrameTypeDelta
		}
	}

	a.buffer = append(a.buffer, a.depacketizer.Payload...)

	if packet.Header.Marker {
		frame := &EncodedFrame{
			Data:      make([]byte, len(a.buffer)),
			FrameType: a.frameType,
			Timestamp: a.timestamp,
		}
		copy(frame.Data, a.buffer)
		a.buffer = a.buffer[:0]
		a.frameType = FrameTypeUnknown
		return frame, nil
	}
	return nil, nil
}

// PushBytes processes raw RTP packet bytes.
func (a *VP8StreamAssembler) PushBytes(data []byte) (*EncodedFrame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return a.Push(&pkt)
}

// Reset clears any buffered partial frame.
func (a *VP8StreamAssembler) Reset() {
	a.mu.Lock()
	a.buffer = a.buffer[:0]
	a.timestamp = 0
	a.frameType = FrameTypeUnknown
	a.mu.Unlock()
}
