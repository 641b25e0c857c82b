package vdpu

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SessionConfig configures one decode session.
type SessionConfig struct {
	Mode   CodecMode
	Width  uint16 // coded frame width in pixels
	Height uint16 // coded frame height in pixels
}

// Session is one decode stream multiplexed onto the device. It owns two
// FIFO buffer queues and a registry of output buffers that delta frames
// reference by index. A session becomes ready when both queues are
// non-empty; the device then binds the heads of both queues to a job.
type Session struct {
	id  string
	dev *Device
	cfg SessionConfig
	ops *codecOps

	// hw is the codec hardware context, owned by the codec init/exit ops.
	hw struct {
		vp8d vp8dContext
	}

	// run holds the buffers and header of the job currently on the
	// engine. Written by the dispatcher, read by the codec ops, valid
	// only between dispatch and completion.
	run struct {
		src *Buffer
		dst *Buffer
		hdr *FrameHeader
	}

	// Queue and registry state, guarded by dev.mu.
	srcQueue []*Buffer
	dstQueue []*Buffer
	dstBufs  []*Buffer
	inReady  bool
	closed   bool
}

// OpenSession creates a session on the device. The codec context is
// allocated up front so a session that opens successfully can always
// run.
func (d *Device) OpenSession(cfg SessionConfig) (*Session, error) {
	ops := opsForMode(cfg.Mode)
	if ops == nil {
		return nil, fmt.Errorf("session: unsupported codec mode %q", cfg.Mode)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("session: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDeviceClosed
	}
	if d.suspended.Load() {
		return nil, ErrEngineSuspended
	}

	s := &Session{
		id:  uuid.NewString(),
		dev: d,
		cfg: cfg,
		ops: ops,
	}
	if err := ops.init(s); err != nil {
		return nil, fmt.Errorf("session: codec init: %w", err)
	}

	d.log.Info("session opened", "session", s.id, "mode", cfg.Mode.String(),
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	return s, nil
}

// ID returns the session identifier used in device logs.
func (s *Session) ID() string { return s.id }

// Mode returns the session's codec mode.
func (s *Session) Mode() CodecMode { return s.cfg.Mode }

// AddOutputBuffer registers an output buffer and returns its registry
// index. Frame headers reference previously decoded frames by these
// indices. Registration order defines the index; buffers stay
// registered until the session closes.
func (s *Session) AddOutputBuffer(buf *Buffer) int {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	buf.registryIndex = len(s.dstBufs)
	s.dstBufs = append(s.dstBufs, buf)
	return buf.registryIndex
}

// QueueInput queues a bitstream buffer with its parsed frame header.
// The buffer completes when the job consuming it finishes.
func (s *Session) QueueInput(buf *Buffer, hdr *FrameHeader) error {
	s.dev.mu.Lock()
	if s.closed {
		s.dev.mu.Unlock()
		return ErrSessionClosed
	}
	buf.frameHdr = hdr
	s.srcQueue = append(s.srcQueue, buf)
	s.dev.mu.Unlock()

	s.dev.notifyReady(s)
	return nil
}

// QueueOutput queues a registered output buffer for the next decoded
// frame. Buffers not yet registered are registered implicitly.
func (s *Session) QueueOutput(buf *Buffer) error {
	s.dev.mu.Lock()
	if s.closed {
		s.dev.mu.Unlock()
		return ErrSessionClosed
	}
	if buf.registryIndex < 0 {
		buf.registryIndex = len(s.dstBufs)
		s.dstBufs = append(s.dstBufs, buf)
	}
	s.dstQueue = append(s.dstQueue, buf)
	s.dev.mu.Unlock()

	s.dev.notifyReady(s)
	return nil
}

// resolveRef maps a frame header reference index to a registered output
// buffer. Out-of-range indices, including the ones a malformed stream
// carries, resolve to the current job's own output so the engine never
// reads an unmapped address.
func (s *Session) resolveRef(idx int) *Buffer {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if idx >= 0 && idx < len(s.dstBufs) {
		return s.dstBufs[idx]
	}
	return s.run.dst
}

// Close shuts the session down: it leaves the readiness queue, waits
// for its in-flight job if one is on the engine, errors out all queued
// buffers and releases the codec context. Queued buffers complete with
// ResultError so waiters are never stranded.
func (s *Session) Close(ctx context.Context) error {
	s.dev.mu.Lock()
	if s.closed {
		s.dev.mu.Unlock()
		return ErrSessionClosed
	}
	s.closed = true

	if s.inReady {
		for i, r := range s.dev.ready {
			if r == s {
				s.dev.ready = append(s.dev.ready[:i], s.dev.ready[i+1:]...)
				break
			}
		}
		s.inReady = false
	}

	src := s.srcQueue
	dst := s.dstQueue
	s.srcQueue = nil
	s.dstQueue = nil
	s.dstBufs = nil

	// Wait out our own job; the engine may still be writing into the
	// buffers and scratch memory bound to it.
	waitErr := func() error {
		for s.dev.current != nil && s.dev.current.session == s {
			ch := s.dev.idleCh
			s.dev.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				s.dev.mu.Lock()
				return ctx.Err()
			}
			s.dev.mu.Lock()
		}
		return nil
	}()
	s.dev.mu.Unlock()

	for _, b := range src {
		b.complete(ResultError)
	}
	for _, b := range dst {
		b.complete(ResultError)
	}

	if waitErr != nil {
		// The engine still holds the codec context; it cannot be freed.
		return waitErr
	}

	s.ops.exit(s)
	s.dev.log.Info("session closed", "session", s.id,
		"dropped_in", len(src), "dropped_out", len(dst))
	return nil
}
