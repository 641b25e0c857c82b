package vdpu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultWatchdogTimeout bounds how long a single decode run may hold
// the engine before it is declared wedged and reset.
const DefaultWatchdogTimeout = 2 * time.Second

// DeviceConfig configures a Device. Regs and Alloc are required; the
// remaining fields have working defaults.
type DeviceConfig struct {
	// Variant selects the register layout of the engine generation.
	Variant Variant

	// Regs is the engine register window.
	Regs RegisterFile

	// Alloc provides device-visible scratch memory for codec contexts.
	Alloc AuxAllocator

	// Logger receives structured device logs. Defaults to a no-op logger.
	Logger hclog.Logger

	// WatchdogTimeout overrides DefaultWatchdogTimeout when positive.
	WatchdogTimeout time.Duration

	// PowerOn and PowerOff bracket every hardware run when set. The
	// engine is powered only while a job occupies it.
	PowerOn  func()
	PowerOff func()
}

// DeviceStats are cumulative counters over the device lifetime.
type DeviceStats struct {
	RunsCompleted  uint64
	RunsFailed     uint64
	WatchdogResets uint64
	SpuriousIRQs   uint64
}

// job binds one input and one output buffer to a run on the engine.
// Exactly one of the interrupt path, the watchdog path or a failed
// dispatch completes it; the done flag arbitrates between them.
type job struct {
	session *Session
	src     *Buffer
	dst     *Buffer

	done    atomic.Bool
	wdTimer *time.Timer
}

// Device multiplexes one decode engine across any number of sessions.
// Sessions queue buffers; the device dispatches at most one job at a
// time, in session readiness order, and completes the job's buffers
// when the engine raises its interrupt or the watchdog expires.
type Device struct {
	variant   Variant
	regs      RegisterFile
	alloc     AuxAllocator
	log       hclog.Logger
	wdTimeout time.Duration
	powerOn   func()
	powerOff  func()

	// running is the engine busy bit; it is claimed with a CAS before
	// any queue state is consumed so concurrent dispatchers never race
	// past each other.
	running   atomic.Bool
	suspended atomic.Bool

	mu      sync.Mutex
	ready   []*Session // FIFO readiness queue, no duplicates
	current *job
	idleCh  chan struct{} // closed whenever current is nil
	closed  bool

	statsMu sync.Mutex
	stats   DeviceStats
}

// NewDevice creates a device over the given engine.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.Variant.regTable() == nil {
		return nil, ErrUnknownVariant
	}
	if cfg.Regs == nil {
		return nil, fmt.Errorf("device: register file is required")
	}
	if cfg.Alloc == nil {
		return nil, fmt.Errorf("device: aux allocator is required")
	}

	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	wd := cfg.WatchdogTimeout
	if wd <= 0 {
		wd = DefaultWatchdogTimeout
	}

	idle := make(chan struct{})
	close(idle)

	d := &Device{
		variant:   cfg.Variant,
		regs:      cfg.Regs,
		alloc:     cfg.Alloc,
		log:       log.Named("vdpu"),
		wdTimeout: wd,
		powerOn:   cfg.PowerOn,
		powerOff:  cfg.PowerOff,
		idleCh:    idle,
	}
	d.log.Info("device ready", "variant", cfg.Variant.String(), "watchdog", wd.String())
	return d, nil
}

// Variant returns the hardware generation the device drives.
func (d *Device) Variant() Variant { return d.variant }

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() DeviceStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// HandleInterrupt delivers the engine interrupt to the scheduler. The
// platform layer calls it from its interrupt bottom half; the software
// engine model calls it from the enable hook.
func (d *Device) HandleInterrupt() {
	d.mu.Lock()
	j := d.current
	d.mu.Unlock()

	if j == nil {
		d.log.Warn("interrupt with no job on the engine")
		d.countSpurious()
		return
	}

	if !j.session.ops.irq(d) {
		d.log.Warn("spurious interrupt", "session", j.session.id)
		d.countSpurious()
		return
	}

	if !j.done.CompareAndSwap(false, true) {
		return
	}
	j.wdTimer.Stop()

	if d.powerOff != nil {
		d.powerOff()
	}
	d.finish(j, ResultDone)
}

// watchdogFire handles a run that never raised its interrupt. The engine
// is reset under the lock so a late interrupt cannot observe it half
// torn down, then the job completes with an error.
func (d *Device) watchdogFire(j *job) {
	d.mu.Lock()
	if d.current != j || !j.done.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return
	}
	j.session.ops.reset(j.session)
	d.mu.Unlock()

	d.log.Error("watchdog expired, engine reset", "session", j.session.id,
		"timeout", d.wdTimeout.String())
	d.statsMu.Lock()
	d.stats.WatchdogResets++
	d.statsMu.Unlock()

	if d.powerOff != nil {
		d.powerOff()
	}
	d.finish(j, ResultError)
}

// finish completes a job: codec readback, buffer completion, scheduler
// state reset, and a dispatch attempt for the next ready session.
func (d *Device) finish(j *job, res Result) {
	s := j.session

	s.ops.done(s, res)
	j.src.complete(res)
	j.dst.complete(res)

	d.statsMu.Lock()
	if res == ResultDone {
		d.stats.RunsCompleted++
	} else {
		d.stats.RunsFailed++
	}
	d.statsMu.Unlock()

	d.mu.Lock()
	d.current = nil
	s.run.src, s.run.dst, s.run.hdr = nil, nil, nil
	close(d.idleCh)
	d.readyLocked(s)
	d.running.Store(false)
	d.mu.Unlock()

	d.log.Debug("run finished", "session", s.id, "result", res.String())
	d.tryDispatch()
}

// readyLocked appends a session to the readiness queue if it can run
// and is not already queued. Caller holds d.mu.
func (d *Device) readyLocked(s *Session) {
	if s.closed || s.inReady || len(s.srcQueue) == 0 || len(s.dstQueue) == 0 {
		return
	}
	s.inReady = true
	d.ready = append(d.ready, s)
}

// notifyReady is called after a session queues a buffer.
func (d *Device) notifyReady(s *Session) {
	d.mu.Lock()
	d.readyLocked(s)
	d.mu.Unlock()
	d.tryDispatch()
}

// tryDispatch starts the next job if the engine is free, the device is
// not suspended and a session is ready. The codec hooks run outside the
// lock; only queue manipulation happens under it.
func (d *Device) tryDispatch() {
	d.mu.Lock()
	if d.closed || d.suspended.Load() || len(d.ready) == 0 {
		d.mu.Unlock()
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return
	}

	s := d.ready[0]
	d.ready = d.ready[1:]
	s.inReady = false

	src := s.srcQueue[0]
	s.srcQueue = s.srcQueue[1:]
	dst := s.dstQueue[0]
	s.dstQueue = s.dstQueue[1:]

	j := &job{session: s, src: src, dst: dst}
	s.run.src, s.run.dst = src, dst
	d.current = j
	d.idleCh = make(chan struct{})
	j.wdTimer = time.AfterFunc(d.wdTimeout, func() { d.watchdogFire(j) })
	d.mu.Unlock()

	d.log.Debug("run started", "session", s.id)
	if d.powerOn != nil {
		d.powerOn()
	}

	if err := s.ops.prepareRun(s); err != nil {
		d.failDispatch(j, err)
		return
	}
	if err := s.ops.run(s); err != nil {
		d.failDispatch(j, err)
		return
	}
}

// failDispatch completes a job whose codec hooks failed before the
// engine was armed.
func (d *Device) failDispatch(j *job, err error) {
	if !j.done.CompareAndSwap(false, true) {
		return
	}
	j.wdTimer.Stop()

	d.log.Error("run rejected", "session", j.session.id, "error", err)
	if d.powerOff != nil {
		d.powerOff()
	}
	d.finish(j, ResultError)
}

// Suspend stops dispatching and waits for the engine to go idle. Queued
// buffers stay queued and open sessions stay open; Resume picks them up
// again. New sessions cannot be opened until then. The suspended state
// persists even if ctx expires before the engine drains.
func (d *Device) Suspend(ctx context.Context) error {
	d.suspended.Store(true)
	for {
		d.mu.Lock()
		idle := d.current == nil
		ch := d.idleCh
		d.mu.Unlock()
		if idle {
			d.log.Info("device suspended")
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resume re-enables dispatching after Suspend.
func (d *Device) Resume() {
	d.suspended.Store(false)
	d.log.Info("device resumed")
	d.tryDispatch()
}

// Close stops the device. Open sessions must be closed first; buffers
// queued on still-open sessions are not completed by Close.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.Suspend(ctx); err != nil {
		return err
	}
	d.log.Info("device closed")
	return nil
}

func (d *Device) countSpurious() {
	d.statsMu.Lock()
	d.stats.SpuriousIRQs++
	d.statsMu.Unlock()
}
