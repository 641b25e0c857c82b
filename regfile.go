package vdpu

import "sync"

// RegisterFile is the engine's register window. The codec operations
// program the engine exclusively through this interface, so the same
// register image builder drives real hardware, the purego shim backend
// and the in-memory model below.
type RegisterFile interface {
	ReadReg(offset uint32) uint32
	WriteReg(offset uint32, value uint32)
}

// SimRegisterFile is an in-memory register file with an optional engine
// model. When the word carrying the decode-enable bit is written with
// that bit set, the model's hook fires, standing in for the hardware
// starting a run. Tests and the software backend use it; a hook that
// never fires models a wedged engine for watchdog coverage.
type SimRegisterFile struct {
	mu   sync.Mutex
	regs []uint32

	enableOffset uint32
	enableMask   uint32
	onEnable     func()
}

// NewSimRegisterFile creates a register file of the given word count.
func NewSimRegisterFile(words int) *SimRegisterFile {
	return &SimRegisterFile{regs: make([]uint32, words)}
}

// OnEnable installs the engine-start hook: fn runs (on its own
// goroutine) whenever a write to offset sets any bit of mask that was
// not already set.
func (s *SimRegisterFile) OnEnable(offset, mask uint32, fn func()) {
	s.mu.Lock()
	s.enableOffset = offset
	s.enableMask = mask
	s.onEnable = fn
	s.mu.Unlock()
}

// ReadReg implements RegisterFile.
func (s *SimRegisterFile) ReadReg(offset uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := int(offset / 4)
	if i >= len(s.regs) {
		return 0
	}
	return s.regs[i]
}

// WriteReg implements RegisterFile.
func (s *SimRegisterFile) WriteReg(offset uint32, value uint32) {
	s.mu.Lock()
	i := int(offset / 4)
	if i >= len(s.regs) {
		s.mu.Unlock()
		return
	}
	prev := s.regs[i]
	s.regs[i] = value

	var fire func()
	if s.onEnable != nil && offset == s.enableOffset &&
		value&s.enableMask != 0 && prev&s.enableMask == 0 {
		fire = s.onEnable
	}
	s.mu.Unlock()

	if fire != nil {
		go fire()
	}
}

// Snapshot returns a copy of the register file contents.
func (s *SimRegisterFile) Snapshot() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.regs))
	copy(out, s.regs)
	return out
}

// AttachSimEngine wires a SimRegisterFile to a Device as an instantly
// completing engine: arming the decode-enable bit raises the decode
// interrupt status and delivers the interrupt to the device. Returns
// false if the device's variant has no register table.
func AttachSimEngine(dev *Device, sim *SimRegisterFile) bool {
	tbl := dev.Variant().regTable()
	if tbl == nil {
		return false
	}
	enable := tbl.spec(regInterruptDecE)
	irq := tbl.spec(regInterruptDecIRQ)
	sim.OnEnable(enable.base, enable.mask<<enable.shift, func() {
		v := sim.ReadReg(irq.base)
		sim.WriteReg(irq.base, v|irq.mask<<irq.shift)
		dev.HandleInterrupt()
	})
	return true
}
