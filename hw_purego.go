//go:build (darwin || linux) && !noshim

// Hardware register window via libvdpu_shim using purego.
//
// The shim is a thin platform library mapping the engine's MMIO window
// and routing its interrupt line to a poll call. Loading it dynamically
// keeps the package importable on machines without the hardware; the
// in-memory model serves there instead.
//
// Library locations checked (in order):
//   - VDPU_SHIM_LIB_PATH environment variable
//   - Directory of the running executable
//   - System library paths

package vdpu

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	shimOnce    sync.Once
	shimHandle  uintptr
	shimInitErr error
)

// libvdpu_shim function pointers
var (
	shimOpen     func(variant int32) uint64
	shimClose    func(dev uint64)
	shimReadReg  func(dev uint64, offset uint32) uint32
	shimWriteReg func(dev uint64, offset uint32, value uint32)
	shimWaitIRQ  func(dev uint64, timeoutMs int32) int32
)

// loadShim loads the libvdpu_shim shared library once.
func loadShim() error {
	shimOnce.Do(func() {
		shimInitErr = loadShimLib()
	})
	return shimInitErr
}

func loadShimLib() error {
	var lastErr error
	for _, path := range shimLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			shimHandle = handle
			loadShimSymbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libvdpu_shim: %w", lastErr)
	}
	return errors.New("libvdpu_shim not found in any standard location")
}

func loadShimSymbols() {
	purego.RegisterLibFunc(&shimOpen, shimHandle, "vdpu_shim_open")
	purego.RegisterLibFunc(&shimClose, shimHandle, "vdpu_shim_close")
	purego.RegisterLibFunc(&shimReadReg, shimHandle, "vdpu_shim_read_reg")
	purego.RegisterLibFunc(&shimWriteReg, shimHandle, "vdpu_shim_write_reg")
	purego.RegisterLibFunc(&shimWaitIRQ, shimHandle, "vdpu_shim_wait_irq")
}

func shimLibPaths() []string {
	var paths []string

	libName := "libvdpu_shim.so"
	if runtime.GOOS == "darwin" {
		libName = "libvdpu_shim.dylib"
	}

	if envPath := os.Getenv("VDPU_SHIM_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// System paths
	paths = append(paths, libName)
	return paths
}

// ShimRegisterFile is a RegisterFile over the MMIO window libvdpu_shim
// maps. Its interrupt pump goroutine delivers engine interrupts to the
// device it is bound to.
type ShimRegisterFile struct {
	dev  uint64
	base uint32 // decoder register file offset within the MMIO region

	pumpMu   sync.Mutex
	pumpStop chan struct{}
}

// OpenShimRegisterFile opens the engine's register window through
// libvdpu_shim.
func OpenShimRegisterFile(variant Variant) (*ShimRegisterFile, error) {
	if err := loadShim(); err != nil {
		return nil, err
	}
	handle := shimOpen(int32(variant))
	if handle == 0 {
		return nil, fmt.Errorf("vdpu_shim_open failed for variant %s", variant)
	}
	return &ShimRegisterFile{dev: handle, base: variant.RegOffset()}, nil
}

// ReadReg implements RegisterFile.
func (s *ShimRegisterFile) ReadReg(offset uint32) uint32 {
	return shimReadReg(s.dev, s.base+offset)
}

// WriteReg implements RegisterFile.
func (s *ShimRegisterFile) WriteReg(offset uint32, value uint32) {
	shimWriteReg(s.dev, s.base+offset, value)
}

// StartIRQPump starts a goroutine that blocks on the shim's interrupt
// wait and forwards each interrupt to the device.
func (s *ShimRegisterFile) StartIRQPump(dev *Device) {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()
	if s.pumpStop != nil {
		return
	}
	stop := make(chan struct{})
	s.pumpStop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if shimWaitIRQ(s.dev, 100) > 0 {
				dev.HandleInterrupt()
			}
		}
	}()
}

// Close stops the interrupt pump and releases the register window.
func (s *ShimRegisterFile) Close() {
	s.pumpMu.Lock()
	if s.pumpStop != nil {
		close(s.pumpStop)
		s.pumpStop = nil
	}
	s.pumpMu.Unlock()
	shimClose(s.dev)
}
