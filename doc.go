// Package vdpu drives a stateless VP8 video decode engine, multiplexing
// one hardware instance across any number of decode sessions.
//
// Key pieces include:
//   - Device: the run scheduler, watchdog and interrupt handling
//   - Session: per-stream buffer queues and the output buffer registry
//   - The VP8 register image builder and probability table packer
//   - DecodePipeline: RTP reassembly in front of a session
//   - SimRegisterFile and ArenaAllocator for hardware-free operation
//
// # Architecture
//
//	Decode: RTPReader -> VP8StreamAssembler -> FrameParser -> Session -> decoded buffers
//	Engine: Session queues -> Device scheduler -> register image -> interrupt/watchdog
//
// The engine is stateless between frames: every run programs the full
// register image from one parsed frame header. Per-stream state the
// hardware needs across frames (probability table, segmentation map)
// lives in session scratch buffers written before each run.
//
// # Hardware Access
//
// All register traffic goes through the RegisterFile interface. On
// machines with the engine, OpenShimRegisterFile maps the MMIO window
// through libvdpu_shim (loaded via purego, CGO_ENABLED=0); set
// VDPU_SHIM_LIB_PATH to the library location. Everywhere else the
// in-memory SimRegisterFile models the engine.
//
// # Build Tags
//
// The noshim tag disables the libvdpu_shim backend.
package vdpu
