package vdpu

// CodecMode identifies the hardware operating mode a session runs in.
// The mode selects the set of codec operations used to program the
// engine; it is resolved once when the session is opened and never
// changes for the session's lifetime.
type CodecMode int

const (
	CodecModeNone   CodecMode = iota // Raw formats, no hardware run
	CodecModeVP8Dec                  // VP8 decoding
	codecModeCount
)

func (m CodecMode) String() string {
	switch m {
	case CodecModeNone:
		return "none"
	case CodecModeVP8Dec:
		return "vp8-dec"
	default:
		return "unknown"
	}
}

// MimeType returns the MIME type of the bitstream this mode consumes.
func (m CodecMode) MimeType() string {
	switch m {
	case CodecModeVP8Dec:
		return "video/VP8"
	default:
		return ""
	}
}

// Result is the terminal state of a decode run and of the buffers bound
// to it.
type Result int

const (
	ResultDone  Result = iota // Run finished, output buffer holds a frame
	ResultError               // Run failed or timed out, output is invalid
)

func (r Result) String() string {
	switch r {
	case ResultDone:
		return "done"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// codecOps is the per-mode capability set. All mode-specific behavior is
// reached through this table; the scheduler itself is codec-agnostic.
//
//   - init: allocate the session's hardware context (scratch buffers,
//     register map selection). Called once from Device.OpenSession.
//   - exit: release the hardware context. Called once from Session.Close.
//   - prepareRun: validate and stage per-run data after the job's buffers
//     have been dequeued, before run. Returns an error to fail the job
//     without touching the hardware.
//   - run: program the engine for one job and start it. Runs outside the
//     scheduler lock.
//   - irq: acknowledge the engine interrupt. Returns false if the status
//     does not indicate a completed run (spurious interrupt).
//   - done: read back per-run results before buffer completion. Runs
//     outside the scheduler lock.
//   - reset: quiesce a wedged engine. Runs under the scheduler lock from
//     the watchdog path only.
type codecOps struct {
	init       func(*Session) error
	exit       func(*Session)
	prepareRun func(*Session) error
	run        func(*Session) error
	irq        func(*Device) bool
	done       func(*Session, Result)
	reset      func(*Session)
}

// Static dispatch table, indexed by CodecMode.
var modeOps = [codecModeCount]*codecOps{
	CodecModeVP8Dec: {
		init:       vp8dInit,
		exit:       vp8dExit,
		prepareRun: vp8dPrepareRun,
		run:        vp8dRun,
		irq:        vp8dIRQ,
		done:       vp8dDone,
		reset:      vp8dReset,
	},
}

func opsForMode(m CodecMode) *codecOps {
	if m <= CodecModeNone || m >= codecModeCount {
		return nil
	}
	return modeOps[m]
}
