package vdpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/pion/rtp"
)

// PipelineState represents the state of a decode pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Processing packets
	PipelineStateStopped                      // Stopped
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RTPReader supplies RTP packets to the pipeline. *webrtc.TrackRemote
// and test packet sources are adapted to it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// FrameParser turns a reassembled VP8 bitstream frame into the parsed
// header the engine is programmed from. Header parsing happens in
// software upstream of the device; the engine consumes only macroblock
// and coefficient data.
type FrameParser interface {
	ParseFrameHeader(data []byte) (*FrameHeader, error)
}

// PipelineStats provides decode pipeline statistics.
type PipelineStats struct {
	PacketsRead     uint64
	FramesAssembled uint64
	FramesDecoded   uint64
	FramesFailed    uint64
	FramesDropped   uint64 // assembled but no input buffer was free
	ParseErrors     uint64
}

// PipelineConfig configures a decode pipeline.
type PipelineConfig struct {
	Session *Session  // Decode session, required
	Source  RTPReader // RTP packet source, required
	Parser  FrameParser
	Logger  hclog.Logger

	// InputBuffers is the bitstream buffer pool. Buffers are recycled
	// back into the pool as their jobs complete.
	InputBuffers []*Buffer

	// OutputBuffers are registered and queued on the session; each one
	// is handed to OnFrame when decoded and then queued again.
	OutputBuffers []*Buffer

	// OnFrame observes every decoded output buffer before it is
	// recycled. Optional.
	OnFrame func(*Buffer)

	// OnError observes pipeline errors. Optional.
	OnError func(error)
}

// DecodePipeline handles: RTPReader -> VP8StreamAssembler -> FrameParser
// -> Session -> decoded output buffers.
type DecodePipeline struct {
	session *Session
	source  RTPReader
	parser  FrameParser
	asm     *VP8StreamAssembler
	log     hclog.Logger

	freeCh  chan *Buffer
	onFrame func(*Buffer)
	onError func(error)

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats   PipelineStats
	statsMu sync.Mutex
}

// NewDecodePipeline creates a decode pipeline over an open session.
func NewDecodePipeline(config PipelineConfig) (*DecodePipeline, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.Parser == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if len(config.InputBuffers) == 0 {
		return nil, fmt.Errorf("at least one input buffer is required")
	}
	if len(config.OutputBuffers) == 0 {
		return nil, fmt.Errorf("at least one output buffer is required")
	}

	log := config.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}

	p := &DecodePipeline{
		session: config.Session,
		source:  config.Source,
		parser:  config.Parser,
		asm:     NewVP8StreamAssembler(),
		log:     log.Named("pipeline"),
		freeCh:  make(chan *Buffer, len(config.InputBuffers)),
		onFrame: config.OnFrame,
		onError: config.OnError,
	}
	p.state.Store(int32(PipelineStateIdle))

	for _, buf := range config.InputBuffers {
		buf.OnComplete(p.recycleInput)
		p.freeCh <- buf
	}
	for _, buf := range config.OutputBuffers {
		buf.OnComplete(p.recycleOutput)
		if err := config.Session.QueueOutput(buf); err != nil {
			return nil, fmt.Errorf("queue output buffer: %w", err)
		}
	}

	return p, nil
}

// Start starts the pipeline.
func (p *DecodePipeline) Start() error {
	if PipelineState(p.state.Load()) == PipelineStateRunning {
		return fmt.Errorf("pipeline already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.state.Store(int32(PipelineStateRunning))

	p.wg.Add(1)
	go p.processLoop()
	return nil
}

// Stop stops the pipeline and waits for the processing loop to exit.
// The session stays open; in-flight jobs complete on their own. A
// source read still in flight is abandoned rather than waited on; its
// goroutine exits once the read returns or the source is closed.
func (p *DecodePipeline) Stop() error {
	if PipelineState(p.state.Load()) != PipelineStateRunning {
		return nil
	}
	p.state.Store(int32(PipelineStateStopped))
	p.cancel()
	p.wg.Wait()
	return nil
}

// State returns the pipeline state.
func (p *DecodePipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns a snapshot of the pipeline statistics.
func (p *DecodePipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *DecodePipeline) processLoop() {
	// Releases the reader goroutine when the loop exits on its own.
	defer p.cancel()
	defer p.wg.Done()

	type readResult struct {
		pkt *rtp.Packet
		err error
	}

	// ReadRTP blocks until a packet arrives and context cancellation
	// does not unblock it, so reads run on their own goroutine and the
	// loop selects between delivered results and cancellation.
	results := make(chan readResult)
	go func() {
		for {
			pkt, err := p.source.ReadRTP()
			select {
			case results <- readResult{pkt, err}:
			case <-p.ctx.Done():
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
		}
	}()

	for {
		var r readResult
		select {
		case r = <-results:
		case <-p.ctx.Done():
			return
		}

		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				p.state.Store(int32(PipelineStateStopped))
				return
			}
			p.reportError(fmt.Errorf("read rtp: %w", r.err))
			continue
		}

		p.statsMu.Lock()
		p.stats.PacketsRead++
		p.statsMu.Unlock()

		frame, err := p.asm.Push(r.pkt)
		if err != nil {
			p.reportError(err)
			continue
		}
		if frame == nil {
			continue
		}

		p.statsMu.Lock()
		p.stats.FramesAssembled++
		p.statsMu.Unlock()

		p.submit(frame)
	}
}

// submit parses one assembled frame and queues it on the session.
func (p *DecodePipeline) submit(frame *EncodedFrame) {
	hdr, err := p.parser.ParseFrameHeader(frame.Data)
	if err != nil {
		p.statsMu.Lock()
		p.stats.ParseErrors++
		p.statsMu.Unlock()
		p.reportError(fmt.Errorf("parse frame header: %w", err))
		return
	}

	var buf *Buffer
	select {
	case buf = <-p.freeCh:
	case <-p.ctx.Done():
		return
	}

	if len(frame.Data) > len(buf.Data) {
		p.statsMu.Lock()
		p.stats.FramesDropped++
		p.statsMu.Unlock()
		p.log.Warn("frame exceeds input buffer size",
			"frame_bytes", len(frame.Data), "buffer_bytes", len(buf.Data))
		p.freeCh <- buf
		return
	}
	copy(buf.Data, frame.Data)
	// RTP timestamps tick at 90kHz; buffers carry nanoseconds.
	buf.Timestamp = int64(frame.Timestamp) * 1_000_000 / 90

	if err := p.session.QueueInput(buf, hdr); err != nil {
		p.freeCh <- buf
		p.reportError(fmt.Errorf("queue input: %w", err))
	}
}

// recycleInput returns a completed bitstream buffer to the pool.
func (p *DecodePipeline) recycleInput(buf *Buffer, res Result) {
	buf.Reset()
	select {
	case p.freeCh <- buf:
	default:
		// Pool full: the buffer was completed by session teardown after
		// the pipeline already recycled its pool.
	}
}

// recycleOutput hands a decoded frame to the observer and queues the
// buffer for the next frame.
func (p *DecodePipeline) recycleOutput(buf *Buffer, res Result) {
	if res == ResultDone {
		p.statsMu.Lock()
		p.stats.FramesDecoded++
		p.statsMu.Unlock()
		if p.onFrame != nil {
			p.onFrame(buf)
		}
	} else {
		p.statsMu.Lock()
		p.stats.FramesFailed++
		p.statsMu.Unlock()
	}

	if PipelineState(p.state.Load()) == PipelineStateStopped {
		return
	}
	buf.Reset()
	if err := p.session.QueueOutput(buf); err != nil {
		p.reportError(fmt.Errorf("requeue output: %w", err))
	}
}

func (p *DecodePipeline) reportError(err error) {
	p.log.Error("pipeline error", "error", err)
	if p.onError != nil {
		p.onError(err)
	}
}
