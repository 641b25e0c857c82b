package vdpu

import "fmt"

// VP8 decode operations. Each frame is programmed as one register image
// derived from the parsed frame header; the session's scratch buffers
// carry the probability table and segmentation map between frames.

// vp8dContext is the per-session hardware context.
type vp8dContext struct {
	segmentMap *AuxBuffer
	probTbl    *AuxBuffer
}

// Motion compensation filter taps, one row per subpixel position. The
// engine applies them as a 6-tap FIR; versions 1..3 of the bitstream
// select the bilinear filter instead and skip the upload.
var vp8dMCFilter = [8][6]int32{
	{0, 0, 128, 0, 0, 0},
	{0, -6, 123, 12, -1, 0},
	{2, -11, 108, 36, -8, 1},
	{0, -9, 93, 50, -6, 0},
	{3, -16, 77, 77, -16, 3},
	{0, -6, 50, 93, -9, 0},
	{1, -8, 36, 108, -11, 2},
	{0, -1, 12, 123, -6, 0},
}

// Streams are fetched by the engine in 8-byte beats; partition base
// addresses are aligned down to that and the remainder carried in the
// start-bit registers.
const strmAlignMask = 7

func mbCount(pixels uint16) uint32 {
	return (uint32(pixels) + 15) / 16
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// field encodes a signed value as two's complement for a register field.
func field(v int) uint32 {
	return uint32(uint8(int8(v)))
}

func vp8dInit(s *Session) error {
	tbl := s.dev.variant.regTable()
	if tbl == nil {
		return ErrUnknownVariant
	}

	mbW := mbCount(s.cfg.Width)
	mbH := mbCount(s.cfg.Height)

	// One byte holds the segment ids of four macroblocks; the engine
	// reads the map in 64-byte bursts.
	segSize := (int(mbW*mbH+3)/4 + 63) &^ 63

	segMap, err := s.dev.alloc.Alloc(segSize)
	if err != nil {
		return err
	}
	probTbl, err := s.dev.alloc.Alloc(probTableSize)
	if err != nil {
		s.dev.alloc.Free(segMap)
		return err
	}

	s.hw.vp8d = vp8dContext{segmentMap: segMap, probTbl: probTbl}
	return nil
}

func vp8dExit(s *Session) {
	s.dev.alloc.Free(s.hw.vp8d.segmentMap)
	s.dev.alloc.Free(s.hw.vp8d.probTbl)
}

func vp8dPrepareRun(s *Session) error {
	hdr := s.run.src.FrameHeader()
	if hdr == nil {
		return ErrNoFrameHeader
	}
	switch hdr.NumDCTParts {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: %d DCT partitions", ErrBadPartitionCount, hdr.NumDCTParts)
	}
	s.run.hdr = hdr

	// A keyframe resets the segmentation state of the stream; the map
	// must not carry ids from frames before the keyframe.
	if hdr.KeyFrame {
		s.hw.vp8d.segmentMap.zero()
	}

	packProbTable(s.hw.vp8d.probTbl.Data, hdr)
	return nil
}

func vp8dRun(s *Session) error {
	hdr := s.run.hdr
	tbl := s.dev.variant.regTable()
	rf := s.dev.regs

	zeroRegFile(rf, s.dev.variant.RegCount())

	img := newRegImage(tbl)

	img.Set(regConfigDecTimeoutE, 1)
	img.Set(regConfigDecClkGateE, 1)
	img.Set(regConfigDecStrEndianE, 1)
	img.Set(regConfigDecInSwap32E, 1)
	img.Set(regConfigDecStrSwap32E, 1)
	img.Set(regConfigDecOutSwap32E, 1)
	img.Set(regConfigDecInEndian, 1)
	img.Set(regConfigDecOutEndian, 1)
	img.Set(regConfigDecMaxBurst, 16)

	img.Set(regDecCtrl0DecMode, 10) // VP8
	if !hdr.KeyFrame {
		img.Set(regDecCtrl0PicInterE, 1)
	}
	if !hdr.MBNoSkipCoeff {
		img.Set(regDecCtrl0SkipMode, 1)
	}
	if hdr.LoopFilter.Level == 0 {
		img.Set(regDecCtrl0FilteringDis, 1)
	}

	mbW := mbCount(s.cfg.Width)
	mbH := mbCount(s.cfg.Height)
	img.Set(regDecPicMBWidth, mbW)
	img.Set(regDecPicMBHeightP, mbH)
	img.Set(regDecCtrl1PicMBWExt, mbW>>9)
	img.Set(regDecCtrl1PicMBHExt, mbH>>8)

	img.Set(regDecCtrl2BoolRange, hdr.BoolDecRange)
	img.Set(regDecCtrl2BoolValue, hdr.BoolDecValue)

	if hdr.Version != 3 {
		img.Set(regDecCtrl4VC1HeightExt, 1)
	}
	if hdr.Version&0x3 != 0 {
		img.Set(regDecCtrl4BilinMCE, 1)
	}

	cfgLoopFilter(img, hdr)
	cfgQuant(img, hdr)
	cfgParts(img, hdr, s.run.src.DeviceAddr)
	cfgTaps(img, hdr)
	cfgRef(img, hdr, s)
	cfgBuffers(img, hdr, s)

	img.Issue(rf)
	tbl.armBit(rf, regInterruptDecE, 1)
	return nil
}

// cfgLoopFilter programs the per-segment filter levels. Without
// segmentation a single level drives the whole frame; with segmentation
// the per-segment values are either absolute or deltas clamped to the
// level range.
func cfgLoopFilter(img *regImage, hdr *FrameHeader) {
	lf := &hdr.LoopFilter
	seg := &hdr.Segment

	if !seg.Enabled {
		img.Set(regRefPicLfLevel0, uint32(lf.Level))
	} else {
		for i := 0; i < 4; i++ {
			level := int(seg.LfUpdate[i])
			if !seg.AbsoluteMode {
				level = clampInt(int(lf.Level)+level, 0, 63)
			}
			img.Set(regRefPicLfLevel0+regID(i), uint32(level))
		}
	}

	img.Set(regRefPicFiltSharpness, uint32(lf.Sharpness))
	if lf.Simple {
		img.Set(regRefPicFiltTypeE, 1)
	}

	if lf.AdjustEnabled {
		for i := 0; i < 4; i++ {
			img.Set(regFiltMBAdj0+regID(i), field(int(lf.MBModeDelta[i])))
			img.Set(regRefPicAdj0+regID(i), field(int(lf.RefFrameDelta[i])))
		}
	}
}

// cfgQuant programs the per-segment quantizer indices and the component
// deltas relative to the luma AC index.
func cfgQuant(img *regImage, hdr *FrameHeader) {
	q := &hdr.Quant
	seg := &hdr.Segment

	if !seg.Enabled {
		img.Set(regRefPicQuant0, uint32(q.YacQi))
	} else {
		for i := 0; i < 4; i++ {
			qi := int(seg.QuantUpdate[i])
			if !seg.AbsoluteMode {
				qi = clampInt(int(q.YacQi)+qi, 0, 127)
			}
			img.Set(regRefPicQuant0+regID(i), uint32(qi))
		}
	}

	img.Set(regRefPicQuantDelta0, field(int(q.YDcDelta)))
	img.Set(regRefPicQuantDelta1, field(int(q.Y2DcDelta)))
	img.Set(regRefPicQuantDelta2, field(int(q.Y2AcDelta)))
	img.Set(regRefPicQuantDelta3, field(int(q.UVDcDelta)))
	img.Set(regRefPicQuantDelta4, field(int(q.UVAcDelta)))
}

// cfgParts programs the bitstream partition addressing. The engine
// fetches in 8-byte aligned beats, so each partition's base address is
// aligned down and the residue expressed as a start bit (control
// partition) or start byte offset in bits (DCT partitions).
func cfgParts(img *regImage, hdr *FrameHeader, srcAddr uint32) {
	// The control partition register points at the macroblock data,
	// which begins MacroblockBitOffset bits past the frame tag byte of
	// the first partition.
	mbOffsetBits := hdr.FirstPartOffset*8 + hdr.MacroblockBitOffset + 8
	mbOffsetBytes := mbOffsetBits / 8
	mbStartBits := mbOffsetBits - (mbOffsetBytes&^strmAlignMask)*8
	mbSize := hdr.FirstPartSize -
		(mbOffsetBytes - hdr.FirstPartOffset) +
		(mbOffsetBytes & strmAlignMask)

	img.Set(regVP8AddrCtrlPart, srcAddr+(mbOffsetBytes&^strmAlignMask))
	img.Set(regDecCtrl2Strm1StartBit, mbStartBits)
	img.Set(regDecCtrl6Stream1Len, mbSize)
	img.Set(regDecCtrl6CoeffsPartAm, uint32(hdr.NumDCTParts-1))

	// The DCT size table sits right after the control partition and
	// holds 3 bytes per partition except the last.
	dctSizeTableLen := uint32(hdr.NumDCTParts-1) * 3
	dctPartOffset := hdr.FirstPartOffset + hdr.FirstPartSize

	var dctTotalLen uint32
	for i := 0; i < hdr.NumDCTParts; i++ {
		dctTotalLen += hdr.DCTPartSizes[i]
	}
	dctTotalLen += dctSizeTableLen
	dctTotalLen += dctPartOffset & strmAlignMask
	img.Set(regDecCtrl3StreamLen, dctTotalLen)

	var consumed uint32
	for i := 0; i < hdr.NumDCTParts; i++ {
		byteOffset := dctPartOffset + dctSizeTableLen + consumed
		img.Set(regAddrStr0+regID(i), srcAddr+(byteOffset&^strmAlignMask))
		img.Set(regStrmStartBit0+regID(i), (byteOffset&strmAlignMask)*8)
		consumed += hdr.DCTPartSizes[i]
	}
}

// cfgTaps uploads the MC filter coefficients. Bitstream versions with
// the bilinear filter selected have no use for them, and variants with
// the taps in ROM map no slots for them.
func cfgTaps(img *regImage, hdr *FrameHeader) {
	if hdr.Version&0x3 != 0 {
		return
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 6; j++ {
			img.Set(regPredFltTap0+regID(i*6+j), field(int(vp8dMCFilter[i][j])))
		}
	}
}

// cfgRef programs the reference picture addresses. A keyframe references
// only itself; delta frames resolve their indices against the session's
// output buffer registry, falling back to the job's own output when an
// index is out of range.
func cfgRef(img *regImage, hdr *FrameHeader, s *Session) {
	dst := s.run.dst

	ref := s.resolveRef(hdr.LastFrame)
	if hdr.KeyFrame {
		ref = dst
	}
	img.Set(regVP8AddrRef0, ref.DeviceAddr)

	golden := s.resolveRef(hdr.GoldenFrame)
	img.Set(regVP8AddrGolden, golden.DeviceAddr)
	if hdr.SignBiasGolden {
		img.Set(regVP8GrefSignBias, 1)
	}

	alt := s.resolveRef(hdr.AltFrame)
	img.Set(regVP8AddrAlt, alt.DeviceAddr)
	if hdr.SignBiasAlternate {
		img.Set(regVP8ArefSignBias, 1)
	}
}

// cfgBuffers programs the scratch buffer and output addresses.
func cfgBuffers(img *regImage, hdr *FrameHeader, s *Session) {
	seg := &hdr.Segment

	img.Set(regAddrQTable, s.hw.vp8d.probTbl.DeviceAddr)

	img.Set(regFwdPic1SegmentBase, s.hw.vp8d.segmentMap.DeviceAddr)
	if seg.Enabled {
		img.Set(regFwdPic1SegmentE, 1)
		if seg.UpdateMap {
			img.Set(regFwdPic1SegmentUpdE, 1)
		}
	}

	img.Set(regAddrDst, s.run.dst.DeviceAddr)
}

// vp8dIRQ acknowledges the decode interrupt. It returns false when the
// status register carries no completed-run indication, which the
// scheduler treats as a spurious interrupt.
func vp8dIRQ(dev *Device) bool {
	tbl := dev.variant.regTable()
	rf := dev.regs

	status := tbl.readBit(rf, regInterruptDecIRQ)
	if status == 0 {
		// Not ours. The run is still in flight, so its bus
		// configuration must stay untouched.
		return false
	}

	irq := tbl.spec(regInterruptDecIRQ)
	rf.WriteReg(irq.base, 0)

	// Stop outstanding bus bursts before the buffers are recycled.
	tbl.armBit(rf, regConfigDecMaxBurst, 0)

	return true
}

func vp8dDone(s *Session, res Result) {
	s.run.dst.Timestamp = s.run.src.Timestamp
}

// vp8dReset quiesces a wedged engine: interrupts are masked and the
// timeout and bus configuration cleared. Called under the scheduler
// lock from the watchdog path.
func vp8dReset(s *Session) {
	tbl := s.dev.variant.regTable()
	rf := s.dev.regs

	dis := tbl.spec(regInterruptDecIRQDis)
	rf.WriteReg(dis.base, dis.mask<<dis.shift)

	cfg := tbl.spec(regConfigDecTimeoutE)
	rf.WriteReg(cfg.base, 0)
}
