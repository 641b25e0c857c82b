package vdpu

import (
	"errors"
	"testing"
	"time"
)

// newTestHarness builds a device over the in-memory register file. The
// engine model is not attached, so runs stay on the engine until the
// test inspects or completes them.
func newTestHarness(t *testing.T) (*Device, *SimRegisterFile) {
	t.Helper()
	sim := NewSimRegisterFile(VariantRK3288.RegCount())
	dev, err := NewDevice(DeviceConfig{
		Variant:         VariantRK3288,
		Regs:            sim,
		Alloc:           NewArenaAllocator(0x1000_0000, 1<<20),
		WatchdogTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	return dev, sim
}

func testFrameHeader(key bool) *FrameHeader {
	hdr := &FrameHeader{
		KeyFrame:        key,
		Width:           320,
		Height:          240,
		BoolDecRange:    254,
		BoolDecValue:    130,
		FirstPartOffset: 10,
		FirstPartSize:   20,
		NumDCTParts:     1,
	}
	hdr.DCTPartSizes[0] = 64
	hdr.Quant.YacQi = 40
	hdr.LoopFilter.Level = 20
	return hdr
}

func issueImage(img *regImage) (*SimRegisterFile, *regTableSpec) {
	rf := NewSimRegisterFile(VariantRK3288.RegCount())
	img.Issue(rf)
	return rf, &rk3288Regs
}

func TestPartitionAddressing(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.MacroblockBitOffset = 3
	hdr.NumDCTParts = 2
	hdr.DCTPartSizes = [8]uint32{100, 50}

	img := newRegImage(&rk3288Regs)
	cfgParts(img, hdr, 0x10000)
	rf, tbl := issueImage(img)

	// mb data starts at bit 10*8 + 3 + 8 = 91: aligned byte 8, bit 27.
	if got := rf.ReadReg(tbl.spec(regVP8AddrCtrlPart).base); got != 0x10008 {
		t.Errorf("ctrl partition addr = %#x, want 0x10008", got)
	}
	if got := tbl.readBit(rf, regDecCtrl2Strm1StartBit); got != 27 {
		t.Errorf("ctrl partition start bit = %d, want 27", got)
	}
	// 20 - (11-10) + (11&7) = 22 bytes reachable from the aligned base.
	if got := tbl.readBit(rf, regDecCtrl6Stream1Len); got != 22 {
		t.Errorf("ctrl partition len = %d, want 22", got)
	}
	// The partition amount register holds count minus one.
	if got := tbl.readBit(rf, regDecCtrl6CoeffsPartAm); got != 1 {
		t.Errorf("partition amount field = %d, want 1", got)
	}

	// Size table is 3 bytes at offset 30; total = 150 + 3 + (30&7).
	if got := tbl.readBit(rf, regDecCtrl3StreamLen); got != 159 {
		t.Errorf("stream len = %d, want 159", got)
	}

	// Partition 0 at byte 33: base 32, start bit 8.
	if got := rf.ReadReg(tbl.spec(regAddrStr0).base); got != 0x10020 {
		t.Errorf("partition 0 addr = %#x, want 0x10020", got)
	}
	if got := tbl.readBit(rf, regStrmStartBit0); got != 8 {
		t.Errorf("partition 0 start bit = %d, want 8", got)
	}
	// Partition 1 at byte 133: base 128, start bit 40.
	if got := rf.ReadReg(tbl.spec(regAddrStr0 + 1).base); got != 0x10080 {
		t.Errorf("partition 1 addr = %#x, want 0x10080", got)
	}
	if got := tbl.readBit(rf, regStrmStartBit0+1); got != 40 {
		t.Errorf("partition 1 start bit = %d, want 40", got)
	}
}

func TestPartitionStartBitsStayInRange(t *testing.T) {
	for off := uint32(0); off < 32; off++ {
		for bit := uint32(0); bit < 24; bit++ {
			hdr := testFrameHeader(true)
			hdr.FirstPartOffset = off
			hdr.MacroblockBitOffset = bit

			mbOffsetBits := hdr.FirstPartOffset*8 + hdr.MacroblockBitOffset + 8
			mbOffsetBytes := mbOffsetBits / 8
			start := mbOffsetBits - (mbOffsetBytes&^strmAlignMask)*8
			if start > 63 {
				t.Fatalf("offset %d bit %d: start bit %d exceeds field", off, bit, start)
			}
		}
	}
}

func TestLoopFilterWithoutSegmentation(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.LoopFilter.Level = 35
	hdr.LoopFilter.Sharpness = 4

	img := newRegImage(&rk3288Regs)
	cfgLoopFilter(img, hdr)
	rf, tbl := issueImage(img)

	if got := tbl.readBit(rf, regRefPicLfLevel0); got != 35 {
		t.Errorf("level 0 = %d, want 35", got)
	}
	for i := 1; i < 4; i++ {
		if got := tbl.readBit(rf, regRefPicLfLevel0+regID(i)); got != 0 {
			t.Errorf("level %d = %d, want 0", i, got)
		}
	}
	if got := tbl.readBit(rf, regRefPicFiltSharpness); got != 4 {
		t.Errorf("sharpness = %d, want 4", got)
	}
}

func TestLoopFilterSegmentDeltasClamped(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.LoopFilter.Level = 30
	hdr.Segment.Enabled = true
	hdr.Segment.LfUpdate = [4]int8{-40, 10, 50, 0}

	img := newRegImage(&rk3288Regs)
	cfgLoopFilter(img, hdr)
	rf, tbl := issueImage(img)

	want := []uint32{0, 40, 63, 30}
	for i, w := range want {
		if got := tbl.readBit(rf, regRefPicLfLevel0+regID(i)); got != w {
			t.Errorf("segment %d level = %d, want %d", i, got, w)
		}
	}
}

func TestLoopFilterSegmentAbsolute(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.LoopFilter.Level = 30
	hdr.Segment.Enabled = true
	hdr.Segment.AbsoluteMode = true
	hdr.Segment.LfUpdate = [4]int8{5, 15, 25, 63}

	img := newRegImage(&rk3288Regs)
	cfgLoopFilter(img, hdr)
	rf, tbl := issueImage(img)

	want := []uint32{5, 15, 25, 63}
	for i, w := range want {
		if got := tbl.readBit(rf, regRefPicLfLevel0+regID(i)); got != w {
			t.Errorf("segment %d level = %d, want %d", i, got, w)
		}
	}
}

func TestLoopFilterAdjustments(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.LoopFilter.AdjustEnabled = true
	hdr.LoopFilter.MBModeDelta = [4]int8{-3, 0, 7, -1}
	hdr.LoopFilter.RefFrameDelta = [4]int8{2, -2, 0, 5}

	img := newRegImage(&rk3288Regs)
	cfgLoopFilter(img, hdr)
	rf, tbl := issueImage(img)

	// Negative deltas are written as 7-bit two's complement.
	if got := tbl.readBit(rf, regFiltMBAdj0); got != 0x7d {
		t.Errorf("mb adj 0 = %#x, want 0x7d", got)
	}
	if got := tbl.readBit(rf, regRefPicAdj0+1); got != 0x7e {
		t.Errorf("ref adj 1 = %#x, want 0x7e", got)
	}
	if got := tbl.readBit(rf, regRefPicAdj0+3); got != 5 {
		t.Errorf("ref adj 3 = %d, want 5", got)
	}
}

func TestQuantSegmentDeltasClamped(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.Quant.YacQi = 100
	hdr.Segment.Enabled = true
	hdr.Segment.QuantUpdate = [4]int8{40, -120, 0, 27}

	img := newRegImage(&rk3288Regs)
	cfgQuant(img, hdr)
	rf, tbl := issueImage(img)

	want := []uint32{127, 0, 100, 127}
	for i, w := range want {
		if got := tbl.readBit(rf, regRefPicQuant0+regID(i)); got != w {
			t.Errorf("segment %d quant = %d, want %d", i, got, w)
		}
	}
}

func TestQuantDeltas(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.Quant.YacQi = 60
	hdr.Quant.YDcDelta = -5
	hdr.Quant.UVAcDelta = 7

	img := newRegImage(&rk3288Regs)
	cfgQuant(img, hdr)
	rf, tbl := issueImage(img)

	if got := tbl.readBit(rf, regRefPicQuant0); got != 60 {
		t.Errorf("quant = %d, want 60", got)
	}
	if got := tbl.readBit(rf, regRefPicQuantDelta0); got != 0xfb {
		t.Errorf("y dc delta = %#x, want 0xfb", got)
	}
	if got := tbl.readBit(rf, regRefPicQuantDelta4); got != 7 {
		t.Errorf("uv ac delta = %d, want 7", got)
	}
}

func TestTapsUploadedForSixTapFilter(t *testing.T) {
	hdr := testFrameHeader(true)
	hdr.Version = 0

	img := newRegImage(&rk3288Regs)
	cfgTaps(img, hdr)
	rf, tbl := issueImage(img)

	// Row 1 tap 1 is -6: 8-bit two's complement 0xfa.
	if got := tbl.readBit(rf, regPredFltTap0+regID(1*6+1)); got != 0xfa {
		t.Errorf("tap [1][1] = %#x, want 0xfa", got)
	}
	if got := tbl.readBit(rf, regPredFltTap0+regID(2)); got != 128 {
		t.Errorf("tap [0][2] = %d, want 128", got)
	}
}

func TestTapsSkippedForBilinearVersions(t *testing.T) {
	for _, version := range []uint8{1, 2, 3} {
		hdr := testFrameHeader(true)
		hdr.Version = version

		img := newRegImage(&rk3288Regs)
		cfgTaps(img, hdr)
		if words := img.Coalesce(); len(words) != 0 {
			t.Errorf("version %d: taps uploaded, want none", version)
		}
	}
}

func TestRefResolution(t *testing.T) {
	dev, _ := newTestHarness(t)
	s, err := dev.OpenSession(SessionConfig{Mode: CodecModeVP8Dec, Width: 320, Height: 240})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	ref0 := NewBuffer(make([]byte, 16), 0x2000_0000)
	ref1 := NewBuffer(make([]byte, 16), 0x2000_1000)
	s.AddOutputBuffer(ref0)
	s.AddOutputBuffer(ref1)

	dst := NewBuffer(make([]byte, 16), 0x2000_2000)
	s.run.dst = dst

	hdr := testFrameHeader(false)
	hdr.LastFrame = 1
	hdr.GoldenFrame = 0
	hdr.AltFrame = 7 // out of range, falls back to own output
	hdr.SignBiasGolden = true

	img := newRegImage(&rk3288Regs)
	cfgRef(img, hdr, s)
	rf, tbl := issueImage(img)

	if got := rf.ReadReg(tbl.spec(regVP8AddrRef0).base); got != ref1.DeviceAddr {
		t.Errorf("last ref addr = %#x, want %#x", got, ref1.DeviceAddr)
	}
	if got := rf.ReadReg(tbl.spec(regVP8AddrGolden).base); got != ref0.DeviceAddr {
		t.Errorf("golden ref addr = %#x, want %#x", got, ref0.DeviceAddr)
	}
	if got := rf.ReadReg(tbl.spec(regVP8AddrAlt).base); got != dst.DeviceAddr {
		t.Errorf("alt ref addr = %#x, want own output %#x", got, dst.DeviceAddr)
	}
	if got := tbl.readBit(rf, regVP8GrefSignBias); got != 1 {
		t.Error("golden sign bias not set")
	}
	if got := tbl.readBit(rf, regVP8ArefSignBias); got != 0 {
		t.Error("alt sign bias set unexpectedly")
	}

	// A keyframe references its own output regardless of the index.
	hdr.KeyFrame = true
	img = newRegImage(&rk3288Regs)
	cfgRef(img, hdr, s)
	rf, tbl = issueImage(img)
	if got := rf.ReadReg(tbl.spec(regVP8AddrRef0).base); got != dst.DeviceAddr {
		t.Errorf("keyframe ref addr = %#x, want own output %#x", got, dst.DeviceAddr)
	}
}

func TestRunProgramsEngine(t *testing.T) {
	dev, sim := newTestHarness(t)
	s, err := dev.OpenSession(SessionConfig{Mode: CodecModeVP8Dec, Width: 320, Height: 240})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	dst := NewBuffer(make([]byte, 16), 0x2000_0000)
	if err := s.QueueOutput(dst); err != nil {
		t.Fatalf("QueueOutput: %v", err)
	}
	src := NewBuffer(make([]byte, 1024), 0x3000_0000)
	if err := s.QueueInput(src, testFrameHeader(true)); err != nil {
		t.Fatalf("QueueInput: %v", err)
	}

	tbl := &rk3288Regs
	if got := tbl.readBit(sim, regInterruptDecE); got != 1 {
		t.Fatal("enable bit not armed")
	}
	if got := tbl.readBit(sim, regDecCtrl0DecMode); got != 10 {
		t.Errorf("dec mode = %d, want 10", got)
	}
	if got := tbl.readBit(sim, regDecCtrl0PicInterE); got != 0 {
		t.Error("inter bit set on a keyframe")
	}
	if got := tbl.readBit(sim, regDecPicMBWidth); got != 20 {
		t.Errorf("mb width = %d, want 20", got)
	}
	if got := tbl.readBit(sim, regDecPicMBHeightP); got != 15 {
		t.Errorf("mb height = %d, want 15", got)
	}
	if got := tbl.readBit(sim, regConfigDecMaxBurst); got != 16 {
		t.Errorf("max burst = %d, want 16", got)
	}
	if got := tbl.readBit(sim, regConfigDecTimeoutE); got != 1 {
		t.Error("hardware timeout not enabled")
	}
	if got := sim.ReadReg(tbl.spec(regAddrDst).base); got != dst.DeviceAddr {
		t.Errorf("dst addr = %#x, want %#x", got, dst.DeviceAddr)
	}
	if got := sim.ReadReg(tbl.spec(regAddrQTable).base); got != s.hw.vp8d.probTbl.DeviceAddr {
		t.Errorf("prob table addr = %#x, want %#x", got, s.hw.vp8d.probTbl.DeviceAddr)
	}
	// Version 0 selects the six-tap filter; taps must be uploaded and
	// the bilinear bit clear.
	if got := tbl.readBit(sim, regDecCtrl4BilinMCE); got != 0 {
		t.Error("bilinear bit set for version 0")
	}
	if got := tbl.readBit(sim, regPredFltTap0+regID(2)); got != 128 {
		t.Errorf("tap [0][2] = %d, want 128", got)
	}
}

func TestSegmentMapClearedOnKeyframe(t *testing.T) {
	dev, _ := newTestHarness(t)
	s, err := dev.OpenSession(SessionConfig{Mode: CodecModeVP8Dec, Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	for i := range s.hw.vp8d.segmentMap.Data {
		s.hw.vp8d.segmentMap.Data[i] = 0xa5
	}

	src := NewBuffer(make([]byte, 256), 0x3000_0000)
	src.frameHdr = testFrameHeader(true)
	s.run.src = src
	if err := vp8dPrepareRun(s); err != nil {
		t.Fatalf("prepareRun: %v", err)
	}
	for i, b := range s.hw.vp8d.segmentMap.Data {
		if b != 0 {
			t.Fatalf("segment map byte %d = %#x after keyframe", i, b)
		}
	}

	// Delta frames keep the map.
	s.hw.vp8d.segmentMap.Data[0] = 0x5a
	src.frameHdr = testFrameHeader(false)
	if err := vp8dPrepareRun(s); err != nil {
		t.Fatalf("prepareRun: %v", err)
	}
	if s.hw.vp8d.segmentMap.Data[0] != 0x5a {
		t.Error("segment map cleared on a delta frame")
	}
}

func TestPrepareRunRequiresHeader(t *testing.T) {
	dev, _ := newTestHarness(t)
	s, err := dev.OpenSession(SessionConfig{Mode: CodecModeVP8Dec, Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	s.run.src = NewBuffer(make([]byte, 16), 0x3000_0000)
	if err := vp8dPrepareRun(s); err != ErrNoFrameHeader {
		t.Errorf("prepareRun error = %v, want ErrNoFrameHeader", err)
	}
}

func TestPrepareRunRejectsBadPartitionCount(t *testing.T) {
	dev, _ := newTestHarness(t)
	s, err := dev.OpenSession(SessionConfig{Mode: CodecModeVP8Dec, Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	for _, n := range []int{0, 3, 5, 9} {
		hdr := testFrameHeader(true)
		hdr.NumDCTParts = n
		src := NewBuffer(make([]byte, 256), 0x3000_0000)
		src.frameHdr = hdr
		s.run.src = src
		if err := vp8dPrepareRun(s); !errors.Is(err, ErrBadPartitionCount) {
			t.Errorf("NumDCTParts=%d: prepareRun error = %v, want ErrBadPartitionCount", n, err)
		}
	}
}
