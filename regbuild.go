package vdpu

import "sort"

// regID is a logical register identifier. The codec operations program
// the engine in terms of these ids; the per-variant tables below map
// each id to a concrete register word, bit mask and bit offset. Ids
// whose mapping has a zero base do not exist on that variant and are
// silently skipped.
type regID int

const (
	regInterruptDecE regID = iota // decode start/enable bit
	regInterruptDecIRQ
	regInterruptDecIRQDis
	regConfigDecTimeoutE
	regConfigDecClkGateE
	regConfigDecStrEndianE
	regConfigDecInSwap32E
	regConfigDecStrSwap32E
	regConfigDecOutSwap32E
	regConfigDecInEndian
	regConfigDecOutEndian
	regConfigDecMaxBurst
	regDecCtrl0DecMode
	regDecCtrl0PicInterE
	regDecCtrl0SkipMode
	regDecCtrl0FilteringDis
	regDecPicMBWidth
	regDecPicMBHeightP
	regDecCtrl1PicMBWExt
	regDecCtrl1PicMBHExt
	regDecCtrl2BoolRange
	regDecCtrl2BoolValue
	regDecCtrl2Strm1StartBit
	regDecCtrl3StreamLen
	regDecCtrl4VC1HeightExt
	regDecCtrl4BilinMCE
	regDecCtrl6Stream1Len
	regDecCtrl6CoeffsPartAm
	regRefPicLfLevel0 // four consecutive ids, one per segment
	regRefPicLfLevel1
	regRefPicLfLevel2
	regRefPicLfLevel3
	regRefPicFiltSharpness
	regRefPicFiltTypeE
	regFiltMBAdj0 // four consecutive ids
	regFiltMBAdj1
	regFiltMBAdj2
	regFiltMBAdj3
	regRefPicAdj0 // four consecutive ids
	regRefPicAdj1
	regRefPicAdj2
	regRefPicAdj3
	regRefPicQuant0 // four consecutive ids, one per segment
	regRefPicQuant1
	regRefPicQuant2
	regRefPicQuant3
	regRefPicQuantDelta0
	regRefPicQuantDelta1
	regRefPicQuantDelta2
	regRefPicQuantDelta3
	regRefPicQuantDelta4
	regVP8AddrCtrlPart
	regVP8AddrRef0
	regVP8AddrGolden
	regVP8AddrAlt
	regVP8GrefSignBias
	regVP8ArefSignBias
	regAddrQTable
	regFwdPic1SegmentBase
	regFwdPic1SegmentE
	regFwdPic1SegmentUpdE
	regAddrDst
	regScalarEnd
)

// Array register groups follow the scalar block with fixed strides.
const (
	regAddrStr0      regID = regScalarEnd         // 8 ids, DCT partition base addresses
	regStrmStartBit0 regID = regAddrStr0 + 8      // 8 ids, DCT partition start bits
	regPredFltTap0   regID = regStrmStartBit0 + 8 // 48 ids, 8x6 MC filter taps
	regCount         regID = regPredFltTap0 + 48
)

// regSpec places one logical register: value bits (value & mask) land at
// bit position shift of the 32-bit word at byte offset base.
type regSpec struct {
	base  uint32
	mask  uint32
	shift uint32
}

// regTableSpec is the full layout table of one hardware variant. The
// tables are static configuration data generated from the vendor
// register documentation; nothing outside this file depends on concrete
// offsets.
type regTableSpec struct {
	specs [regCount]regSpec
}

func (t *regTableSpec) spec(id regID) regSpec {
	if id < 0 || id >= regCount {
		return regSpec{}
	}
	return t.specs[id]
}

var rk3288Regs = regTableSpec{
	specs: [regCount]regSpec{
		regInterruptDecE:         {0x004, 0x1, 0},
		regInterruptDecIRQDis:    {0x004, 0x1, 4},
		regInterruptDecIRQ:       {0x004, 0x1, 8},
		regConfigDecOutEndian:    {0x008, 0x1, 0},
		regConfigDecInEndian:     {0x008, 0x1, 1},
		regConfigDecOutSwap32E:   {0x008, 0x1, 2},
		regConfigDecStrSwap32E:   {0x008, 0x1, 3},
		regConfigDecInSwap32E:    {0x008, 0x1, 4},
		regConfigDecStrEndianE:   {0x008, 0x1, 5},
		regConfigDecMaxBurst:     {0x008, 0x1f, 16},
		regConfigDecClkGateE:     {0x008, 0x1, 22},
		regConfigDecTimeoutE:     {0x008, 0x1, 23},
		regDecCtrl0FilteringDis:  {0x00c, 0x1, 12},
		regDecCtrl0SkipMode:      {0x00c, 0x1, 13},
		regDecCtrl0PicInterE:     {0x00c, 0x1, 14},
		regDecCtrl0DecMode:       {0x00c, 0xf, 28},
		regDecCtrl1PicMBHExt:     {0x010, 0x7, 0},
		regDecCtrl1PicMBWExt:     {0x010, 0x7, 3},
		regDecPicMBHeightP:       {0x010, 0xff, 11},
		regDecPicMBWidth:         {0x010, 0x1ff, 23},
		regDecCtrl2BoolValue:     {0x014, 0xff, 8},
		regDecCtrl2Strm1StartBit: {0x014, 0x3f, 16},
		regDecCtrl2BoolRange:     {0x014, 0xff, 24},
		regDecCtrl3StreamLen:     {0x018, 0xffffff, 0},
		regDecCtrl4BilinMCE:      {0x01c, 0x1, 30},
		regDecCtrl4VC1HeightExt:  {0x01c, 0x1, 31},
		regDecCtrl6Stream1Len:    {0x020, 0xffffff, 0},
		regDecCtrl6CoeffsPartAm:  {0x020, 0xf, 24},
		regRefPicLfLevel0:        {0x024, 0x3f, 18},
		regRefPicLfLevel1:        {0x024, 0x3f, 12},
		regRefPicLfLevel2:        {0x024, 0x3f, 6},
		regRefPicLfLevel3:        {0x024, 0x3f, 0},
		regRefPicFiltSharpness:   {0x024, 0x7, 25},
		regRefPicFiltTypeE:       {0x024, 0x1, 29},
		regFiltMBAdj0:            {0x028, 0x7f, 24},
		regFiltMBAdj1:            {0x028, 0x7f, 16},
		regFiltMBAdj2:            {0x028, 0x7f, 8},
		regFiltMBAdj3:            {0x028, 0x7f, 0},
		regRefPicAdj0:            {0x02c, 0x7f, 24},
		regRefPicAdj1:            {0x02c, 0x7f, 16},
		regRefPicAdj2:            {0x02c, 0x7f, 8},
		regRefPicAdj3:            {0x02c, 0x7f, 0},
		regRefPicQuant0:          {0x030, 0x7f, 24},
		regRefPicQuant1:          {0x030, 0x7f, 16},
		regRefPicQuant2:          {0x030, 0x7f, 8},
		regRefPicQuant3:          {0x030, 0x7f, 0},
		regRefPicQuantDelta0:     {0x034, 0xff, 0},
		regRefPicQuantDelta1:     {0x034, 0xff, 8},
		regRefPicQuantDelta2:     {0x034, 0xff, 16},
		regRefPicQuantDelta3:     {0x034, 0xff, 24},
		regRefPicQuantDelta4:     {0x038, 0xff, 0},
		regVP8AddrCtrlPart:       {0x03c, 0xffffffff, 0},
		regVP8AddrRef0:           {0x0a0, 0xffffffff, 0},
		regVP8AddrGolden:         {0x0a4, 0xffffffff, 0},
		regVP8AddrAlt:            {0x0a8, 0xffffffff, 0},
		regVP8GrefSignBias:       {0x0ac, 0x1, 0},
		regVP8ArefSignBias:       {0x0ac, 0x1, 1},
		regAddrQTable:            {0x0b0, 0xffffffff, 0},
		regFwdPic1SegmentBase:    {0x0b4, 0xffffffff, 0},
		regFwdPic1SegmentE:       {0x0b8, 0x1, 0},
		regFwdPic1SegmentUpdE:    {0x0b8, 0x1, 1},
		regAddrDst:               {0x0bc, 0xffffffff, 0},
	},
}

var rk3229Regs = regTableSpec{
	specs: [regCount]regSpec{
		regInterruptDecE:         {0x004, 0x1, 0},
		regInterruptDecIRQ:       {0x004, 0x1, 12},
		regInterruptDecIRQDis:    {0x004, 0x1, 16},
		regConfigDecOutEndian:    {0x00c, 0x1, 0},
		regConfigDecInEndian:     {0x00c, 0x1, 1},
		regConfigDecOutSwap32E:   {0x00c, 0x1, 2},
		regConfigDecStrSwap32E:   {0x00c, 0x1, 3},
		regConfigDecInSwap32E:    {0x00c, 0x1, 4},
		regConfigDecStrEndianE:   {0x00c, 0x1, 5},
		regConfigDecMaxBurst:     {0x00c, 0x1f, 8},
		regConfigDecClkGateE:     {0x00c, 0x1, 30},
		regConfigDecTimeoutE:     {0x00c, 0x1, 31},
		regDecCtrl0DecMode:       {0x010, 0xf, 0},
		regDecCtrl0PicInterE:     {0x010, 0x1, 4},
		regDecCtrl0SkipMode:      {0x010, 0x1, 5},
		regDecCtrl0FilteringDis:  {0x010, 0x1, 6},
		regDecPicMBWidth:         {0x014, 0x1ff, 0},
		regDecCtrl1PicMBWExt:     {0x014, 0x7, 9},
		regDecPicMBHeightP:       {0x014, 0xff, 12},
		regDecCtrl1PicMBHExt:     {0x014, 0x7, 20},
		regDecCtrl2BoolRange:     {0x018, 0xff, 0},
		regDecCtrl2BoolValue:     {0x018, 0xff, 8},
		regDecCtrl2Strm1StartBit: {0x018, 0x3f, 16},
		regDecCtrl3StreamLen:     {0x01c, 0xffffff, 0},
		regDecCtrl4VC1HeightExt:  {0x020, 0x1, 0},
		regDecCtrl4BilinMCE:      {0x020, 0x1, 1},
		regDecCtrl6Stream1Len:    {0x024, 0xffffff, 0},
		regDecCtrl6CoeffsPartAm:  {0x024, 0xf, 24},
		regRefPicLfLevel0:        {0x028, 0x3f, 0},
		regRefPicLfLevel1:        {0x028, 0x3f, 8},
		regRefPicLfLevel2:        {0x028, 0x3f, 16},
		regRefPicLfLevel3:        {0x028, 0x3f, 24},
		regRefPicFiltSharpness:   {0x02c, 0x7, 0},
		regRefPicFiltTypeE:       {0x02c, 0x1, 4},
		regFiltMBAdj0:            {0x030, 0x7f, 0},
		regFiltMBAdj1:            {0x030, 0x7f, 8},
		regFiltMBAdj2:            {0x030, 0x7f, 16},
		regFiltMBAdj3:            {0x030, 0x7f, 24},
		regRefPicAdj0:            {0x034, 0x7f, 0},
		regRefPicAdj1:            {0x034, 0x7f, 8},
		regRefPicAdj2:            {0x034, 0x7f, 16},
		regRefPicAdj3:            {0x034, 0x7f, 24},
		regRefPicQuant0:          {0x038, 0x7f, 0},
		regRefPicQuant1:          {0x038, 0x7f, 8},
		regRefPicQuant2:          {0x038, 0x7f, 16},
		regRefPicQuant3:          {0x038, 0x7f, 24},
		regRefPicQuantDelta0:     {0x03c, 0xff, 0},
		regRefPicQuantDelta1:     {0x03c, 0xff, 8},
		regRefPicQuantDelta2:     {0x03c, 0xff, 16},
		regRefPicQuantDelta3:     {0x03c, 0xff, 24},
		regRefPicQuantDelta4:     {0x040, 0xff, 0},
		regVP8AddrCtrlPart:       {0x044, 0xffffffff, 0},
		regVP8AddrRef0:           {0x070, 0xffffffff, 0},
		regVP8AddrGolden:         {0x074, 0xffffffff, 0},
		regVP8AddrAlt:            {0x078, 0xffffffff, 0},
		regVP8GrefSignBias:       {0x07c, 0x1, 0},
		regVP8ArefSignBias:       {0x07c, 0x1, 1},
		regAddrQTable:            {0x080, 0xffffffff, 0},
		regFwdPic1SegmentBase:    {0x084, 0xffffffff, 0},
		regFwdPic1SegmentE:       {0x088, 0x1, 0},
		regFwdPic1SegmentUpdE:    {0x088, 0x1, 1},
		regAddrDst:               {0x08c, 0xffffffff, 0},
	},
}

func init() {
	// DCT partition address and start-bit groups, and the MC filter tap
	// block, are laid out with fixed strides on both variants. The
	// RK3229 integrates the tap coefficients in ROM, so its tap slots
	// stay unmapped (zero base) and tap writes are skipped there.
	for i := 0; i < 8; i++ {
		rk3288Regs.specs[regAddrStr0+regID(i)] = regSpec{0x040 + 4*uint32(i), 0xffffffff, 0}
		rk3229Regs.specs[regAddrStr0+regID(i)] = regSpec{0x048 + 4*uint32(i), 0xffffffff, 0}
	}
	for i := 0; i < 8; i++ {
		var base3288, base3229 uint32 = 0x060, 0x068
		if i >= 5 {
			base3288, base3229 = 0x064, 0x06c
		}
		shift := uint32(6 * (i % 5))
		rk3288Regs.specs[regStrmStartBit0+regID(i)] = regSpec{base3288, 0x3f, shift}
		rk3229Regs.specs[regStrmStartBit0+regID(i)] = regSpec{base3229, 0x3f, shift}
	}
	for i := 0; i < 48; i++ {
		base := 0x070 + 4*uint32(i/4)
		shift := uint32(24 - 8*(i%4))
		rk3288Regs.specs[regPredFltTap0+regID(i)] = regSpec{base, 0xff, shift}
	}
}

// wordWrite is one coalesced whole-word register write.
type wordWrite struct {
	base  uint32
	value uint32
}

// regImage accumulates logical register writes for one run and coalesces
// them into whole-word writes, merging fields that share a register word.
type regImage struct {
	tbl     *regTableSpec
	entries []regID
	values  [regCount]uint32
	present [regCount]bool
}

func newRegImage(tbl *regTableSpec) *regImage {
	return &regImage{tbl: tbl}
}

// Set records a value for a logical register. Values wider than the
// register's field are truncated by the field mask. Slots absent on the
// active variant are skipped.
func (img *regImage) Set(id regID, value uint32) {
	if img.tbl.spec(id).base == 0 {
		return
	}
	if !img.present[id] {
		img.present[id] = true
		img.entries = append(img.entries, id)
	}
	img.values[id] = value
}

// Coalesce merges the accumulated writes by register word and returns
// them ordered by ascending word address.
func (img *regImage) Coalesce() []wordWrite {
	merged := make(map[uint32]uint32)
	for _, id := range img.entries {
		s := img.tbl.spec(id)
		merged[s.base] |= (img.values[id] & s.mask) << s.shift
	}

	out := make([]wordWrite, 0, len(merged))
	for base, value := range merged {
		out = append(out, wordWrite{base: base, value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].base < out[j].base })
	return out
}

// Issue writes the coalesced image in one ascending pass. Each word is
// OR-combined with its current register file contents, which the caller
// has zeroed beforehand, so fields never programmed by the image keep
// their reset value.
func (img *regImage) Issue(rf RegisterFile) {
	for _, w := range img.Coalesce() {
		rf.WriteReg(w.base, rf.ReadReg(w.base)|w.value)
	}
}

// zeroRegFile clears the leading register words of the engine register
// file before a run is programmed.
func zeroRegFile(rf RegisterFile, words int) {
	for i := 0; i < words; i++ {
		rf.WriteReg(uint32(i)*4, 0)
	}
}

// armBit sets a single-bit register with a read-modify-write, leaving
// the rest of its word untouched. Used to arm the decode enable bit
// after the image has been issued.
func (t *regTableSpec) armBit(rf RegisterFile, id regID, value uint32) {
	s := t.spec(id)
	if s.base == 0 {
		return
	}
	v := rf.ReadReg(s.base)
	v &^= s.mask << s.shift
	v |= (value & s.mask) << s.shift
	rf.WriteReg(s.base, v)
}

// readBit extracts a single field value from the register file.
func (t *regTableSpec) readBit(rf RegisterFile, id regID) uint32 {
	s := t.spec(id)
	if s.base == 0 {
		return 0
	}
	return (rf.ReadReg(s.base) >> s.shift) & s.mask
}
