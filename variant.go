package vdpu

// Variant identifies the hardware generation of the decode engine.
// Each variant carries its own register layout table; the codec
// operations never assume a concrete generation beyond that table.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantRK3288          // First supported generation, 101 decoder registers
	VariantRK3229          // Later generation, 159 decoder registers
	variantCount
)

// variantMeta contains static metadata about a hardware variant.
type variantMeta struct {
	Name      string
	RegCount  int // number of 32-bit words in the decoder register file
	RegOffset uint32
}

// Static metadata table - indexed by Variant.
var variantInfo = [variantCount]variantMeta{
	VariantUnknown: {"unknown", 0, 0},
	VariantRK3288:  {"rk3288", 101, 0x400},
	VariantRK3229:  {"rk3229", 159, 0x400},
}

func (v Variant) String() string {
	if v < 0 || v >= variantCount {
		return "unknown"
	}
	return variantInfo[v].Name
}

// RegCount returns the size of the decoder register file in words.
func (v Variant) RegCount() int {
	if v < 0 || v >= variantCount {
		return 0
	}
	return variantInfo[v].RegCount
}

// RegOffset returns the byte offset of the decoder register file within
// the variant's MMIO region. Register windows that map the whole region
// apply it to every access.
func (v Variant) RegOffset() uint32 {
	if v < 0 || v >= variantCount {
		return 0
	}
	return variantInfo[v].RegOffset
}

// regTable returns the register layout table for the variant, or nil if
// the variant is not supported.
func (v Variant) regTable() *regTableSpec {
	switch v {
	case VariantRK3288:
		return &rk3288Regs
	case VariantRK3229:
		return &rk3229Regs
	default:
		return nil
	}
}
