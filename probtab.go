package vdpu

// Probability table layout consumed by the engine. The table is a fixed
// 1208 byte image the hardware reads over the bus; every section starts
// at a fixed byte offset regardless of which features the frame enables.
const (
	probTableSize = 1208

	probOffFrame       = 0   // skip/intra/ref probs + segment tree
	probOffModes       = 8   // luma and chroma mode probs
	probOffMV          = 16  // motion vector tree probs, both components
	probOffCoeffHeader = 56  // coeff probs, first 4 of 11 per context
	probOffCoeffFooter = 440 // coeff probs, remaining 7 of 11 per context
)

// packProbTable serializes the frame's entropy context into the layout
// the engine expects. dst must be at least probTableSize bytes; bytes
// the layout leaves unused are written as zero so stale data from a
// previous frame never leaks through.
func packProbTable(dst []byte, hdr *FrameHeader) {
	_ = dst[probTableSize-1]

	dst[probOffFrame+0] = hdr.ProbSkipFalse
	dst[probOffFrame+1] = hdr.ProbIntra
	dst[probOffFrame+2] = hdr.ProbLast
	dst[probOffFrame+3] = hdr.ProbGF
	for i := 0; i < 3; i++ {
		dst[probOffFrame+4+i] = hdr.Segment.Probs[i]
	}
	dst[probOffFrame+7] = 0

	for i := 0; i < 4; i++ {
		dst[probOffModes+i] = hdr.Entropy.YModeProbs[i]
	}
	for i := 0; i < 3; i++ {
		dst[probOffModes+4+i] = hdr.Entropy.UVModeProbs[i]
	}
	dst[probOffModes+7] = 0

	packMVProbs(dst[probOffMV:probOffCoeffHeader], &hdr.Entropy)

	// Coefficient probs are split in two: the engine fetches the first
	// four probs of each band context from one block and the remaining
	// seven from another, each context row padded to eight bytes.
	p := probOffCoeffHeader
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			for k := 0; k < 3; k++ {
				for l := 0; l < 4; l++ {
					dst[p] = hdr.Entropy.CoeffProbs[i][j][k][l]
					p++
				}
			}
		}
	}
	p = probOffCoeffFooter
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			for k := 0; k < 3; k++ {
				for l := 4; l < 11; l++ {
					dst[p] = hdr.Entropy.CoeffProbs[i][j][k][l]
					p++
				}
				dst[p] = 0
				p++
			}
		}
	}
}

// packMVProbs lays out the 19 motion vector tree probs of each component
// in engine fetch order: the short-vector and sign probs of both
// components first, then the two high long-vector probs, the remaining
// long-vector probs in two groups of four, and finally the short-vector
// tree rows padded to eight bytes.
func packMVProbs(dst []byte, e *EntropyHeader) {
	dst[0] = e.MVProbs[0][0]
	dst[1] = e.MVProbs[1][0]
	dst[2] = e.MVProbs[0][1]
	dst[3] = e.MVProbs[1][1]
	dst[4] = e.MVProbs[0][8+9]
	dst[5] = e.MVProbs[0][9+9]
	dst[6] = e.MVProbs[1][8+9]
	dst[7] = e.MVProbs[1][9+9]
	p := 8
	for i := 0; i < 2; i++ {
		for _, j := range []int{0, 4} {
			for k := 0; k < 4; k++ {
				dst[p] = e.MVProbs[i][j+9+k]
				p++
			}
		}
	}
	for i := 0; i < 2; i++ {
		for j := 2; j < 9; j++ {
			dst[p] = e.MVProbs[i][j]
			p++
		}
		dst[p] = 0
		p++
	}
}
