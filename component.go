package jpegli

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	// BlockSize is the number of coefficients in one 8x8 block.
	BlockSize = 64
	// MaxComponents is the maximum number of components in a frame.
	MaxComponents = 4

	maxQuantTables   = 4
	maxHuffmanTables = 4
	dcAlphabetSize   = 12
)

// Component is one colour channel of a frame together with its quantized
// DCT coefficients.
type Component struct {
	// ID is the one-byte component identifier from the frame header.
	ID int
	// HSampFactor and VSampFactor are the sampling factors. In an
	// interleaved scan each MCU holds HSampFactor x VSampFactor blocks of
	// this component.
	HSampFactor, VSampFactor int
	// QuantIdx is the index of the quantization table used by this component.
	QuantIdx int
	// WidthInBlocks and HeightInBlocks are the component dimensions in 8x8 blocks.
	WidthInBlocks, HeightInBlocks int
	// Coeffs holds the coefficients block by block in raster order, 64 per
	// block in natural (row-major) order, divided by the quantization values.
	Coeffs []int16
}

// NewComponent returns a component with its coefficient array allocated.
func NewComponent(id, h, v, quantIdx, widthInBlocks, heightInBlocks int) Component {
	return Component{
		ID:             id,
		HSampFactor:    h,
		VSampFactor:    v,
		QuantIdx:       quantIdx,
		WidthInBlocks:  widthInBlocks,
		HeightInBlocks: heightInBlocks,
		Coeffs:         make([]int16, widthInBlocks*heightInBlocks*BlockSize),
	}
}

// Block returns the 64 coefficients of the block at (bx, by).
func (c *Component) Block(bx, by int) []int16 {
	off := (by*c.WidthInBlocks + bx) * BlockSize

	return c.Coeffs[off : off+BlockSize : off+BlockSize]
}

// Checksum returns the xxHash64 of the coefficient array serialized as
// little-endian 16-bit values.
func (c *Component) Checksum() uint64 {
	h := xxhash.New()

	var buf [2 * BlockSize]byte
	for off := 0; off < len(c.Coeffs); off += BlockSize {
		end := min(off+BlockSize, len(c.Coeffs))
		n := 0
		for _, v := range c.Coeffs[off:end] {
			binary.LittleEndian.PutUint16(buf[n:], uint16(v))
			n += 2
		}
		_, _ = h.Write(buf[:n])
	}

	return h.Sum64()
}

// QuantTable holds the quantization values for an 8x8 block in natural order.
type QuantTable struct {
	Values [BlockSize]int32
	// Index is the table slot (0-3) from the DQT marker.
	Index int
}

// ScanComponent holds the Huffman table indexes and MCU dimensions used for
// one component of one scan.
type ScanComponent struct {
	CompIdx        int
	DCTable        int
	ACTable        int
	MCUXSizeBlocks int
	MCUYSizeBlocks int
}

// ScanInfo holds the parameters of one scan.
//
//	Ss: start of spectral band in zig-zag order.
//	Se: end of spectral band in zig-zag order.
//	Ah: successive approximation bit position, high.
//	Al: successive approximation bit position, low.
type ScanInfo struct {
	Ss, Se     int
	Ah, Al     int
	Components []ScanComponent
	MCURows    int
	MCUCols    int
}

// mcuCodingState is the decoder state saved before decoding one MCU, so a
// truncated or corrupt MCU can be rolled back.
type mcuCodingState struct {
	lastDC [MaxComponents]int16
	eobrun int
	coeffs []int16
}

// naturalOrder maps a zig-zag index to its natural (row-major) position.
var naturalOrder = [BlockSize]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

func divCeil(a, b int) int {
	return (a + b - 1) / b
}
