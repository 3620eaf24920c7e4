package jpegli

import "fmt"

// vlcCode represents a single entry in the pre-calculated Huffman lookup table.
// It stores the number of bits for the code and the decoded symbol.
type vlcCode struct {
	bits, code uint8
}

// huffmanTable is a 16-bit lookup table: every 16-bit window whose prefix is
// a valid code maps to that code's length and symbol.
type huffmanTable struct {
	lut     [65536]vlcCode
	defined bool
}

// build fills the lookup table from the DHT code length counts and symbols,
// using canonical Huffman code assignment.
func (t *huffmanTable) build(counts *[16]uint8, values []byte) error {
	// Pooling: clear the table before filling it.
	t.lut = [65536]vlcCode{}
	t.defined = false

	var huffCode uint32
	valueIdx := 0

	for codeLen := 1; codeLen <= 16; codeLen++ {
		numCodes := int(counts[codeLen-1])
		for k := 0; k < numCodes; k++ {
			if valueIdx >= len(values) {
				return fmt.Errorf("huffman table: %d values for %d codes: %w", len(values), valueIdx+1, ErrSyntax)
			}

			if huffCode >= 1<<codeLen {
				return fmt.Errorf("huffman table: code space overflow at length %d: %w", codeLen, ErrSyntax)
			}

			shift := 16 - codeLen
			baseIndex := huffCode << shift
			entry := vlcCode{bits: uint8(codeLen), code: values[valueIdx]}

			for j := uint32(0); j < 1<<shift; j++ {
				t.lut[baseIndex+j] = entry
			}

			valueIdx++
			huffCode++
		}

		huffCode <<= 1
	}

	t.defined = true

	return nil
}

// huffmanSpec specifies a Huffman encoding: count[i] is the number of codes
// of length i+1 bits and value[i] is the symbol of the i'th codeword.
type huffmanSpec struct {
	count [16]byte
	value []byte
}

// Annex K.3 tables.
var (
	specLuminanceDC = huffmanSpec{
		[16]byte{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	}
	specChrominanceDC = huffmanSpec{
		[16]byte{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	}
	specLuminanceAC = huffmanSpec{
		[16]byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125},
		[]byte{
			0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
			0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
			0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
			0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
			0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
			0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
			0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
			0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
			0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
			0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
			0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
			0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
			0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
			0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
			0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
			0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
			0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
			0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
			0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
			0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	}
	specChrominanceAC = huffmanSpec{
		[16]byte{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119},
		[]byte{
			0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
			0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
			0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
			0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
			0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
			0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
			0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
			0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
			0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
			0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
			0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
			0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
			0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
			0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
			0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
			0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
			0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
			0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
			0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
			0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	}
	// specFullAC covers all 256 AC symbols, including the EOBn run symbols
	// progressive scans need and the Annex K tables lack.
	specFullAC = func() huffmanSpec {
		s := huffmanSpec{value: make([]byte, 256)}
		s.count[7] = 254
		s.count[8] = 2
		for i := range s.value {
			s.value[i] = byte(i)
		}

		return s
	}()
)

// huffmanLUT is the encoder-side representation of a huffmanSpec. Each
// symbol maps to a uint32 whose 8 most significant bits hold the code size
// and whose 24 least significant bits hold the code.
type huffmanLUT [256]uint32

func newHuffmanLUT(s huffmanSpec) *huffmanLUT {
	h := new(huffmanLUT)
	code, k := uint32(0), 0
	for i := 0; i < len(s.count); i++ {
		nBits := uint32(i+1) << 24
		for j := uint8(0); j < s.count[i]; j++ {
			h[s.value[k]] = nBits | code
			code++
			k++
		}
		code <<= 1
	}

	return h
}
