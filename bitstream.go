package jpegli

import "fmt"

var (
	errInvalidCode = fmt.Errorf("invalid huffman code: %w", ErrSyntax)
	errExhausted   = fmt.Errorf("entropy-coded data exhausted: %w", ErrTruncated)
)

// entropySource is the pull-based symbol source the scan accumulator reads
// from. Every method reports exhaustion (or an undecodable code) with
// ok == false, distinctly from a decoded zero.
type entropySource interface {
	// symbol decodes the next Huffman symbol with table t.
	symbol(t *huffmanTable) (int, bool)
	// bits reads n (<= 16) raw bits.
	bits(n int) (int, bool)
	// restart discards buffered bits, skips to the next marker and consumes
	// it if it is a restart marker, returning its number.
	restart() (int, bool)
	// failure describes why the last read failed.
	failure() error
}

// bitReader reads entropy-coded data from data[pos:end]. It removes 0xFF00
// byte stuffing and stops at the first marker, leaving pos on its 0xFF.
type bitReader struct {
	data      []byte
	pos       int
	end       int
	buf       uint64
	bufBits   int
	markerHit bool
	badCode   bool
}

func (br *bitReader) reset(data []byte, pos, end int) {
	*br = bitReader{data: data, pos: pos, end: end}
}

// fill loads whole bytes until the buffer holds more than 56 bits, a marker
// is reached or the data ends.
func (br *bitReader) fill() {
	for br.bufBits <= 56 && !br.markerHit && br.pos < br.end {
		b := br.data[br.pos]
		if b == 0xFF {
			if br.pos+1 >= br.end {
				// A lone 0xFF at the end of the data cannot be resolved.
				br.markerHit = true

				return
			}

			if br.data[br.pos+1] != 0x00 {
				// Marker: stop here so the marker parser can read it.
				br.markerHit = true

				return
			}

			// Stuffed 0xFF00: consume the 0x00 as well.
			br.pos++
		}

		br.pos++
		br.buf = (br.buf << 8) | uint64(b)
		br.bufBits += 8
	}
}

// peek16 returns the next 16 bits, padding with 1 bits past the end.
func (br *bitReader) peek16() int {
	if br.bufBits < 16 {
		br.fill()
	}

	if br.bufBits >= 16 {
		return int(br.buf>>(br.bufBits-16)) & 0xFFFF
	}

	shift := 16 - br.bufBits

	return int((br.buf<<shift)|(1<<shift-1)) & 0xFFFF
}

func (br *bitReader) symbol(t *huffmanTable) (int, bool) {
	entry := t.lut[br.peek16()]
	if entry.bits == 0 {
		br.badCode = br.bufBits >= 16

		return 0, false
	}

	if int(entry.bits) > br.bufBits {
		return 0, false
	}

	br.bufBits -= int(entry.bits)

	return int(entry.code), true
}

func (br *bitReader) bits(n int) (int, bool) {
	if n == 0 {
		return 0, true
	}

	if br.bufBits < n {
		br.fill()
		if br.bufBits < n {
			return 0, false
		}
	}

	br.bufBits -= n

	return int(br.buf>>br.bufBits) & (1<<n - 1), true
}

func (br *bitReader) restart() (int, bool) {
	br.buf, br.bufBits = 0, 0
	br.markerHit = false

	for br.pos+1 < br.end {
		if br.data[br.pos] != 0xFF {
			br.pos++

			continue
		}

		switch m := br.data[br.pos+1]; {
		case m == 0x00:
			br.pos += 2
		case m == 0xFF:
			br.pos++
		case m >= 0xD0 && m <= 0xD7:
			br.pos += 2

			return int(m & 7), true
		default:
			br.markerHit = true

			return 0, false
		}
	}

	br.markerHit = true

	return 0, false
}

func (br *bitReader) failure() error {
	if br.badCode {
		return errInvalidCode
	}

	return errExhausted
}

// finish discards the remaining bits and moves pos to the next marker that
// is not a restart marker, returning that position.
func (br *bitReader) finish() int {
	br.buf, br.bufBits = 0, 0
	if end := findSegmentEnd(br.data[:br.end], br.pos); end >= 0 {
		br.pos = end
	} else {
		br.pos = br.end
	}

	return br.pos
}

// findSegmentEnd returns the position of the first marker at or after pos
// that terminates an entropy-coded segment, or -1 if data ends first.
// Stuffed bytes and restart markers are part of the segment.
func findSegmentEnd(data []byte, pos int) int {
	for i := pos; i+1 < len(data); i++ {
		if data[i] != 0xFF {
			continue
		}

		m := data[i+1]
		switch {
		case m == 0x00:
			i++
		case m >= 0xD0 && m <= 0xD7:
			i++
		default:
			return i
		}
	}

	return -1
}

// huffExtend converts the raw bits of a size-category value to its signed
// value (F.2.2.1).
func huffExtend(x, s int) int {
	if x < 1<<(s-1) {
		return x - (1 << s) + 1
	}

	return x
}

// errDecode is used for internal panics during the hot decoding path.
type errDecode struct{ error }

// recoverDecode turns an errDecode panic into an error.
func recoverDecode(err *error) {
	if r := recover(); r != nil {
		de, ok := r.(errDecode)
		if !ok {
			// Propagate other panics (e.g., runtime errors like index out of bounds).
			panic(r)
		}

		*err = de.error
	}
}
