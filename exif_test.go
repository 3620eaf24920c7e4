package jpegli

import (
	"encoding/binary"
	"testing"
)

// tiffOrientation returns a TIFF structure whose IFD0 holds an unrelated
// tag followed by the orientation tag.
func tiffOrientation(order binary.ByteOrder, orientation uint16) []byte {
	b := make([]byte, 8+2+2*12+4)
	if order == binary.LittleEndian {
		copy(b, "II")
	} else {
		copy(b, "MM")
	}

	order.PutUint16(b[2:], 42)
	order.PutUint32(b[4:], 8)
	order.PutUint16(b[8:], 2)

	// ImageWidth, LONG.
	entry := b[10:]
	order.PutUint16(entry[0:], 0x0100)
	order.PutUint16(entry[2:], 4)
	order.PutUint32(entry[4:], 1)
	order.PutUint32(entry[8:], 640)

	entry = b[22:]
	order.PutUint16(entry[0:], tagOrientation)
	order.PutUint16(entry[2:], typeUnsignedShort)
	order.PutUint32(entry[4:], 1)
	order.PutUint16(entry[8:], orientation)

	return b
}

func TestParseExifOrientation(t *testing.T) {
	wrongType := tiffOrientation(binary.BigEndian, 6)
	binary.BigEndian.PutUint16(wrongType[24:], 4)

	badMagic := tiffOrientation(binary.LittleEndian, 3)
	badMagic[2] = 43

	badOffset := tiffOrientation(binary.BigEndian, 3)
	binary.BigEndian.PutUint32(badOffset[4:], 4000)

	testCases := []struct {
		name string
		data []byte
		want int
	}{
		{"LittleEndian", tiffOrientation(binary.LittleEndian, 8), 8},
		{"BigEndian", tiffOrientation(binary.BigEndian, 6), 6},
		{"OutOfRange", tiffOrientation(binary.BigEndian, 9), 0},
		{"WrongType", wrongType, 0},
		{"BadMagic", badMagic, 0},
		{"BadIFDOffset", badOffset, 0},
		{"Truncated", tiffOrientation(binary.LittleEndian, 5)[:30], 0},
		{"ByteOrder", []byte("XX\x00\x2a\x00\x00\x00\x08"), 0},
		{"Empty", nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseExifOrientation(tc.data); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}
