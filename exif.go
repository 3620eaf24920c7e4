package jpegli

import "encoding/binary"

const (
	tagOrientation    = 0x0112
	typeUnsignedShort = 3
)

// exifReader wraps the TIFF structure of an EXIF payload with bounds-checked
// reads in its byte order. Reads past the end return 0.
type exifReader struct {
	data  []byte
	order binary.ByteOrder
}

func (r *exifReader) uint16(offset int) uint16 {
	if offset < 0 || offset+2 > len(r.data) {
		return 0
	}

	return r.order.Uint16(r.data[offset:])
}

func (r *exifReader) uint32(offset int) uint32 {
	if offset < 0 || offset+4 > len(r.data) {
		return 0
	}

	return r.order.Uint32(r.data[offset:])
}

// parseExifOrientation returns the orientation tag (1-8) of IFD0 in the TIFF
// structure that follows the "Exif\0\0" header, or 0 if it is absent or
// malformed.
func parseExifOrientation(data []byte) int {
	if len(data) < 8 {
		return 0
	}

	r := &exifReader{data: data}
	switch string(data[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return 0
	}

	if r.uint16(2) != 42 {
		return 0
	}

	ifd := int(r.uint32(4))
	if ifd < 8 || ifd+2 > len(data) {
		return 0
	}

	// Entries past the end of the segment are ignored.
	n := min(int(r.uint16(ifd)), (len(data)-ifd-2)/12)
	for i := 0; i < n; i++ {
		entry := ifd + 2 + 12*i
		if r.uint16(entry) != tagOrientation {
			continue
		}

		if r.uint16(entry+2) != typeUnsignedShort || r.uint32(entry+4) != 1 {
			return 0
		}

		if o := int(r.uint16(entry + 8)); o >= 1 && o <= 8 {
			return o
		}

		return 0
	}

	return 0
}
