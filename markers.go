package jpegli

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
)

// JPEG markers (second byte after 0xFF).
const (
	markerSOF0  = 0xC0 // baseline
	markerSOF1  = 0xC1 // extended sequential, Huffman
	markerSOF2  = 0xC2 // progressive, Huffman
	markerDHT   = 0xC4
	markerRST0  = 0xD0
	markerRST7  = 0xD7
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerDQT   = 0xDB
	markerDNL   = 0xDC
	markerDRI   = 0xDD
	markerAPP0  = 0xE0
	markerAPP1  = 0xE1
	markerAPP2  = 0xE2
	markerAPP14 = 0xEE
	markerAPP15 = 0xEF
	markerCOM   = 0xFE
)

var (
	iccSignature   = []byte("ICC_PROFILE\x00")
	exifSignature  = []byte("Exif\x00\x00")
	jfifSignature  = []byte("JFIF\x00")
	adobeSignature = []byte("Adobe")
)

// processMarkers parses complete marker segments until a scan starts, the
// image ends or the buffered input runs out.
func (d *Decoder) processMarkers(m *markerPhase) (Status, error) {
	for {
		if d.pos+2 > len(d.input) {
			return d.needInput()
		}

		if d.input[d.pos] != 0xFF {
			// Garbage between segments: resynchronize on the next marker.
			m.skipped++
			d.pos++

			continue
		}

		marker := d.input[d.pos+1]
		if marker == 0xFF {
			// Fill byte.
			d.pos++

			continue
		}

		if m.skipped > 0 {
			d.log.Warn("jpegli: skipped bytes before marker", slog.Int("bytes", m.skipped), slog.Int("marker", int(marker)))
			m.skipped = 0
		}

		switch {
		case marker == 0x00:
			// Stuffed byte outside a scan.
			d.pos += 2

			continue
		case marker == markerSOI:
			return d.fail(fmt.Errorf("duplicate SOI: %w", ErrSyntax))
		case marker == markerEOI:
			d.pos += 2

			return d.endOfImage()
		case marker >= markerRST0 && marker <= markerRST7:
			// Stray restart marker outside a scan.
			d.pos += 2

			continue
		}

		if d.pos+4 > len(d.input) {
			return d.needInput()
		}

		length := int(binary.BigEndian.Uint16(d.input[d.pos+2:]))
		if length < 2 {
			return d.fail(fmt.Errorf("marker 0x%02X: length %d: %w", marker, length, ErrSyntax))
		}

		if d.pos+2+length > len(d.input) {
			return d.needInput()
		}

		payload := d.input[d.pos+4 : d.pos+2+length]
		d.pos += 2 + length

		var err error
		switch marker {
		case markerSOF0, markerSOF1, markerSOF2:
			err = d.processSOF(marker, payload)
		case 0xC3, 0xC5, 0xC6, 0xC7, 0xC9, 0xCA, 0xCB, 0xCD, 0xCE, 0xCF:
			err = fmt.Errorf("SOF%d frames: %w", marker-markerSOF0, ErrUnsupported)
		case markerDHT:
			err = d.processDHT(payload)
		case markerDQT:
			err = d.processDQT(payload)
		case markerDRI:
			err = d.processDRI(payload)
		case markerDNL:
			err = fmt.Errorf("DNL marker: %w", ErrUnsupported)
		case markerSOS:
			return d.processSOS(m, payload)
		case markerCOM:
			d.log.Debug("jpegli: COM", slog.Int("length", len(payload)))
		default:
			if marker >= markerAPP0 && marker <= markerAPP15 {
				err = d.processAPP(m, marker, payload)
			} else {
				d.log.Debug("jpegli: skipping unknown marker", slog.Int("marker", int(marker)), slog.Int("length", len(payload)))
			}
		}

		if err != nil {
			return d.fail(err)
		}
	}
}

// needInput is called when the buffered input ends inside a marker segment.
func (d *Decoder) needInput() (Status, error) {
	if !d.final {
		return StatusNeedMoreInput, nil
	}

	if d.frame != nil && d.numScans > 0 {
		d.log.Warn("jpegli: missing EOI, rendering what was decoded", slog.Int("scans", d.numScans))

		return d.startRender()
	}

	return d.fail(fmt.Errorf("unexpected end of data: %w", ErrSyntax))
}

func (d *Decoder) endOfImage() (Status, error) {
	if d.frame == nil {
		return d.fail(fmt.Errorf("EOI before SOF: %w", ErrSyntax))
	}

	if d.numScans == 0 {
		return d.fail(fmt.Errorf("EOI before any scan: %w", ErrSyntax))
	}

	return d.startRender()
}

// processSOF parses the frame header.
func (d *Decoder) processSOF(marker byte, p []byte) error {
	if d.frame != nil {
		return fmt.Errorf("multiple SOF markers: %w", ErrUnsupported)
	}

	if len(p) < 6 {
		return fmt.Errorf("SOF: length %d: %w", len(p), ErrSyntax)
	}

	if p[0] != 8 {
		return fmt.Errorf("SOF: precision %d: %w", p[0], ErrUnsupported)
	}

	height := int(binary.BigEndian.Uint16(p[1:]))
	width := int(binary.BigEndian.Uint16(p[3:]))
	if width == 0 {
		return fmt.Errorf("SOF: zero width: %w", ErrSyntax)
	}

	if height == 0 {
		return fmt.Errorf("SOF: height defined by DNL: %w", ErrUnsupported)
	}

	ncomp := int(p[5])
	if ncomp < 1 || ncomp > MaxComponents {
		return fmt.Errorf("SOF: %d components: %w", ncomp, ErrUnsupported)
	}

	if len(p) != 6+3*ncomp {
		return fmt.Errorf("SOF: length %d for %d components: %w", len(p), ncomp, ErrSyntax)
	}

	f := &frameInfo{
		width:       width,
		height:      height,
		progressive: marker == markerSOF2,
		components:  make([]Component, ncomp),
		maxH:        1,
		maxV:        1,
	}

	for i := 0; i < ncomp; i++ {
		b := p[6+3*i:]
		c := &f.components[i]
		c.ID = int(b[0])
		c.HSampFactor = int(b[1] >> 4)
		c.VSampFactor = int(b[1] & 15)
		c.QuantIdx = int(b[2])

		if c.HSampFactor < 1 || c.HSampFactor > 4 || c.VSampFactor < 1 || c.VSampFactor > 4 {
			return fmt.Errorf("SOF: component %d sampling %dx%d: %w", c.ID, c.HSampFactor, c.VSampFactor, ErrSyntax)
		}

		if c.QuantIdx >= maxQuantTables {
			return fmt.Errorf("SOF: component %d quant table %d: %w", c.ID, c.QuantIdx, ErrSyntax)
		}

		for j := 0; j < i; j++ {
			if f.components[j].ID == c.ID {
				return fmt.Errorf("SOF: duplicate component id %d: %w", c.ID, ErrSyntax)
			}
		}

		f.maxH = max(f.maxH, c.HSampFactor)
		f.maxV = max(f.maxV, c.VSampFactor)
	}

	if ncomp == 1 {
		// A single component is always coded non-interleaved with 1x1 MCUs.
		c := &f.components[0]
		c.HSampFactor, c.VSampFactor = 1, 1
		f.maxH, f.maxV = 1, 1
	}

	for i := range f.components {
		c := &f.components[i]
		if f.maxH%c.HSampFactor != 0 || f.maxV%c.VSampFactor != 0 {
			return fmt.Errorf("SOF: sampling %dx%d does not divide %dx%d: %w",
				c.HSampFactor, c.VSampFactor, f.maxH, f.maxV, ErrUnsupported)
		}
	}

	f.mcuCols = divCeil(width, 8*f.maxH)
	f.mcuRows = divCeil(height, 8*f.maxV)

	for i := range f.components {
		c := &f.components[i]
		*c = NewComponent(c.ID, c.HSampFactor, c.VSampFactor, c.QuantIdx, f.mcuCols*c.HSampFactor, f.mcuRows*c.VSampFactor)
	}

	d.frame = f
	d.transform = d.colorTransform()

	d.log.Debug("jpegli: SOF",
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("components", ncomp),
		slog.Bool("progressive", f.progressive),
	)

	return nil
}

// colorTransform derives the colour space from the component count, the
// APP14 Adobe marker and the component ids.
func (d *Decoder) colorTransform() colorTransform {
	comps := d.frame.components
	switch len(comps) {
	case 1:
		return transformGray
	case 3:
		if d.jfif {
			return transformYCbCr
		}

		if d.adobe {
			if d.adobeTransform == 0 {
				return transformRGB
			}

			return transformYCbCr
		}

		if comps[0].ID == 'R' && comps[1].ID == 'G' && comps[2].ID == 'B' {
			return transformRGB
		}

		return transformYCbCr
	case 4:
		if d.adobe && d.adobeTransform == 2 {
			return transformYCCK
		}

		return transformCMYK
	}

	return transformNone
}

// processDQT parses one or more quantization tables, 8 or 16 bit.
func (d *Decoder) processDQT(p []byte) error {
	for len(p) > 0 {
		precision, idx := int(p[0]>>4), int(p[0]&15)
		if precision > 1 || idx >= maxQuantTables {
			return fmt.Errorf("DQT: precision %d table %d: %w", precision, idx, ErrSyntax)
		}

		size := BlockSize << precision
		if len(p) < 1+size {
			return fmt.Errorf("DQT: short table %d: %w", idx, ErrSyntax)
		}

		t := &d.quant[idx]
		t.Index = idx
		for k := 0; k < BlockSize; k++ {
			var v int32
			if precision == 0 {
				v = int32(p[1+k])
			} else {
				v = int32(binary.BigEndian.Uint16(p[1+2*k:]))
			}

			if v == 0 {
				return fmt.Errorf("DQT: zero value in table %d: %w", idx, ErrSyntax)
			}

			t.Values[naturalOrder[k]] = v
		}

		d.quantDefined[idx] = true
		p = p[1+size:]

		d.log.Debug("jpegli: DQT", slog.Int("table", idx), slog.Int("precision", 8<<precision))
	}

	return nil
}

// processDHT parses one or more Huffman tables.
func (d *Decoder) processDHT(p []byte) error {
	var counts [16]uint8
	for len(p) > 0 {
		if len(p) < 17 {
			return fmt.Errorf("DHT: short segment: %w", ErrSyntax)
		}

		class, idx := int(p[0]>>4), int(p[0]&15)
		if class > 1 || idx >= maxHuffmanTables {
			return fmt.Errorf("DHT: class %d table %d: %w", class, idx, ErrSyntax)
		}

		n := 0
		for i := range counts {
			counts[i] = p[1+i]
			n += int(counts[i])
		}

		if n > 256 || len(p) < 17+n {
			return fmt.Errorf("DHT: %d symbols in %d bytes: %w", n, len(p)-17, ErrSyntax)
		}

		if err := d.huff[class][idx].build(&counts, p[17:17+n]); err != nil {
			return err
		}

		p = p[17+n:]

		d.log.Debug("jpegli: DHT", slog.Int("class", class), slog.Int("table", idx), slog.Int("symbols", n))
	}

	return nil
}

// processDRI parses the restart interval.
func (d *Decoder) processDRI(p []byte) error {
	if len(p) != 2 {
		return fmt.Errorf("DRI: length %d: %w", len(p), ErrSyntax)
	}

	d.restartInterval = int(binary.BigEndian.Uint16(p))
	d.log.Debug("jpegli: DRI", slog.Int("interval", d.restartInterval))

	return nil
}

// processAPP handles the application segments that carry image metadata.
// Anything else is skipped.
func (d *Decoder) processAPP(m *markerPhase, marker byte, p []byte) error {
	switch {
	case marker == markerAPP0 && bytes.HasPrefix(p, jfifSignature):
		d.jfif = true
	case marker == markerAPP1 && bytes.HasPrefix(p, exifSignature):
		d.orientation = parseExifOrientation(p[len(exifSignature):])
		d.log.Debug("jpegli: EXIF", slog.Int("orientation", d.orientation))
	case marker == markerAPP2 && bytes.HasPrefix(p, iccSignature):
		return d.processICCChunk(m, p[len(iccSignature):])
	case marker == markerAPP14 && bytes.HasPrefix(p, adobeSignature):
		if len(p) >= 12 {
			d.adobe = true
			d.adobeTransform = int(p[11])
		}
	}

	if d.frame != nil {
		d.transform = d.colorTransform()
	}

	return nil
}

// processICCChunk appends one APP2 chunk. Chunks must arrive in order with
// a consistent total; the profile is complete after the last one.
func (d *Decoder) processICCChunk(m *markerPhase, p []byte) error {
	if len(p) < 2 {
		return fmt.Errorf("ICC chunk: length %d: %w", len(p), ErrSyntax)
	}

	index, total := int(p[0]), int(p[1])
	if index != m.iccIndex+1 {
		return fmt.Errorf("ICC chunk %d, expected %d: %w", index, m.iccIndex+1, ErrSyntax)
	}

	if m.iccTotal == 0 {
		m.iccTotal = total
	} else if total != m.iccTotal {
		return fmt.Errorf("ICC chunk total %d, expected %d: %w", total, m.iccTotal, ErrSyntax)
	}

	if index > total {
		return fmt.Errorf("ICC chunk %d of %d: %w", index, total, ErrSyntax)
	}

	m.iccIndex = index
	m.iccChunks = append(m.iccChunks, p[2:]...)

	d.log.Debug("jpegli: ICC chunk", slog.Int("index", index), slog.Int("total", total), slog.Int("size", len(p)-2))

	if index == total {
		d.icc = m.iccChunks
	}

	return nil
}

// processSOS parses a scan header and enters the scan phase.
func (d *Decoder) processSOS(m *markerPhase, p []byte) (Status, error) {
	f := d.frame
	if f == nil {
		return d.fail(fmt.Errorf("SOS before SOF: %w", ErrSyntax))
	}

	if len(p) < 1 {
		return d.fail(fmt.Errorf("SOS: empty header: %w", ErrSyntax))
	}

	ns := int(p[0])
	if ns < 1 || ns > MaxComponents {
		return d.fail(fmt.Errorf("SOS: %d components: %w", ns, ErrSyntax))
	}

	if ns > len(f.components) {
		return d.fail(fmt.Errorf("SOS: %d components in a frame of %d: %w", ns, len(f.components), ErrSyntax))
	}

	if len(p) != 4+2*ns {
		return d.fail(fmt.Errorf("SOS: length %d for %d components: %w", len(p), ns, ErrSyntax))
	}

	s := &scanPhase{markers: m, ecsEnd: -1}
	info := &s.info
	info.Components = make([]ScanComponent, ns)

	for i := 0; i < ns; i++ {
		id := int(p[1+2*i])
		ci := -1
		for j := range f.components {
			if f.components[j].ID == id {
				ci = j

				break
			}
		}

		if ci < 0 {
			return d.fail(fmt.Errorf("SOS: unknown component id %d: %w", id, ErrSyntax))
		}

		for j := 0; j < i; j++ {
			if info.Components[j].CompIdx == ci {
				return d.fail(fmt.Errorf("SOS: duplicate component id %d: %w", id, ErrSyntax))
			}
		}

		sc := &info.Components[i]
		sc.CompIdx = ci
		sc.DCTable = int(p[2+2*i] >> 4)
		sc.ACTable = int(p[2+2*i] & 15)
		if sc.DCTable >= maxHuffmanTables || sc.ACTable >= maxHuffmanTables {
			return d.fail(fmt.Errorf("SOS: huffman tables %d/%d: %w", sc.DCTable, sc.ACTable, ErrSyntax))
		}
	}

	b := p[1+2*ns:]
	info.Ss, info.Se = int(b[0]), int(b[1])
	info.Ah, info.Al = int(b[2]>>4), int(b[2]&15)

	if err := d.checkScanParams(info); err != nil {
		return d.fail(err)
	}

	for i := range info.Components {
		sc := &info.Components[i]
		c := &f.components[sc.CompIdx]
		if info.Ss == 0 && info.Ah == 0 {
			s.dc[i] = d.huff[0][sc.DCTable]
			if !s.dc[i].defined {
				return d.fail(fmt.Errorf("SOS: DC table %d not defined: %w", sc.DCTable, ErrSyntax))
			}
		}

		if info.Se > 0 {
			s.ac[i] = d.huff[1][sc.ACTable]
			if !s.ac[i].defined {
				return d.fail(fmt.Errorf("SOS: AC table %d not defined: %w", sc.ACTable, ErrSyntax))
			}
		}

		if !d.quantDefined[c.QuantIdx] {
			return d.fail(fmt.Errorf("SOS: quant table %d not defined: %w", c.QuantIdx, ErrSyntax))
		}

		if ns == 1 {
			sc.MCUXSizeBlocks, sc.MCUYSizeBlocks = 1, 1
		} else {
			sc.MCUXSizeBlocks, sc.MCUYSizeBlocks = c.HSampFactor, c.VSampFactor
		}
	}

	if ns == 1 {
		c := &f.components[info.Components[0].CompIdx]
		info.MCUCols = divCeil(divCeil(f.width*c.HSampFactor, f.maxH), 8)
		info.MCURows = divCeil(divCeil(f.height*c.VSampFactor, f.maxV), 8)
	} else {
		info.MCUCols = f.mcuCols
		info.MCURows = f.mcuRows
	}

	if err := d.updateProgression(info); err != nil {
		return d.fail(err)
	}

	blocks := 0
	for _, sc := range info.Components {
		blocks += sc.MCUXSizeBlocks * sc.MCUYSizeBlocks
	}
	s.snapshot.coeffs = make([]int16, blocks*BlockSize)
	s.restartsToGo = d.restartInterval
	s.br.reset(d.input, d.pos, len(d.input))

	d.phase = s

	d.log.Debug("jpegli: SOS",
		slog.Int("components", ns),
		slog.Int("ss", info.Ss),
		slog.Int("se", info.Se),
		slog.Int("ah", info.Ah),
		slog.Int("al", info.Al),
	)

	return StatusScanReady, nil
}

// checkScanParams validates the spectral selection and successive
// approximation parameters against the frame type.
func (d *Decoder) checkScanParams(info *ScanInfo) error {
	if !d.frame.progressive {
		if info.Ss != 0 || info.Se != 63 || info.Ah != 0 || info.Al != 0 {
			return fmt.Errorf("sequential scan with Ss=%d Se=%d Ah=%d Al=%d: %w",
				info.Ss, info.Se, info.Ah, info.Al, ErrSyntax)
		}

		return nil
	}

	if info.Ss > info.Se || info.Se > 63 {
		return fmt.Errorf("scan band %d-%d: %w", info.Ss, info.Se, ErrSyntax)
	}

	if info.Ss == 0 && info.Se != 0 {
		return fmt.Errorf("scan mixes DC and AC (Se=%d): %w", info.Se, ErrSyntax)
	}

	if info.Ss > 0 && len(info.Components) != 1 {
		return fmt.Errorf("AC scan with %d components: %w", len(info.Components), ErrSyntax)
	}

	if info.Al > 13 || info.Ah > 13 {
		return fmt.Errorf("successive approximation Ah=%d Al=%d: %w", info.Ah, info.Al, ErrSyntax)
	}

	if info.Ah != 0 && info.Ah != info.Al+1 {
		return fmt.Errorf("refinement Ah=%d Al=%d: %w", info.Ah, info.Al, ErrSyntax)
	}

	return nil
}

// updateProgression records which bits of which coefficients the scan
// codes, rejecting scans that overlap earlier ones or refine bits that
// were never coded.
func (d *Decoder) updateProgression(info *ScanInfo) error {
	var scanBits uint16
	if info.Ah == 0 {
		scanBits = 0xFFFF << info.Al
	} else {
		scanBits = 1 << info.Al
	}

	refinedBits := uint16(1)<<info.Al - 1

	for _, sc := range info.Components {
		prog := &d.scanProgression[sc.CompIdx]
		for k := info.Ss; k <= info.Se; k++ {
			if prog[k]&scanBits != 0 {
				return fmt.Errorf("component %d coefficient %d: overlapping scan: %w",
					d.frame.components[sc.CompIdx].ID, k, ErrSyntax)
			}

			if prog[k]&refinedBits != 0 {
				return fmt.Errorf("component %d coefficient %d: scan after a finer one: %w",
					d.frame.components[sc.CompIdx].ID, k, ErrSyntax)
			}

			if info.Ah != 0 && prog[k]&(1<<info.Ah) == 0 {
				return fmt.Errorf("component %d coefficient %d: refinement without first pass: %w",
					d.frame.components[sc.CompIdx].ID, k, ErrSyntax)
			}

			prog[k] |= scanBits
		}
	}

	return nil
}
