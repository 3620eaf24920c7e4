package jpegli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
)

// Scan describes one scan of a progressive encoding.
type Scan struct {
	// Component is the component index, or -1 for all components
	// interleaved (DC scans only).
	Component int
	// SpectralStart and SpectralEnd select the zig-zag band.
	SpectralStart, SpectralEnd int
	// SuccessiveApproxHigh is 0 for a first pass, Low+1 for a refinement.
	SuccessiveApproxHigh, SuccessiveApproxLow int
}

// ScanScript is the ordered list of scans of a progressive encoding.
type ScanScript []Scan

// DefaultScanScript returns a script that codes DC and two AC bands with
// one bit of successive approximation, then refines AC and DC.
func DefaultScanScript(nComponent int) ScanScript {
	script := ScanScript{{Component: -1, SpectralStart: 0, SpectralEnd: 0, SuccessiveApproxLow: 1}}
	for c := 0; c < nComponent; c++ {
		script = append(script, Scan{Component: c, SpectralStart: 1, SpectralEnd: 5, SuccessiveApproxLow: 1})
	}

	for c := 0; c < nComponent; c++ {
		script = append(script, Scan{Component: c, SpectralStart: 6, SpectralEnd: 63, SuccessiveApproxLow: 1})
	}

	for c := 0; c < nComponent; c++ {
		script = append(script, Scan{Component: c, SpectralStart: 1, SpectralEnd: 63, SuccessiveApproxHigh: 1})
	}

	return append(script, Scan{Component: -1, SpectralStart: 0, SpectralEnd: 0, SuccessiveApproxHigh: 1})
}

// WriteOptions specifies encoding parameters for WriteCoefficients.
type WriteOptions struct {
	// Progressive selects SOF2 with ScanScript (DefaultScanScript if nil).
	Progressive bool
	ScanScript  ScanScript
	// RestartInterval inserts a restart marker every RestartInterval MCUs.
	RestartInterval int
	// ICCProfile is written as APP2 chunks.
	ICCProfile []byte
}

// maxCorrectionBits bounds the refinement correction bits queued behind an
// EOB run.
const maxCorrectionBits = 1000

// iccChunkSize is the largest ICC payload that fits one APP2 segment.
const iccChunkSize = 65535 - 2 - 12 - 2

// encoder writes a JPEG stream from quantized coefficients.
type encoder struct {
	// w is the writer to write to. err is the first error encountered during
	// writing. All attempted writes after the first error become no-ops.
	w   *bufio.Writer
	err error
	// buf is a scratch buffer.
	buf [16]byte
	// bits and nBits are accumulated bits to write to w.
	bits, nBits uint32

	frame       frameInfo
	progressive bool
	restart     int
	dc, ac      [2]*huffmanLUT

	// Progressive AC state: pending EOB run and the correction bits that
	// follow its symbol.
	eobrun  int
	pending []byte
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) writeByte(b byte) {
	if e.err != nil {
		return
	}
	e.err = e.w.WriteByte(b)
}

// emit emits the least significant nBits bits of bits to the bit-stream.
// The precondition is bits < 1<<nBits && nBits <= 16.
func (e *encoder) emit(bits, nBits uint32) {
	nBits += e.nBits
	bits <<= 32 - nBits
	bits |= e.bits
	for nBits >= 8 {
		b := uint8(bits >> 24)
		e.writeByte(b)
		if b == 0xff {
			e.writeByte(0x00)
		}
		bits <<= 8
		nBits -= 8
	}
	e.bits, e.nBits = bits, nBits
}

// emitHuff emits the given value with the given Huffman encoder.
func (e *encoder) emitHuff(h *huffmanLUT, value int) {
	x := h[value]
	e.emit(x&(1<<24-1), x>>24)
}

// emitHuffRLE emits a run of runLength copies of value encoded with the given
// Huffman encoder. maxBits is the largest size category h codes.
func (e *encoder) emitHuffRLE(h *huffmanLUT, runLength, value, maxBits int) {
	a, b := value, value
	if a < 0 {
		a, b = -value, value-1
	}

	nBits := bits.Len32(uint32(a))
	if nBits > maxBits {
		if e.err == nil {
			e.err = fmt.Errorf("jpegli: coefficient %d needs %d bits: %w", value, nBits, ErrUnsupported)
		}

		return
	}

	e.emitHuff(h, runLength<<4|nBits)
	if nBits > 0 {
		e.emit(uint32(b)&(1<<nBits-1), uint32(nBits))
	}
}

// finishSegment flushes the EOB run and pads the last byte with 1 bits.
func (e *encoder) finishSegment(ac *huffmanLUT) {
	e.emitEOBRun(ac)
	e.emit(0x7f, 7)
	e.bits, e.nBits = 0, 0
}

func (e *encoder) writeMarkerHeader(marker uint8, markerlen int) {
	e.buf[0] = 0xff
	e.buf[1] = marker
	e.buf[2] = uint8(markerlen >> 8)
	e.buf[3] = uint8(markerlen & 0xff)
	e.write(e.buf[:4])
}

func (e *encoder) writeJFIF() {
	e.writeMarkerHeader(markerAPP0, 16)
	e.write([]byte{'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0})
}

func (e *encoder) writeICC(icc []byte) {
	total := divCeil(len(icc), iccChunkSize)
	for i := 0; i < total; i++ {
		chunk := icc[i*iccChunkSize : min(len(icc), (i+1)*iccChunkSize)]
		e.writeMarkerHeader(markerAPP2, 2+len(iccSignature)+2+len(chunk))
		e.write(iccSignature)
		e.writeByte(byte(i + 1))
		e.writeByte(byte(total))
		e.write(chunk)
	}
}

func (e *encoder) writeDQT(tables []QuantTable) {
	for i := range tables {
		t := &tables[i]
		precision := 0
		for _, v := range t.Values {
			if v > 255 {
				precision = 1
			}
		}

		e.writeMarkerHeader(markerDQT, 2+1+BlockSize<<precision)
		e.writeByte(byte(precision<<4 | t.Index))
		for k := 0; k < BlockSize; k++ {
			v := t.Values[naturalOrder[k]]
			if precision == 1 {
				e.writeByte(byte(v >> 8))
			}
			e.writeByte(byte(v))
		}
	}
}

func (e *encoder) writeSOF() {
	f := &e.frame
	marker := uint8(markerSOF0)
	if e.progressive {
		marker = markerSOF2
	}

	e.writeMarkerHeader(marker, 8+3*len(f.components))
	e.buf[0] = 8 // 8-bit color.
	e.buf[1] = uint8(f.height >> 8)
	e.buf[2] = uint8(f.height & 0xff)
	e.buf[3] = uint8(f.width >> 8)
	e.buf[4] = uint8(f.width & 0xff)
	e.buf[5] = uint8(len(f.components))
	e.write(e.buf[:6])
	for _, c := range f.components {
		e.buf[0] = uint8(c.ID)
		e.buf[1] = uint8(c.HSampFactor<<4 | c.VSampFactor)
		e.buf[2] = uint8(c.QuantIdx)
		e.write(e.buf[:3])
	}
}

func (e *encoder) writeDRI() {
	e.writeMarkerHeader(markerDRI, 4)
	e.writeByte(byte(e.restart >> 8))
	e.writeByte(byte(e.restart))
}

// writeDHT writes the luminance and chrominance DC tables and the AC tables
// in slots 0 and 1.
func (e *encoder) writeDHT() {
	specs := []struct {
		class, index int
		spec         huffmanSpec
	}{
		{0, 0, specLuminanceDC},
		{1, 0, specLuminanceAC},
		{0, 1, specChrominanceDC},
		{1, 1, specChrominanceAC},
	}

	if e.progressive {
		specs[1].spec = specFullAC
		specs[3].spec = specFullAC
	}

	if len(e.frame.components) == 1 {
		specs = specs[:2]
	}

	for _, s := range specs {
		e.writeMarkerHeader(markerDHT, 2+1+16+len(s.spec.value))
		e.writeByte(byte(s.class<<4 | s.index))
		e.write(s.spec.count[:])
		e.write(s.spec.value)

		lut := newHuffmanLUT(s.spec)
		if s.class == 0 {
			e.dc[s.index] = lut
		} else {
			e.ac[s.index] = lut
		}
	}
}

// tableIndex returns the Huffman table slot of component ci.
func tableIndex(ci int) int {
	return min(ci, 1)
}

// writeScan writes the header and entropy-coded segment of one scan.
func (e *encoder) writeScan(comps []int, ss, se, ah, al int) {
	f := &e.frame

	e.writeMarkerHeader(markerSOS, 6+2*len(comps))
	e.writeByte(byte(len(comps)))
	for _, ci := range comps {
		t := tableIndex(ci)
		e.writeByte(byte(f.components[ci].ID))
		e.writeByte(byte(t<<4 | t))
	}
	e.writeByte(byte(ss))
	e.writeByte(byte(se))
	e.writeByte(byte(ah<<4 | al))

	rows, cols := f.mcuRows, f.mcuCols
	if len(comps) == 1 {
		c := &f.components[comps[0]]
		cols = divCeil(divCeil(f.width*c.HSampFactor, f.maxH), 8)
		rows = divCeil(divCeil(f.height*c.VSampFactor, f.maxV), 8)
	}

	var lastDC [MaxComponents]int
	e.eobrun, e.pending = 0, e.pending[:0]
	ac := e.ac[tableIndex(comps[0])]
	mcu, rst := 0, 0

	for my := 0; my < rows; my++ {
		for mx := 0; mx < cols; mx++ {
			if e.restart > 0 && mcu > 0 && mcu%e.restart == 0 {
				e.finishSegment(ac)
				e.buf[0] = 0xff
				e.buf[1] = byte(markerRST0 + rst&7)
				e.write(e.buf[:2])
				rst++
				lastDC = [MaxComponents]int{}
			}
			mcu++

			for i, ci := range comps {
				c := &f.components[ci]
				h, v := c.HSampFactor, c.VSampFactor
				if len(comps) == 1 {
					h, v = 1, 1
				}

				t := tableIndex(ci)
				for iy := 0; iy < v; iy++ {
					for ix := 0; ix < h; ix++ {
						block := c.Block(mx*h+ix, my*v+iy)
						switch {
						case ss == 0 && ah == 0:
							lastDC[i] = e.encodeDC(block, e.dc[t], lastDC[i], al)
							if se > 0 {
								e.encodeACFirst(block, e.ac[t], 1, se, al)
							}
						case ss == 0:
							e.emit(uint32(block[0]>>al)&1, 1)
						case ah == 0:
							e.encodeACFirst(block, e.ac[t], ss, se, al)
						default:
							e.encodeACRefine(block, e.ac[t], ss, se, al)
						}
					}
				}
			}
		}
	}

	e.finishSegment(ac)
}

// encodeDC codes the DC difference of a first pass and returns the new
// prediction.
func (e *encoder) encodeDC(block []int16, h *huffmanLUT, prev, al int) int {
	dc := int(block[0]) >> al
	e.emitHuffRLE(h, 0, dc-prev, 11)

	return dc
}

// encodeACFirst codes the band [ss, se] of a sequential block or an AC
// first pass. Progressive passes accumulate end-of-band runs.
func (e *encoder) encodeACFirst(block []int16, h *huffmanLUT, ss, se, al int) {
	r := 0
	for k := ss; k <= se; k++ {
		v := int(block[naturalOrder[k]])
		if v < 0 {
			v = -(-v >> al)
		} else {
			v >>= al
		}

		if v == 0 {
			r++

			continue
		}

		e.emitEOBRun(h)
		for r > 15 {
			e.emitHuff(h, 0xf0)
			r -= 16
		}

		e.emitHuffRLE(h, r, v, 10)
		r = 0
	}

	if r > 0 {
		if !e.progressive {
			e.emitHuff(h, 0x00)

			return
		}

		e.eobrun++
		if e.eobrun == 0x7FFF {
			e.emitEOBRun(h)
		}
	}
}

// encodeACRefine codes one refinement pass of the band [ss, se]: newly
// nonzero coefficients with their sign, and one correction bit for every
// coefficient that was already nonzero.
func (e *encoder) encodeACRefine(block []int16, h *huffmanLUT, ss, se, al int) {
	var absValues [BlockSize]int
	eob := 0
	for k := ss; k <= se; k++ {
		v := int(block[naturalOrder[k]])
		if v < 0 {
			v = -v
		}
		absValues[k] = v >> al
		if absValues[k] == 1 {
			eob = k
		}
	}

	r := 0
	var corrBuf [BlockSize]byte
	corr := corrBuf[:0]

	for k := ss; k <= se; k++ {
		v := absValues[k]
		if v == 0 {
			r++

			continue
		}

		for r > 15 && k <= eob {
			e.emitEOBRun(h)
			e.emitHuff(h, 0xf0)
			r -= 16
			e.emitBits(corr)
			corr = corr[:0]
		}

		if v > 1 {
			corr = append(corr, byte(v&1))

			continue
		}

		e.emitEOBRun(h)
		e.emitHuff(h, r<<4|1)
		if block[naturalOrder[k]] < 0 {
			e.emit(0, 1)
		} else {
			e.emit(1, 1)
		}
		e.emitBits(corr)
		corr = corr[:0]
		r = 0
	}

	if r > 0 || len(corr) > 0 {
		e.eobrun++
		e.pending = append(e.pending, corr...)
		if e.eobrun == 0x7FFF || len(e.pending) > maxCorrectionBits-BlockSize+1 {
			e.emitEOBRun(h)
		}
	}
}

func (e *encoder) emitBits(bits []byte) {
	for _, b := range bits {
		e.emit(uint32(b), 1)
	}
}

// emitEOBRun emits the pending EOB run and the correction bits queued
// behind it.
func (e *encoder) emitEOBRun(h *huffmanLUT) {
	if e.eobrun == 0 {
		return
	}

	nBits := bits.Len(uint(e.eobrun)) - 1
	e.emitHuff(h, nBits<<4)
	if nBits > 0 {
		e.emit(uint32(e.eobrun)&(1<<nBits-1), uint32(nBits))
	}

	e.eobrun = 0
	e.emitBits(e.pending)
	e.pending = e.pending[:0]
}

// validateScanScript checks a scan script against the component count.
func validateScanScript(script ScanScript, nComponent int) error {
	if len(script) == 0 {
		return errors.New("jpegli: scan script cannot be empty")
	}

	for i, scan := range script {
		if scan.Component < -1 || scan.Component >= nComponent {
			return fmt.Errorf("jpegli: scan %d has invalid component %d", i, scan.Component)
		}

		if scan.SpectralStart < 0 || scan.SpectralEnd < scan.SpectralStart || scan.SpectralEnd > 63 {
			return fmt.Errorf("jpegli: scan %d has invalid band %d-%d", i, scan.SpectralStart, scan.SpectralEnd)
		}

		if scan.SpectralStart == 0 && scan.SpectralEnd != 0 {
			return fmt.Errorf("jpegli: scan %d mixes DC and AC", i)
		}

		if scan.SpectralStart > 0 && scan.Component == -1 && nComponent > 1 {
			return fmt.Errorf("jpegli: AC scan %d cannot be interleaved", i)
		}

		if scan.SuccessiveApproxLow < 0 || scan.SuccessiveApproxLow > 13 {
			return fmt.Errorf("jpegli: scan %d has invalid successive approximation low %d", i, scan.SuccessiveApproxLow)
		}

		if ah := scan.SuccessiveApproxHigh; ah != 0 && ah != scan.SuccessiveApproxLow+1 {
			return fmt.Errorf("jpegli: scan %d has invalid successive approximation high %d", i, ah)
		}
	}

	return nil
}

// WriteCoefficients writes a JPEG stream that codes comps exactly. Each
// component must have at least the blocks its share of the MCU grid of a
// width x height frame covers, as LayoutComponents allocates; tables must
// hold every table the components refer to.
func WriteCoefficients(w io.Writer, width, height int, comps []Component, tables []QuantTable, opts *WriteOptions) error {
	if width <= 0 || height <= 0 || width > 65535 || height > 65535 {
		return fmt.Errorf("jpegli: invalid dimensions %dx%d", width, height)
	}

	if len(comps) < 1 || len(comps) > MaxComponents {
		return fmt.Errorf("jpegli: %d components: %w", len(comps), ErrUnsupported)
	}

	if opts == nil {
		opts = &WriteOptions{}
	}

	e := &encoder{
		progressive: opts.Progressive,
		restart:     opts.RestartInterval,
	}

	f, err := frameLayout(width, height, comps)
	if err != nil {
		return err
	}
	e.frame = *f

	for _, c := range comps {
		found := false
		for _, t := range tables {
			found = found || t.Index == c.QuantIdx
		}

		if !found {
			return fmt.Errorf("jpegli: no quant table %d for component %d", c.QuantIdx, c.ID)
		}
	}

	script := opts.ScanScript
	if e.progressive {
		if script == nil {
			script = DefaultScanScript(len(comps))
		}

		if err := validateScanScript(script, len(comps)); err != nil {
			return err
		}
	}

	if bw, ok := w.(*bufio.Writer); ok {
		e.w = bw
	} else {
		e.w = bufio.NewWriter(w)
	}

	// Write the Start Of Image marker.
	e.buf[0] = 0xff
	e.buf[1] = markerSOI
	e.write(e.buf[:2])

	if len(comps) != 4 {
		e.writeJFIF()
	}

	if len(opts.ICCProfile) > 0 {
		e.writeICC(opts.ICCProfile)
	}

	e.writeDQT(tables)
	e.writeSOF()
	e.writeDHT()
	if e.restart > 0 {
		e.writeDRI()
	}

	all := make([]int, len(comps))
	for i := range all {
		all[i] = i
	}

	if !e.progressive {
		e.writeScan(all, 0, 63, 0, 0)
	} else {
		for _, s := range script {
			sel := all
			if s.Component >= 0 {
				sel = []int{s.Component}
			}
			e.writeScan(sel, s.SpectralStart, s.SpectralEnd, s.SuccessiveApproxHigh, s.SuccessiveApproxLow)
		}
	}

	// Write the End Of Image marker.
	e.buf[0] = 0xff
	e.buf[1] = markerEOI
	e.write(e.buf[:2])

	if e.err != nil {
		return e.err
	}

	return e.w.Flush()
}

// frameLayout derives the MCU geometry of comps and checks that their
// block arrays cover it.
func frameLayout(width, height int, comps []Component) (*frameInfo, error) {
	f := &frameInfo{width: width, height: height, components: comps, maxH: 1, maxV: 1}
	for _, c := range comps {
		if c.HSampFactor < 1 || c.HSampFactor > 4 || c.VSampFactor < 1 || c.VSampFactor > 4 {
			return nil, fmt.Errorf("jpegli: component %d sampling %dx%d: %w", c.ID, c.HSampFactor, c.VSampFactor, ErrUnsupported)
		}
		f.maxH = max(f.maxH, c.HSampFactor)
		f.maxV = max(f.maxV, c.VSampFactor)
	}

	f.mcuCols = divCeil(width, 8*f.maxH)
	f.mcuRows = divCeil(height, 8*f.maxV)

	for _, c := range comps {
		needW, needH := f.mcuCols*c.HSampFactor, f.mcuRows*c.VSampFactor
		if len(comps) == 1 {
			needW, needH = divCeil(width, 8), divCeil(height, 8)
		}

		if c.WidthInBlocks < needW || c.HeightInBlocks < needH || len(c.Coeffs) != c.WidthInBlocks*c.HeightInBlocks*BlockSize {
			return nil, fmt.Errorf("jpegli: component %d has %dx%d blocks, need %dx%d",
				c.ID, c.WidthInBlocks, c.HeightInBlocks, needW, needH)
		}
	}

	return f, nil
}

// LayoutComponents returns components sized for a width x height frame with
// the given per-component sampling factors, padded to whole MCUs. Component
// ids are 1-based; the first component uses quant table 0, the others 1.
func LayoutComponents(width, height int, sampling [][2]int) []Component {
	maxH, maxV := 1, 1
	for _, s := range sampling {
		maxH, maxV = max(maxH, s[0]), max(maxV, s[1])
	}

	if len(sampling) == 1 {
		maxH, maxV = 1, 1
		sampling = [][2]int{{1, 1}}
	}

	mcuCols, mcuRows := divCeil(width, 8*maxH), divCeil(height, 8*maxV)
	comps := make([]Component, len(sampling))
	for i, s := range sampling {
		comps[i] = NewComponent(i+1, s[0], s[1], min(i, 1), mcuCols*s[0], mcuRows*s[1])
	}

	return comps
}
