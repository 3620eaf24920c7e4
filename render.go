package jpegli

import (
	"fmt"
	"image"
	"log/slog"
	"sort"
)

// ringIMCURows is the number of iMCU rows each component keeps in its
// sample ring buffer.
const ringIMCURows = 3

// renderComp is the per-component state of the rendering pipeline.
type renderComp struct {
	ci          int
	c           *Component
	q           *QuantTable
	width       int // samples per ring row
	validHeight int // rows covering the image
	rowsPerIMCU int
	ring        []float32
	ready       int // source rows rendered so far
	hTaps       []tap
	vTaps       []tap
}

// row returns source row y from the ring buffer.
func (rc *renderComp) row(y int) []float32 {
	off := (y % (ringIMCURows * rc.rowsPerIMCU)) * rc.width

	return rc.ring[off : off+rc.width : off+rc.width]
}

// blockRows returns the ring from block row by onward, for writing 8 rows.
func (rc *renderComp) blockRows(by int) []float32 {
	off := (by * 8 % (ringIMCURows * rc.rowsPerIMCU)) * rc.width

	return rc.ring[off : off+8*rc.width]
}

// renderer dequantizes, transforms, upsamples and colour converts the
// final coefficients, one output row at a time and in order.
type renderer struct {
	frame     *frameInfo
	transform colorTransform
	adobe     bool
	bias      *biasTable
	comps     []renderComp
	// order renders vertically subsampled components first.
	order   []int
	imcuRow int
	outRow  int
	rows    [MaxComponents][]float32
	vbuf    []float32
	img     image.Image
	coeffs  [BlockSize]float32
	scratch [BlockSize]float32
}

func newRenderer(d *Decoder) (*renderer, error) {
	f := d.frame
	if d.transform == transformNone {
		return nil, fmt.Errorf("rendering %d components: %w", len(f.components), ErrUnsupported)
	}

	r := &renderer{
		frame:     f,
		transform: d.transform,
		adobe:     d.adobe,
		bias:      newBiasTable(d.opts.BiasObservations),
		comps:     make([]renderComp, len(f.components)),
		order:     make([]int, len(f.components)),
		img:       newOutputImage(d.transform, f.width, f.height),
	}

	maxWidth := 0
	for i := range f.components {
		c := &f.components[i]
		hScale, vScale := f.maxH/c.HSampFactor, f.maxV/c.VSampFactor
		rc := &r.comps[i]
		rc.ci = i
		rc.c = c
		rc.q = &d.quant[c.QuantIdx]
		rc.width = c.WidthInBlocks * 8
		rc.rowsPerIMCU = c.VSampFactor * 8
		rc.validHeight = divCeil(f.height*c.VSampFactor, f.maxV)
		rc.ring = make([]float32, ringIMCURows*rc.rowsPerIMCU*rc.width)
		rc.hTaps = upsampleTaps(f.width, divCeil(f.width*c.HSampFactor, f.maxH), hScale, d.opts.UpsampleMethod)
		rc.vTaps = upsampleTaps(f.height, rc.validHeight, vScale, d.opts.UpsampleMethod)

		r.rows[i] = make([]float32, f.width)
		r.order[i] = i
		maxWidth = max(maxWidth, rc.width)
	}

	r.vbuf = make([]float32, maxWidth)

	sort.SliceStable(r.order, func(a, b int) bool {
		return f.components[r.order[a]].VSampFactor < f.components[r.order[b]].VSampFactor
	})

	d.log.Debug("jpegli: render",
		slog.Int("width", f.width),
		slog.Int("height", f.height),
		slog.Int("bias_observations", d.opts.BiasObservations),
	)

	return r, nil
}

// renderIMCURow dequantizes and inverse transforms one iMCU row of every
// component into the ring buffers.
func (r *renderer) renderIMCURow() {
	for _, ci := range r.order {
		rc := &r.comps[ci]
		c := rc.c
		for iy := 0; iy < c.VSampFactor; iy++ {
			by := r.imcuRow*c.VSampFactor + iy
			out := rc.blockRows(by)
			for bx := 0; bx < c.WidthInBlocks; bx++ {
				r.renderBlock(rc, c.Block(bx, by), out[bx*8:])
			}
		}

		rc.ready = (r.imcuRow + 1) * rc.rowsPerIMCU
	}

	r.imcuRow++
}

// renderBlock dequantizes one block with the adaptive bias and writes its
// inverse transform to out with the ring stride.
func (r *renderer) renderBlock(rc *renderComp, block []int16, out []float32) {
	r.bias.observe(rc.ci, block)
	biases := &r.bias.values[rc.ci]
	qv := &rc.q.Values

	for k, q := range block {
		switch {
		case q > 0:
			r.coeffs[k] = (float32(q) - biases[k]) * float32(qv[k])
		case q < 0:
			r.coeffs[k] = (float32(q) + biases[k]) * float32(qv[k])
		default:
			r.coeffs[k] = 0
		}
	}

	transformToPixels(&r.coeffs, out, rc.width, r.scratch[:])
}

// rowReady reports whether every component has the source rows output row
// y interpolates from.
func (r *renderer) rowReady(y int) bool {
	for i := range r.comps {
		rc := &r.comps[i]
		t := rc.vTaps[y]
		if max(t.i0, t.i1) >= rc.ready {
			return false
		}
	}

	return true
}

// emitRow upsamples and colour converts output row y.
func (r *renderer) emitRow(y int) {
	for i := range r.comps {
		rc := &r.comps[i]
		t := rc.vTaps[y]
		src := r.vbuf[:rc.width]
		blendRows(src, rc.row(t.i0), rc.row(t.i1), t.w)
		upsampleRow(r.rows[i], src, rc.hTaps)
	}

	convertRow(r.img, r.transform, r.adobe, y, r.rows)
}

// render emits up to n rows, rendering iMCU rows as they are needed.
func (r *renderer) render(n int) {
	for emitted := 0; emitted < n && r.outRow < r.frame.height; {
		if !r.rowReady(r.outRow) {
			r.renderIMCURow()

			continue
		}

		r.emitRow(r.outRow)
		r.outRow++
		emitted++
	}
}

// RenderRows renders up to n output rows in order. It reports
// StatusRowsReady while rows remain and StatusDone after the last one.
func (d *Decoder) RenderRows(n int) (Status, error) {
	var p *renderPhase
	switch ph := d.phase.(type) {
	case *renderPhase:
		p = ph
	case *endPhase:
		return StatusDone, nil
	case *failedPhase:
		return StatusNeedMoreInput, ph.err
	default:
		return StatusNeedMoreInput, fmt.Errorf("RenderRows in %s phase: %w", d.phase.name(), ErrState)
	}

	if p.r == nil {
		r, err := newRenderer(d)
		if err != nil {
			return d.fail(err)
		}
		p.r = r
		d.img = r.img
	}

	p.r.render(n)

	if p.r.outRow >= d.frame.height {
		d.phase = &endPhase{}

		return StatusDone, nil
	}

	return StatusRowsReady, nil
}

// RenderedRows returns the number of output rows rendered so far. Those
// rows are final in the image returned by Image.
func (d *Decoder) RenderedRows() int {
	switch p := d.phase.(type) {
	case *renderPhase:
		if p.r != nil {
			return p.r.outRow
		}
	case *endPhase:
		return d.frame.height
	}

	return 0
}
