package jpegli

import (
	"fmt"
	"math"
	"sync"
)

// Plane is a single-channel image of float samples.
type Plane struct {
	Width, Height int
	Stride        int
	Pix           []float32
}

// NewPlane allocates a zeroed plane.
func NewPlane(width, height int) Plane {
	return Plane{
		Width:  width,
		Height: height,
		Stride: width,
		Pix:    make([]float32, width*height),
	}
}

// Row returns the samples of row y.
func (p *Plane) Row(y int) []float32 {
	return p.Pix[y*p.Stride : y*p.Stride+p.Width]
}

// At returns the sample at (x, y).
func (p *Plane) At(x, y int) float32 {
	return p.Pix[y*p.Stride+x]
}

// Pad returns a copy of p extended to width x height by replicating the
// last column and row.
func (p *Plane) Pad(width, height int) Plane {
	out := NewPlane(max(width, p.Width), max(height, p.Height))
	for y := 0; y < out.Height; y++ {
		src := p.Row(min(y, p.Height-1))
		dst := out.Row(y)
		n := copy(dst, src)
		for x := n; x < len(dst); x++ {
			dst[x] = src[len(src)-1]
		}
	}

	return out
}

// minMax returns the smallest and largest sample of p.
func (p *Plane) minMax() (lo, hi float32) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for y := 0; y < p.Height; y++ {
		for _, v := range p.Row(y) {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}

	return lo, hi
}

// downsample box-filters p by an integer factor. Output samples average the
// in-bounds input samples of their factor x factor cell.
func (p *Plane) downsample(factor int) Plane {
	out := NewPlane(divCeil(p.Width, factor), divCeil(p.Height, factor))
	for oy := 0; oy < out.Height; oy++ {
		dst := out.Row(oy)
		for ox := range dst {
			var sum float32
			n := 0
			for iy := oy * factor; iy < min((oy+1)*factor, p.Height); iy++ {
				row := p.Row(iy)
				for ix := ox * factor; ix < min((ox+1)*factor, p.Width); ix++ {
					sum += row[ix]
					n++
				}
			}
			dst[ox] = sum / float32(n)
		}
	}

	return out
}

// Channel-specific zero-bias multipliers, used for distance <= 1.
var (
	zeroBiasMulXYB   = [MaxComponents]float32{0.5, 0.5, 0.5, 0.5}
	zeroBiasMulYCbCr = [MaxComponents]float32{0.7, 1.0, 0.8, 0.5}
	zeroBiasMulFlat  = [MaxComponents]float32{0.5, 0.5, 0.5, 0.5}
)

// dcScale maps transform output (block mean of unit-range samples) to
// the JPEG coefficient scale.
const (
	dcScale   = 2040
	xybOffset = 1024
)

// ZeroBias returns the rounding threshold below which a coefficient of a
// block is quantized to zero. relq is the ratio between the best quality
// in the image and the quality at the block. The result is capped at 1.5
// but has no lower bound.
func ZeroBias(mul, relq float32) float32 {
	return min(1.5, 0.5+mul*(relq-1))
}

// ComputeCoefficients runs the forward DCT and perceptual quantization for
// every block of every component, filling comps[c].Coeffs.
//
// planes holds one full-resolution plane per component, padded to a whole
// number of MCUs. XYB planes hold unit-range samples, YCbCr planes are
// zero-centred. qf is the quality field with one sample per 8x8 block of
// the full-resolution image; larger values allow more detail. qm holds the
// reciprocal quantization steps, BlockSize entries per component in
// natural order.
//
// Malformed arguments are programming errors and cause a panic.
func ComputeCoefficients(planes []Plane, distance float32, xyb bool, qf Plane, qm []float32, comps []Component) {
	if len(planes) < len(comps) {
		panic(fmt.Sprintf("jpegli: %d planes for %d components", len(planes), len(comps)))
	}

	if len(qm) < len(comps)*BlockSize {
		panic(fmt.Sprintf("jpegli: quant matrix has %d entries, need %d", len(qm), len(comps)*BlockSize))
	}

	maxSamp := 1
	for i := range comps {
		c := &comps[i]
		if c.HSampFactor != c.VSampFactor || c.HSampFactor < 1 {
			panic(fmt.Sprintf("jpegli: component %d has sampling %dx%d", i, c.HSampFactor, c.VSampFactor))
		}
		maxSamp = max(maxSamp, c.HSampFactor)
	}

	for i := range comps {
		c := &comps[i]
		if maxSamp%c.HSampFactor != 0 {
			panic(fmt.Sprintf("jpegli: sampling factor %d does not divide %d", c.HSampFactor, maxSamp))
		}

		factor := maxSamp / c.HSampFactor
		if divCeil(planes[i].Width, factor) < c.WidthInBlocks*8 || divCeil(planes[i].Height, factor) < c.HeightInBlocks*8 {
			panic(fmt.Sprintf("jpegli: plane %d is %dx%d, too small for %dx%d blocks", i,
				planes[i].Width, planes[i].Height, c.WidthInBlocks, c.HeightInBlocks))
		}

		if qf.Width < (c.WidthInBlocks-1)*factor+1 || qf.Height < (c.HeightInBlocks-1)*factor+1 {
			panic(fmt.Sprintf("jpegli: quality field %dx%d too small for component %d", qf.Width, qf.Height, i))
		}
	}

	_, qfMax := qf.minMax()

	zeroBiasMul := zeroBiasMulFlat
	if distance <= 1 {
		if xyb {
			zeroBiasMul = zeroBiasMulXYB
		} else {
			zeroBiasMul = zeroBiasMulYCbCr
		}
	}

	var wg sync.WaitGroup
	for i := range comps {
		wg.Add(1)
		go func(ci int) {
			defer wg.Done()

			c := &comps[ci]
			factor := maxSamp / c.HSampFactor
			plane := &planes[ci]
			if factor > 1 {
				ds := plane.downsample(factor)
				plane = &ds
			}

			quantizeComponent(plane, c, factor, xyb, zeroBiasMul[ci], &qf, qfMax, qm[ci*BlockSize:(ci+1)*BlockSize])
		}(i)
	}
	wg.Wait()
}

// quantizeComponent fills the coefficients of one component.
func quantizeComponent(plane *Plane, c *Component, factor int, xyb bool, zeroBiasMul float32, qf *Plane, qfMax float32, qmc []float32) {
	need := c.WidthInBlocks * c.HeightInBlocks * BlockSize
	if len(c.Coeffs) != need {
		c.Coeffs = make([]int16, need)
	}

	var scratch [2 * BlockSize]float32
	var dct [BlockSize]float32

	for by, bix := 0, 0; by < c.HeightInBlocks; by++ {
		for bx := 0; bx < c.WidthInBlocks; bx, bix = bx+1, bix+1 {
			block := c.Coeffs[bix*BlockSize : (bix+1)*BlockSize : (bix+1)*BlockSize]
			transformFromPixels(plane.Pix[8*by*plane.Stride+8*bx:], plane.Stride, dct[:], scratch[:])

			// Create more zeros in areas that are encoded at a lower quality
			// than the best region of the image.
			relq := qfMax / qf.At(bx*factor, by*factor)
			zeroBias := ZeroBias(zeroBiasMul, relq)

			for iy, i := 0, 0; iy < 8; iy++ {
				for ix := 0; ix < 8; ix, i = ix+1, i+1 {
					coeff := dcScale * dct[ix*8+iy] * qmc[i]
					if float32(math.Abs(float64(coeff))) < zeroBias {
						block[i] = 0
					} else {
						block[i] = roundCoeff(coeff)
					}
				}
			}

			// XYB samples are not zero-centred, so the DC carries the offset.
			if xyb {
				block[0] = roundCoeff((dcScale*dct[0] - xybOffset) * qmc[0])
			} else {
				block[0] = roundCoeff(dcScale * dct[0] * qmc[0])
			}
		}
	}
}

// roundCoeff rounds half away from zero and saturates to the int16 range.
func roundCoeff(v float32) int16 {
	r := math.Round(float64(v))
	if r > math.MaxInt16 {
		return math.MaxInt16
	}

	if r < math.MinInt16 {
		return math.MinInt16
	}

	return int16(r)
}

// QuantMatrix returns the reciprocal quantization steps for comps, one row
// of BlockSize entries per component, in the layout ComputeCoefficients
// expects.
func QuantMatrix(tables []QuantTable, comps []Component) []float32 {
	qm := make([]float32, len(comps)*BlockSize)
	for ci := range comps {
		var t *QuantTable
		for i := range tables {
			if tables[i].Index == comps[ci].QuantIdx {
				t = &tables[i]

				break
			}
		}

		if t == nil {
			panic(fmt.Sprintf("jpegli: no quant table %d for component %d", comps[ci].QuantIdx, ci))
		}

		for k := 0; k < BlockSize; k++ {
			qm[ci*BlockSize+k] = 1 / float32(t.Values[k])
		}
	}

	return qm
}
