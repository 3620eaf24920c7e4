package cli

import (
	"fmt"
	"image"
	"math"

	"github.com/gen2brain/jpegli"
)

// samplingModes maps the --subsample values to per-component factors.
var samplingModes = map[string][][2]int{
	"444":  {{1, 1}, {1, 1}, {1, 1}},
	"420":  {{2, 2}, {1, 1}, {1, 1}},
	"gray": {{1, 1}},
}

// toPlanes converts img to zero-centred unit-range planes: luma only for
// gray, JFIF YCbCr otherwise.
func toPlanes(img image.Image, gray bool) []jpegli.Plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	n := 3
	if gray {
		n = 1
	}

	planes := make([]jpegli.Plane, n)
	for i := range planes {
		planes[i] = jpegli.NewPlane(w, h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r16, g16, b16, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r, g, bl := float32(r16>>8), float32(g16>>8), float32(b16>>8)

			i := y*w + x
			planes[0].Pix[i] = (0.299*r+0.587*g+0.114*bl)/255 - 128.0/255
			if gray {
				continue
			}
			planes[1].Pix[i] = (-0.168736*r - 0.331264*g + 0.5*bl) / 255
			planes[2].Pix[i] = (0.5*r - 0.418688*g - 0.081312*bl) / 255
		}
	}

	return planes
}

// padPlanes extends every plane to the padded full-resolution size of comps.
func padPlanes(planes []jpegli.Plane, comps []jpegli.Component) ([]jpegli.Plane, error) {
	if len(planes) != len(comps) {
		return nil, fmt.Errorf("%d planes for %d components", len(planes), len(comps))
	}

	c := &comps[0]
	maxH := 1
	for i := range comps {
		maxH = max(maxH, comps[i].HSampFactor)
	}
	scale := maxH / c.HSampFactor
	width, height := c.WidthInBlocks*8*scale, c.HeightInBlocks*8*scale

	out := make([]jpegli.Plane, len(planes))
	for i := range planes {
		out[i] = planes[i].Pad(width, height)
	}

	return out, nil
}

// qualityField returns one sample per 8x8 block of the padded luma plane.
// With adaptive set, busy blocks get lower values so that their
// coefficients are quantized to zero more eagerly.
func qualityField(luma *jpegli.Plane, adaptive bool) jpegli.Plane {
	qf := jpegli.NewPlane(luma.Width/8, luma.Height/8)
	for by := 0; by < qf.Height; by++ {
		row := qf.Row(by)
		for bx := range row {
			if !adaptive {
				row[bx] = 1

				continue
			}

			var sum, sq float64
			for y := 0; y < 8; y++ {
				for _, v := range luma.Row(by*8 + y)[bx*8 : bx*8+8] {
					sum += float64(v)
					sq += float64(v) * float64(v)
				}
			}

			mean := sum / 64
			stddev := math.Sqrt(max(0, sq/64-mean*mean))
			row[bx] = float32(1 / (1 + 8*stddev))
		}
	}

	return qf
}
