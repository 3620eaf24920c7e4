package jpegli

import "math"

// tap selects the two source samples an upsampled sample interpolates
// between, and the weight of the second one.
type tap struct {
	i0, i1 int
	w      float32
}

// upsampleTaps returns the taps for n output samples from a source of
// srcLen valid samples upsampled by scale.
func upsampleTaps(n, srcLen, scale int, method UpsampleMethod) []tap {
	taps := make([]tap, n)
	last := srcLen - 1

	for i := range taps {
		switch {
		case scale == 1:
			j := min(i, last)
			taps[i] = tap{i0: j, i1: j}
		case method == NearestNeighbor:
			j := min(i/scale, last)
			taps[i] = tap{i0: j, i1: j}
		default:
			// Sample centres of the source grid sit at (j+0.5)*scale.
			pos := (float64(i)+0.5)/float64(scale) - 0.5
			fl := math.Floor(pos)
			j := int(fl)
			taps[i] = tap{
				i0: max(0, min(j, last)),
				i1: max(0, min(j+1, last)),
				w:  float32(pos - fl),
			}
		}
	}

	return taps
}

// upsampleRow applies horizontal taps to src, writing len(taps) samples.
func upsampleRow(dst, src []float32, taps []tap) {
	for x, t := range taps {
		a := src[t.i0]
		dst[x] = a + (src[t.i1]-a)*t.w
	}
}

// blendRows writes the vertical interpolation of rows a and b with weight w.
func blendRows(dst, a, b []float32, w float32) {
	if w == 0 {
		copy(dst, a)

		return
	}

	for x := range dst {
		dst[x] = a[x] + (b[x]-a[x])*w
	}
}
