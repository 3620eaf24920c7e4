package jpegli

import "math"

// Floating point 8x8 DCT. Both directions use the same orthonormal basis;
// the forward transform is additionally scaled by 1/8 so that the DC
// coefficient equals the block mean.

// dctBasis[u*8+x] = c(u) * cos((2x+1)u*pi/16).
var dctBasis [BlockSize]float32

func init() {
	for u := 0; u < 8; u++ {
		cu := 0.5
		if u == 0 {
			cu = math.Sqrt(0.125)
		}

		for x := 0; x < 8; x++ {
			dctBasis[u*8+x] = float32(cu * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16))
		}
	}
}

// transformFromPixels computes the forward DCT of the 8x8 block starting at
// src[0] with the given row stride. The result is written transposed:
// out[u*8+v] holds horizontal frequency u and vertical frequency v.
// scratch must hold at least 2*BlockSize values.
func transformFromPixels(src []float32, stride int, out []float32, scratch []float32) {
	blk := scratch[BlockSize : 2*BlockSize : 2*BlockSize]
	tmp := scratch[:BlockSize:BlockSize]
	_ = out[BlockSize-1]

	for y := 0; y < 8; y++ {
		copy(blk[y*8:y*8+8], src[y*stride:y*stride+8])
	}

	// Rows: tmp[y*8+u].
	for y := 0; y < 8; y++ {
		row := blk[y*8 : y*8+8 : y*8+8]
		for u := 0; u < 8; u++ {
			b := dctBasis[u*8 : u*8+8 : u*8+8]
			tmp[y*8+u] = row[0]*b[0] + row[1]*b[1] + row[2]*b[2] + row[3]*b[3] +
				row[4]*b[4] + row[5]*b[5] + row[6]*b[6] + row[7]*b[7]
		}
	}

	// Columns, stored transposed.
	for u := 0; u < 8; u++ {
		for v := 0; v < 8; v++ {
			b := dctBasis[v*8 : v*8+8 : v*8+8]
			var sum float32
			for y := 0; y < 8; y++ {
				sum += b[y] * tmp[y*8+u]
			}
			out[u*8+v] = sum * 0.125
		}
	}
}

// transformToPixels computes the inverse DCT of a block of dequantized
// coefficients in natural order and writes the 8x8 result to out with the
// given row stride. scratch must hold at least BlockSize values.
func transformToPixels(coeffs *[BlockSize]float32, out []float32, stride int, scratch []float32) {
	tmp := scratch[:BlockSize:BlockSize]

	// Rows: tmp[v*8+x] = sum_u F[v][u] * basis[u][x].
	for v := 0; v < 8; v++ {
		row := coeffs[v*8 : v*8+8 : v*8+8]
		for x := 0; x < 8; x++ {
			var sum float32
			for u := 0; u < 8; u++ {
				sum += row[u] * dctBasis[u*8+x]
			}
			tmp[v*8+x] = sum
		}
	}

	for y := 0; y < 8; y++ {
		dst := out[y*stride : y*stride+8 : y*stride+8]
		for x := 0; x < 8; x++ {
			var sum float32
			for v := 0; v < 8; v++ {
				sum += dctBasis[v*8+y] * tmp[v*8+x]
			}
			dst[x] = sum
		}
	}
}
