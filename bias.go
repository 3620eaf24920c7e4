package jpegli

import "math"

// biasTable estimates, per component and frequency, how far the decoder
// should pull a nonzero coefficient towards zero before dequantizing.
//
// Coefficient magnitudes within a quantization bin are modelled with a
// Laplacian distribution whose scale is fitted from the mean absolute
// quantized value of the nonzero coefficients seen so far. The bias moves
// the reconstruction point from the bin centre to the centroid of the
// distribution inside the bin. After limit nonzero observations the bias
// of a frequency is frozen.
type biasTable struct {
	limit    int32
	nonzeros [MaxComponents][BlockSize]int32
	sumAbs   [MaxComponents][BlockSize]int32
	values   [MaxComponents][BlockSize]float32
}

func newBiasTable(limit int) *biasTable {
	t := &biasTable{limit: int32(limit)}
	for c := range t.values {
		for k := 1; k < BlockSize; k++ {
			t.values[c][k] = 0.5
		}
	}

	return t
}

// observe updates the statistics with the AC coefficients of one block.
// DC keeps a zero bias.
func (t *biasTable) observe(c int, block []int16) {
	nz := &t.nonzeros[c]
	sum := &t.sumAbs[c]
	for k := 1; k < BlockSize; k++ {
		q := block[k]
		if q == 0 || nz[k] >= t.limit {
			continue
		}

		if q < 0 {
			q = -q
		}

		nz[k]++
		sum[k] += int32(q)
		t.values[c][k] = laplacianBias(float64(sum[k]) / float64(nz[k]))
	}
}

// laplacianBias returns the distance between the bin centre and the
// centroid of a Laplacian distribution restricted to the bin, for a
// distribution whose nonzero quantized magnitudes have mean meanAbs. The
// result is in units of the quantization step, in [0, 0.5].
func laplacianBias(meanAbs float64) float32 {
	if meanAbs <= 1 {
		return 0.5
	}

	// P(|q| = n) ~ r^n for n >= 1 has mean 1/(1-r).
	r := 1 - 1/meanAbs
	b := -1 / math.Log(r)
	// Centroid of exp(-t/b) on [0, 1] is b - r/(1-r).
	bias := 0.5 - b + r/(1-r)

	return float32(min(0.5, max(0, bias)))
}
