package jpegli

import (
	"math"
	"testing"
)

// mustPanic fails the test if fn does not panic.
func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()

	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected a panic", name)
		}
	}()

	fn()
}

// flatPlane returns a plane filled with v.
func flatPlane(width, height int, v float32) Plane {
	p := NewPlane(width, height)
	for i := range p.Pix {
		p.Pix[i] = v
	}

	return p
}

func TestZeroBias(t *testing.T) {
	testCases := []struct {
		mul, relq, want float32
	}{
		{0.7, 1, 0.5},
		{0.7, 2, 1.2},
		{0.5, 3, 1.5},
		{1, 10, 1.5},
		{0.5, 0.5, 0.25},
		{1, 0, -0.5},
	}

	for _, tc := range testCases {
		if got := ZeroBias(tc.mul, tc.relq); math.Abs(float64(got-tc.want)) > 1e-6 {
			t.Errorf("ZeroBias(%v, %v) = %v, want %v", tc.mul, tc.relq, got, tc.want)
		}
	}
}

// TestComputeCoefficientsFlat checks the DC scale of flat blocks.
func TestComputeCoefficientsFlat(t *testing.T) {
	testCases := []struct {
		name   string
		sample float32
		xyb    bool
		dc     int16
	}{
		{"YCbCr", 0.2, false, 408},
		{"YCbCrNegative", -0.1, false, -204},
		{"XYB", 0.5, true, -4},
		{"XYBBright", 0.75, true, 506},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			comps := LayoutComponents(16, 16, [][2]int{{1, 1}})
			planes := []Plane{flatPlane(16, 16, tc.sample)}
			qf := flatPlane(2, 2, 1)
			qm := QuantMatrix(flatTables(1), comps)

			ComputeCoefficients(planes, 2, tc.xyb, qf, qm, comps)

			for b := 0; b < 4; b++ {
				block := comps[0].Block(b%2, b/2)
				if block[0] != tc.dc {
					t.Errorf("block %d: DC %d, want %d", b, block[0], tc.dc)
				}

				for k := 1; k < BlockSize; k++ {
					if block[k] != 0 {
						t.Fatalf("block %d: coefficient %d is %d", b, k, block[k])
					}
				}
			}
		})
	}
}

// TestComputeCoefficientsQuantStep checks that the quantization steps
// divide the coefficients.
func TestComputeCoefficientsQuantStep(t *testing.T) {
	comps := LayoutComponents(8, 8, [][2]int{{1, 1}})
	planes := []Plane{flatPlane(8, 8, 0.2)}
	tables := flatTables(1)
	tables[0].Values[0] = 10

	ComputeCoefficients(planes, 1, false, flatPlane(1, 1, 1), QuantMatrix(tables, comps), comps)

	if dc := comps[0].Coeffs[0]; dc != 41 {
		t.Errorf("DC %d, want 41", dc)
	}
}

// TestComputeCoefficientsZeroBias places the same small horizontal
// frequency in two blocks and checks which of them keep it.
func TestComputeCoefficientsZeroBias(t *testing.T) {
	// A cosine of amplitude a at horizontal frequency 1 transforms to
	// a/sqrt(2); scaled, the coefficient is 1.1.
	amplitude := 1.1 * math.Sqrt2 / dcScale

	testCases := []struct {
		name     string
		distance float32
		xyb      bool
		want     [2]int16
	}{
		// Block 1 has half the quality of block 0.
		{"YCbCr", 1, false, [2]int16{1, 0}},
		{"XYB", 1, true, [2]int16{1, 1}},
		{"Flat", 2, false, [2]int16{1, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			plane := NewPlane(16, 8)
			for y := 0; y < 8; y++ {
				row := plane.Row(y)
				for x := range row {
					row[x] = float32(amplitude * math.Cos(float64(2*(x%8)+1)*math.Pi/16))
					if tc.xyb {
						row[x] += 0.5
					}
				}
			}

			qf := NewPlane(2, 1)
			qf.Pix[0], qf.Pix[1] = 2, 1

			comps := LayoutComponents(16, 8, [][2]int{{1, 1}})
			ComputeCoefficients([]Plane{plane}, tc.distance, tc.xyb, qf, QuantMatrix(flatTables(1), comps), comps)

			for b, want := range tc.want {
				if got := comps[0].Block(b, 0)[1]; got != want {
					t.Errorf("block %d: coefficient %d, want %d", b, got, want)
				}
			}
		})
	}
}

// TestComputeCoefficientsXYBHighQuality quantizes four XYB blocks with
// different levels and the same small detail at distance 0.5. DC carries
// the level offset. At half the best quality the zero bias rises from 0.5
// to 1.0, so only details of at least 1.0 survive there.
func TestComputeCoefficientsXYBHighQuality(t *testing.T) {
	levels := [4]float32{0.5, 0.25, 0.75, 1}
	qf := NewPlane(2, 2)
	copy(qf.Pix, []float32{2, 1, 1, 2})

	testCases := []struct {
		name   string
		detail float64 // scaled coefficient of the lowest horizontal frequency
		want   [4]int16
	}{
		{"SmallDetail", 0.9, [4]int16{1, 0, 0, 1}},
		{"LargerDetail", 1.1, [4]int16{1, 1, 1, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amplitude := tc.detail * math.Sqrt2 / dcScale
			plane := NewPlane(16, 16)
			for y := 0; y < 16; y++ {
				row := plane.Row(y)
				for x := range row {
					b := (y/8)*2 + x/8
					row[x] = levels[b] + float32(amplitude*math.Cos(float64(2*(x%8)+1)*math.Pi/16))
				}
			}

			comps := LayoutComponents(16, 16, [][2]int{{1, 1}})
			ComputeCoefficients([]Plane{plane}, 0.5, true, qf, QuantMatrix(flatTables(1), comps), comps)

			if len(comps[0].Coeffs) != 4*BlockSize {
				t.Fatalf("got %d coefficients, want %d", len(comps[0].Coeffs), 4*BlockSize)
			}

			// round(2040*level - 1024)
			dc := [4]int16{-4, -514, 506, 1016}
			for b := 0; b < 4; b++ {
				block := comps[0].Block(b%2, b/2)
				if block[0] != dc[b] || block[1] != tc.want[b] {
					t.Errorf("block %d: DC %d detail %d, want %d and %d", b, block[0], block[1], dc[b], tc.want[b])
				}

				for k := 2; k < BlockSize; k++ {
					if block[k] != 0 {
						t.Fatalf("block %d: coefficient %d is %d", b, k, block[k])
					}
				}
			}
		})
	}
}

// TestComputeCoefficientsSubsampled checks that subsampled components are
// box-filtered before the transform.
func TestComputeCoefficientsSubsampled(t *testing.T) {
	comps := LayoutComponents(16, 16, [][2]int{{2, 2}, {1, 1}, {1, 1}})
	planes := []Plane{
		flatPlane(16, 16, -0.1),
		flatPlane(16, 16, 0.1),
		NewPlane(16, 16),
	}

	// Alternating columns average to 0.25 in chroma.
	for y := 0; y < 16; y++ {
		row := planes[2].Row(y)
		for x := range row {
			row[x] = float32(x%2) * 0.5
		}
	}

	qf := flatPlane(2, 2, 1)
	ComputeCoefficients(planes, 1, false, qf, QuantMatrix(flatTables(2), comps), comps)

	want := []int16{-204, 204, 510}
	for i, c := range comps {
		for b := 0; b < c.WidthInBlocks*c.HeightInBlocks; b++ {
			block := c.Coeffs[b*BlockSize : (b+1)*BlockSize]
			if block[0] != want[i] {
				t.Errorf("component %d block %d: DC %d, want %d", i, b, block[0], want[i])
			}

			for k := 1; k < BlockSize; k++ {
				if block[k] != 0 {
					t.Fatalf("component %d block %d: coefficient %d is %d", i, b, k, block[k])
				}
			}
		}
	}
}

func TestComputeCoefficientsPanics(t *testing.T) {
	comps := LayoutComponents(16, 16, [][2]int{{1, 1}})
	qm := QuantMatrix(flatTables(1), comps)
	qf := flatPlane(2, 2, 1)

	mustPanic(t, "NoPlanes", func() {
		ComputeCoefficients(nil, 1, false, qf, qm, comps)
	})

	mustPanic(t, "ShortQuantMatrix", func() {
		ComputeCoefficients([]Plane{NewPlane(16, 16)}, 1, false, qf, qm[:10], comps)
	})

	mustPanic(t, "SmallPlane", func() {
		ComputeCoefficients([]Plane{NewPlane(8, 16)}, 1, false, qf, qm, comps)
	})

	mustPanic(t, "SmallQualityField", func() {
		ComputeCoefficients([]Plane{NewPlane(16, 16)}, 1, false, flatPlane(1, 1, 1), qm, comps)
	})

	mustPanic(t, "AnisotropicSampling", func() {
		c := LayoutComponents(16, 16, [][2]int{{2, 1}, {1, 1}, {1, 1}})
		planes := []Plane{NewPlane(16, 16), NewPlane(16, 16), NewPlane(16, 16)}
		ComputeCoefficients(planes, 1, false, qf, QuantMatrix(flatTables(2), c), c)
	})

	mustPanic(t, "MissingTable", func() {
		QuantMatrix(nil, comps)
	})
}

func TestRoundCoeff(t *testing.T) {
	testCases := []struct {
		in   float32
		want int16
	}{
		{0.49, 0},
		{0.5, 1},
		{-0.5, -1},
		{2.5, 3},
		{-2.5, -3},
		{1e6, math.MaxInt16},
		{-1e6, math.MinInt16},
	}

	for _, tc := range testCases {
		if got := roundCoeff(tc.in); got != tc.want {
			t.Errorf("roundCoeff(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestQuantMatrix(t *testing.T) {
	comps := LayoutComponents(8, 8, [][2]int{{1, 1}, {1, 1}, {1, 1}})
	tables := QualityToQuantTables(50)
	qm := QuantMatrix(tables, comps)

	if len(qm) != 3*BlockSize {
		t.Fatalf("got %d entries, want %d", len(qm), 3*BlockSize)
	}

	if qm[0] != 1.0/16 || qm[BlockSize] != 1.0/17 || qm[2*BlockSize+63] != 1.0/99 {
		t.Errorf("unexpected reciprocals %v %v %v", qm[0], qm[BlockSize], qm[2*BlockSize+63])
	}
}

func TestPlanePad(t *testing.T) {
	p := NewPlane(3, 2)
	copy(p.Pix, []float32{1, 2, 3, 4, 5, 6})

	padded := p.Pad(5, 3)
	want := []float32{
		1, 2, 3, 3, 3,
		4, 5, 6, 6, 6,
		4, 5, 6, 6, 6,
	}

	for i, v := range want {
		if padded.Pix[i] != v {
			t.Fatalf("sample %d: got %v, want %v", i, padded.Pix[i], v)
		}
	}

	ds := padded.downsample(2)
	if ds.Width != 3 || ds.Height != 2 {
		t.Fatalf("downsampled to %dx%d", ds.Width, ds.Height)
	}

	// The last cell only averages its in-bounds samples.
	if ds.At(2, 1) != 6 || ds.At(0, 0) != 3 {
		t.Errorf("unexpected downsampled values %v", ds.Pix)
	}
}
