package jpegli

import (
	"bytes"
	"errors"
	"image/jpeg"
	"math"
	"math/rand"
	"testing"
)

func TestWriteRoundTrip(t *testing.T) {
	layouts := []struct {
		name          string
		width, height int
		sampling      [][2]int
	}{
		{"Gray", 37, 21, [][2]int{{1, 1}}},
		{"YCbCr444", 29, 19, [][2]int{{1, 1}, {1, 1}, {1, 1}}},
		{"YCbCr420", 48, 32, [][2]int{{2, 2}, {1, 1}, {1, 1}}},
		{"YCbCr422", 32, 24, [][2]int{{2, 1}, {1, 1}, {1, 1}}},
		{"CMYK", 17, 9, [][2]int{{1, 1}, {1, 1}, {1, 1}, {1, 1}}},
	}

	modes := []struct {
		name string
		opts *WriteOptions
	}{
		{"Baseline", nil},
		{"Restart", &WriteOptions{RestartInterval: 3}},
		{"Progressive", &WriteOptions{Progressive: true}},
		{"ProgressiveRestart", &WriteOptions{Progressive: true, RestartInterval: 2}},
	}

	for _, l := range layouts {
		for _, m := range modes {
			t.Run(l.name+"/"+m.name, func(t *testing.T) {
				rng := rand.New(rand.NewSource(int64(len(l.name) * 31)))
				comps := randomComponents(rng, l.width, l.height, l.sampling)
				tables := QualityToQuantTables(75)
				if len(comps) == 1 {
					tables = tables[:1]
				}

				data := writeStream(t, l.width, l.height, comps, tables, m.opts)

				c, err := DecodeCoefficients(bytes.NewReader(data))
				if err != nil {
					t.Fatalf("DecodeCoefficients failed: %v", err)
				}

				if c.Width != l.width || c.Height != l.height {
					t.Errorf("got %dx%d, want %dx%d", c.Width, c.Height, l.width, l.height)
				}

				progressive := m.opts != nil && m.opts.Progressive
				if c.Progressive != progressive {
					t.Errorf("Progressive: got %t, want %t", c.Progressive, progressive)
				}

				if m.opts != nil && c.RestartInterval != m.opts.RestartInterval {
					t.Errorf("RestartInterval: got %d, want %d", c.RestartInterval, m.opts.RestartInterval)
				}

				if len(c.QuantTables) != len(tables) || c.QuantTables[0].Values != tables[0].Values {
					t.Errorf("quantization tables differ")
				}

				compareComponents(t, c.Components, comps)
			})
		}
	}
}

// TestWriteReadableByImageJPEG checks that image/jpeg accepts the output of
// every mode and decodes it like we do.
func TestWriteReadableByImageJPEG(t *testing.T) {
	// Whole MCUs, so progressive rewrites code every block.
	img := testImage(48, 32)
	ref, err := Decode(bytes.NewReader(encodeReference(t, img, 90)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	c, err := DecodeCoefficients(bytes.NewReader(encodeReference(t, img, 90)))
	if err != nil {
		t.Fatalf("DecodeCoefficients failed: %v", err)
	}

	for _, opts := range []*WriteOptions{
		nil,
		{RestartInterval: 1},
		{Progressive: true},
		{Progressive: true, RestartInterval: 4},
	} {
		data := writeStream(t, c.Width, c.Height, c.Components, c.QuantTables, opts)

		std, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("image/jpeg rejected %+v: %v", opts, err)
		}

		ours, err := Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Decode failed for %+v: %v", opts, err)
		}

		// The coefficients are unchanged, so the pixels must be too.
		if diff := meanAbsDiff(ours, ref); diff != 0 {
			t.Errorf("%+v: rewritten stream decodes differently (mean diff %.3f)", opts, diff)
		}

		if std.Bounds() != ours.Bounds() {
			t.Errorf("%+v: bounds %v and %v", opts, std.Bounds(), ours.Bounds())
		}
	}
}

func TestWriteICCProfile(t *testing.T) {
	for _, size := range []int{1, iccChunkSize, iccChunkSize + 1} {
		icc := bytes.Repeat([]byte{0xA5}, size)
		data, _ := grayStream(t, 8, 8, &WriteOptions{ICCProfile: icc})

		c, err := DecodeCoefficients(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}

		if !bytes.Equal(c.ICCProfile, icc) {
			t.Errorf("size %d: got %d bytes back", size, len(c.ICCProfile))
		}
	}
}

func TestWriteErrors(t *testing.T) {
	comps := LayoutComponents(16, 16, [][2]int{{1, 1}})
	tables := QualityToQuantTables(50)

	large := LayoutComponents(16, 16, [][2]int{{1, 1}})
	large[0].Coeffs[1] = 2000

	testCases := []struct {
		name   string
		width  int
		comps  []Component
		tables []QuantTable
		opts   *WriteOptions
		want   error
	}{
		{"ZeroWidth", 0, comps, tables, nil, nil},
		{"NoComponents", 16, nil, tables, nil, ErrUnsupported},
		{"MissingTable", 16, comps, nil, nil, nil},
		{"TooFewBlocks", 32, comps, tables, nil, nil},
		{"CoefficientTooLarge", 16, large, tables, nil, ErrUnsupported},
		{"EmptyScript", 16, comps, tables, &WriteOptions{Progressive: true, ScanScript: ScanScript{}}, nil},
		{"BadScanComponent", 16, comps, tables, &WriteOptions{Progressive: true, ScanScript: ScanScript{{Component: 3}}}, nil},
		{"MixedBand", 16, comps, tables, &WriteOptions{Progressive: true, ScanScript: ScanScript{{Component: 0, SpectralEnd: 5}}}, nil},
		{"BadRefinement", 16, comps, tables, &WriteOptions{Progressive: true, ScanScript: ScanScript{{Component: -1, SuccessiveApproxHigh: 3}}}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteCoefficients(&buf, tc.width, 16, tc.comps, tc.tables, tc.opts)
			if err == nil {
				t.Fatal("expected an error")
			}

			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDefaultScanScript(t *testing.T) {
	for n := 1; n <= MaxComponents; n++ {
		script := DefaultScanScript(n)
		if err := validateScanScript(script, n); err != nil {
			t.Fatalf("%d components: %v", n, err)
		}

		if len(script) != 2+3*n {
			t.Errorf("%d components: got %d scans, want %d", n, len(script), 2+3*n)
		}

		// Every coefficient of every component ends fully coded.
		var low [MaxComponents][BlockSize]int
		for c := range low {
			for k := range low[c] {
				low[c][k] = -1
			}
		}

		for _, s := range script {
			for c := 0; c < n; c++ {
				if s.Component != -1 && s.Component != c {
					continue
				}

				for k := s.SpectralStart; k <= s.SpectralEnd; k++ {
					low[c][k] = s.SuccessiveApproxLow
				}
			}
		}

		for c := 0; c < n; c++ {
			for k, al := range low[c] {
				if al != 0 {
					t.Fatalf("%d components: coefficient %d of component %d ends at Al=%d", n, k, c, al)
				}
			}
		}
	}
}

func TestLayoutComponents(t *testing.T) {
	testCases := []struct {
		name     string
		w, h     int
		sampling [][2]int
		want     [][2]int
	}{
		{"Gray", 17, 9, [][2]int{{2, 2}}, [][2]int{{3, 2}}},
		{"YCbCr444", 17, 9, [][2]int{{1, 1}, {1, 1}, {1, 1}}, [][2]int{{3, 2}, {3, 2}, {3, 2}}},
		{"YCbCr420", 17, 9, [][2]int{{2, 2}, {1, 1}, {1, 1}}, [][2]int{{4, 2}, {2, 1}, {2, 1}}},
		{"YCbCr422", 33, 8, [][2]int{{2, 1}, {1, 1}, {1, 1}}, [][2]int{{6, 1}, {3, 1}, {3, 1}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			comps := LayoutComponents(tc.w, tc.h, tc.sampling)
			for i, c := range comps {
				if c.WidthInBlocks != tc.want[i][0] || c.HeightInBlocks != tc.want[i][1] {
					t.Errorf("component %d: got %dx%d blocks, want %dx%d", i, c.WidthInBlocks, c.HeightInBlocks, tc.want[i][0], tc.want[i][1])
				}

				if c.ID != i+1 || c.QuantIdx != min(i, 1) {
					t.Errorf("component %d: id %d quant %d", i, c.ID, c.QuantIdx)
				}
			}
		})
	}
}

// TestWriteComputedCoefficients quantizes planes, writes them and checks
// that decoding returns the same coefficients for every block inside the
// image.
func TestWriteComputedCoefficients(t *testing.T) {
	const width, height = 40, 24

	sampling := [][2]int{{2, 2}, {1, 1}, {1, 1}}
	comps := LayoutComponents(width, height, sampling)

	planes := make([]Plane, len(comps))
	for i := range planes {
		planes[i] = NewPlane(48, 32)
		for y := 0; y < 32; y++ {
			row := planes[i].Row(y)
			for x := range row {
				v := 0.3 * math.Sin(float64(x*(i+1))/5) * math.Cos(float64(y)/4)
				if x > 20 && y > 10 {
					v += 0.15
				}
				row[x] = float32(v)
			}
		}
	}

	qf := NewPlane(6, 4)
	for i := range qf.Pix {
		qf.Pix[i] = 1 + float32(i%3)/2
	}

	tables := QualityToQuantTables(90)
	ComputeCoefficients(planes, 1, false, qf, QuantMatrix(tables, comps), comps)

	modes := []struct {
		name string
		opts *WriteOptions
	}{
		{"Baseline", nil},
		{"Progressive", &WriteOptions{Progressive: true}},
	}

	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			data := writeStream(t, width, height, comps, tables, mode.opts)

			c, err := DecodeCoefficients(bytes.NewReader(data), quietOptions)
			if err != nil {
				t.Fatalf("DecodeCoefficients failed: %v", err)
			}

			for i := range comps {
				want, got := &comps[i], &c.Components[i]
				cols := divCeil(divCeil(width*want.HSampFactor, 2), 8)
				rows := divCeil(divCeil(height*want.VSampFactor, 2), 8)
				for by := 0; by < rows; by++ {
					for bx := 0; bx < cols; bx++ {
						if !equalBlocks(got.Block(bx, by), want.Block(bx, by)) {
							t.Fatalf("component %d block (%d, %d) differs", i, bx, by)
						}
					}
				}
			}
		})
	}
}
