package jpegli

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"testing"
)

// meanAbsDiff returns the mean absolute difference of the 8-bit RGB
// channels of two images with the same bounds.
func meanAbsDiff(a, b image.Image) float64 {
	bounds := a.Bounds()
	if bounds != b.Bounds() {
		return math.Inf(1)
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r0, g0, b0, _ := a.At(x, y).RGBA()
			r1, g1, b1, _ := b.At(x, y).RGBA()
			sum += math.Abs(float64(r0>>8)-float64(r1>>8)) +
				math.Abs(float64(g0>>8)-float64(g1>>8)) +
				math.Abs(float64(b0>>8)-float64(b1>>8))
		}
	}

	return sum / float64(3*bounds.Dx()*bounds.Dy())
}

// flatTables returns quantization tables of ones, so that coefficients are
// JPEG-scale DCT values.
func flatTables(n int) []QuantTable {
	tables := make([]QuantTable, n)
	for i := range tables {
		tables[i].Index = i
		for k := range tables[i].Values {
			tables[i].Values[k] = 1
		}
	}

	return tables
}

// flatComponents lays out 8x8 components whose single block decodes to the
// constant sample value of values[i].
func flatComponents(values ...int) []Component {
	sampling := make([][2]int, len(values))
	for i := range sampling {
		sampling[i] = [2]int{1, 1}
	}

	comps := LayoutComponents(8, 8, sampling)
	for i, v := range values {
		comps[i].Coeffs[0] = int16(8 * (v - 128))
	}

	return comps
}

// TestRenderMatchesImageJPEG compares the output with image/jpeg. Chroma is
// upsampled by replication, as image/jpeg does.
func TestRenderMatchesImageJPEG(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 41, 27))
	src := testImage(41, 27)
	for y := 0; y < 27; y++ {
		for x := 0; x < 41; x++ {
			gray.Pix[y*gray.Stride+x] = src.Pix[src.PixOffset(x, y)]
		}
	}

	testCases := []struct {
		name string
		img  image.Image
	}{
		{"Gray", gray},
		{"YCbCr", testImage(41, 27)},
		{"YCbCrWhole", testImage(64, 48)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := encodeReference(t, tc.img, 90)

			want, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("jpeg.Decode failed: %v", err)
			}

			got, err := Decode(bytes.NewReader(data), &Options{UpsampleMethod: NearestNeighbor})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if diff := meanAbsDiff(got, want); diff > 2.5 {
				t.Errorf("mean difference %.3f", diff)
			}

			// Smooth upsampling stays close too.
			smooth, err := Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if diff := meanAbsDiff(smooth, want); diff > 4 {
				t.Errorf("mean difference with triangle upsampling %.3f", diff)
			}
		})
	}
}

// TestRenderRowsIncremental checks that rendering one row at a time gives
// the same image as rendering everything at once.
func TestRenderRowsIncremental(t *testing.T) {
	data := encodeReference(t, testImage(37, 29), 85)

	want, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	d := NewDecoder(nil)
	if err := d.run(data, StatusFrameComplete); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	for rows := 0; ; rows++ {
		if d.RenderedRows() != rows {
			t.Fatalf("RenderedRows: got %d, want %d", d.RenderedRows(), rows)
		}

		st, err := d.RenderRows(1)
		if err != nil {
			t.Fatalf("RenderRows failed: %v", err)
		}

		if st == StatusDone {
			if rows+1 != 29 {
				t.Fatalf("done after %d rows, want 29", rows+1)
			}

			break
		}
	}

	if diff := meanAbsDiff(d.Image(), want); diff != 0 {
		t.Errorf("mean difference %.3f", diff)
	}

	// Rendering past the end is a no-op.
	if st, err := d.RenderRows(1); err != nil || st != StatusDone {
		t.Errorf("RenderRows after the end: got %v, %v", st, err)
	}
}

// TestRenderFlat renders DC-only blocks and checks exact sample values for
// each colour transform.
func TestRenderFlat(t *testing.T) {
	adobe := func(transform byte) []byte {
		return segment(markerAPP14, 'A', 'd', 'o', 'b', 'e', 0, 100, 0, 0, 0, 0, transform)
	}

	testCases := []struct {
		name   string
		values []int
		app    []byte
		want   []uint8
	}{
		{"Gray", []int{200}, nil, []uint8{200}},
		{"GrayDark", []int{3}, nil, []uint8{3}},
		{"YCbCrNeutral", []int{90, 128, 128}, nil, []uint8{90, 90, 90, 255}},
		{"YCbCrRed", []int{76, 85, 255}, nil, []uint8{254, 0, 0, 255}},
		{"RGB", []int{10, 20, 30}, adobe(0), []uint8{10, 20, 30, 255}},
		{"CMYK", []int{10, 100, 200, 250}, nil, []uint8{10, 100, 200, 250}},
		{"AdobeCMYK", []int{10, 100, 200, 250}, adobe(0), []uint8{245, 155, 55, 5}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			comps := flatComponents(tc.values...)
			data := writeStream(t, 8, 8, comps, flatTables(min(2, len(comps))), nil)
			if tc.app != nil {
				data = insertAfterSOI(removeSegments(data, markerAPP0), tc.app)
			}

			img, err := Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			var pix []uint8
			switch m := img.(type) {
			case *image.Gray:
				pix = m.Pix
			case *image.RGBA:
				pix = m.Pix
			case *image.CMYK:
				pix = m.Pix
			default:
				t.Fatalf("unexpected image type %T", img)
			}

			for i := 0; i < len(pix); i += len(tc.want) {
				for k, v := range tc.want {
					if d := int(pix[i+k]) - int(v); d < -1 || d > 1 {
						t.Fatalf("sample %d channel %d: got %d, want %d", i/len(tc.want), k, pix[i+k], v)
					}
				}
			}
		})
	}
}

// TestRenderYCCK checks that Adobe YCCK is converted to inverted CMYK.
func TestRenderYCCK(t *testing.T) {
	comps := flatComponents(128, 128, 128, 100)
	data := writeStream(t, 8, 8, comps, flatTables(2), nil)
	data = insertAfterSOI(data, segment(markerAPP14, 'A', 'd', 'o', 'b', 'e', 0, 100, 0, 0, 0, 0, 2))

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	m, ok := img.(*image.CMYK)
	if !ok {
		t.Fatalf("got %T, want *image.CMYK", img)
	}

	// Neutral grey 128 gives C=M=Y=127; K is stored inverted.
	want := []uint8{127, 127, 127, 155}
	for k, v := range want {
		if d := int(m.Pix[k]) - int(v); d < -1 || d > 1 {
			t.Errorf("channel %d: got %d, want %d", k, m.Pix[k], v)
		}
	}
}

// TestRenderTwoComponents checks that frames without a colour
// interpretation decode to coefficients but do not render.
func TestRenderTwoComponents(t *testing.T) {
	comps := flatComponents(100, 150)
	data := writeStream(t, 8, 8, comps, flatTables(2), nil)

	if _, err := DecodeCoefficients(bytes.NewReader(data)); err != nil {
		t.Fatalf("DecodeCoefficients failed: %v", err)
	}

	if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}

	if _, err := DecodeConfig(bytes.NewReader(data)); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("DecodeConfig: got %v, want ErrUnsupported", err)
	}
}

// TestRenderBias checks that an isolated nonzero coefficient is pulled
// towards zero before statistics are gathered.
func TestRenderBias(t *testing.T) {
	comps := LayoutComponents(8, 8, [][2]int{{1, 1}})
	// One unit of the lowest horizontal frequency.
	comps[0].Coeffs[1] = 1
	tables := flatTables(1)
	tables[0].Values[1] = 64
	data := writeStream(t, 8, 8, comps, tables, nil)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// The first bias is 0.5, so the coefficient dequantizes to 32.
	amplitude := 32 * 0.5 * math.Cos(math.Pi/16) * math.Sqrt(0.125)
	left, right := uint8(128.5+amplitude), uint8(128.5-amplitude)

	row := img.(*image.Gray).Pix[:8]
	if row[0] != left || row[7] != right {
		t.Errorf("row %v, want %d at the left and %d at the right", row, left, right)
	}
}
