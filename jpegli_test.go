package jpegli

import (
	"bytes"
	"io"
	"log/slog"
	"math/rand"
	"testing"
)

// addFuzzCorpus seeds the corpus with streams covering every scan mode.
func addFuzzCorpus(f *testing.F) {
	f.Helper()

	rng := rand.New(rand.NewSource(9))
	layouts := [][][2]int{
		{{1, 1}},
		{{2, 2}, {1, 1}, {1, 1}},
		{{1, 1}, {1, 1}, {1, 1}, {1, 1}},
	}

	for _, sampling := range layouts {
		comps := randomComponents(rng, 16, 16, sampling)
		tables := QualityToQuantTables(80)
		for _, opts := range []*WriteOptions{nil, {RestartInterval: 1}, {Progressive: true}} {
			f.Add(writeStream(f, 16, 16, comps, tables, opts))
		}
	}

	f.Add(encodeReference(f, testImage(19, 13), 75))
}

// FuzzDecode tests the Decode function for panics with a variety of inputs.
func FuzzDecode(f *testing.F) {
	addFuzzCorpus(f)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	optsNN := &Options{Logger: quiet, UpsampleMethod: NearestNeighbor}
	optsTri := &Options{Logger: quiet, UpsampleMethod: Triangle, BiasObservations: 1}

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Decode(bytes.NewReader(data), optsNN)
		_, _ = Decode(bytes.NewReader(data), optsTri)
	})
}

// FuzzDecodeConfig tests the DecodeConfig function for panics.
func FuzzDecodeConfig(f *testing.F) {
	addFuzzCorpus(f)

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeConfig(bytes.NewReader(data))
	})
}

// FuzzCoefficientsRoundTrip checks that decoded coefficients survive
// being written and decoded again.
func FuzzCoefficientsRoundTrip(f *testing.F) {
	addFuzzCorpus(f)

	quiet := &Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	f.Fuzz(func(t *testing.T, data []byte) {
		c, err := DecodeCoefficients(bytes.NewReader(data), quiet)
		if err != nil || c.Width > 256 || c.Height > 256 {
			return
		}

		var buf bytes.Buffer
		if err := WriteCoefficients(&buf, c.Width, c.Height, c.Components, c.QuantTables, nil); err != nil {
			// Corrupt input can hold coefficients baseline cannot code.
			return
		}

		again, err := DecodeCoefficients(&buf, quiet)
		if err != nil {
			t.Fatalf("rewritten stream does not decode: %v", err)
		}

		compareComponents(t, again.Components, c.Components)
	})
}

func TestQualityToQuantTables(t *testing.T) {
	testCases := []struct {
		quality    int
		luma, last int32
	}{
		{50, 16, 99},
		{100, 1, 1},
		{90, 3, 20},
		{10, 80, 255},
		{1, 255, 255},
		{-5, 255, 255},
		{200, 1, 1},
	}

	for _, tc := range testCases {
		tables := QualityToQuantTables(tc.quality)
		if len(tables) != 2 || tables[0].Index != 0 || tables[1].Index != 1 {
			t.Fatalf("quality %d: unexpected tables", tc.quality)
		}

		if tables[0].Values[0] != tc.luma || tables[1].Values[63] != tc.last {
			t.Errorf("quality %d: got %d and %d, want %d and %d",
				tc.quality, tables[0].Values[0], tables[1].Values[63], tc.luma, tc.last)
		}
	}
}

func TestDistanceToQuality(t *testing.T) {
	testCases := []struct {
		distance float32
		want     int
	}{
		{0, 100},
		{0.1, 100},
		{1, 90},
		{6.4, 30},
		{10, 18},
		{25, 1},
		{100, 1},
	}

	for _, tc := range testCases {
		if got := DistanceToQuality(tc.distance); got != tc.want {
			t.Errorf("DistanceToQuality(%v) = %d, want %d", tc.distance, got, tc.want)
		}
	}

	prev := 101
	for d := float32(0); d < 30; d += 0.25 {
		q := DistanceToQuality(d)
		if q > prev {
			t.Fatalf("quality rises from %d to %d at distance %v", prev, q, d)
		}
		prev = q
	}
}

// TestDecodeReader checks that readers without a known length work.
func TestDecodeReader(t *testing.T) {
	data := encodeReference(t, testImage(16, 16), 80)

	img, err := Decode(io.MultiReader(bytes.NewReader(data[:100]), bytes.NewReader(data[100:])))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Bounds().Dx() != 16 {
		t.Errorf("bounds %v", img.Bounds())
	}
}
