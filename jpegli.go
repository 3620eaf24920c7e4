package jpegli

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
)

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	// Pre-allocate buffer if the reader knows its remaining length.
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			_, err := io.ReadFull(r, data)
			if err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	// Fallback for readers that don't implement Len() (e.g., network streams, os.File) or were empty.
	return io.ReadAll(r)
}

// run drives a session over a complete stream until it reports until, or
// StatusDone.
func (d *Decoder) run(data []byte, until Status) error {
	if _, err := d.FeedMarkerData(data); err != nil {
		return err
	}

	st, err := d.Finish()
	for err == nil {
		switch st {
		case until, StatusDone:
			return nil
		case StatusScanReady, StatusScanInProgress:
			st, err = d.DecodeScan()
		case StatusScanComplete:
			st, err = d.advance()
		case StatusFrameComplete, StatusRowsReady:
			st, err = d.RenderRows(math.MaxInt)
		default:
			return fmt.Errorf("session stalled at %s: %w", st, ErrInternal)
		}
	}

	return err
}

// Decode reads a JPEG image from r and returns it as an [image.Image]:
// *image.Gray, *image.RGBA or *image.CMYK depending on the components.
// It accepts an optional Options struct to control decoding parameters.
func Decode(r io.Reader, opts ...*Options) (image.Image, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	// Get a decoder from the pool.
	d := decoderPool.Get().(*Decoder)
	// Ensure the decoder is reset and returned to the pool when finished.
	defer func() {
		d.Reset(nil)
		decoderPool.Put(d)
	}()

	var o *Options
	if len(opts) > 0 {
		o = opts[0]
	}
	d.Reset(o)

	if err := d.run(data, StatusDone); err != nil {
		return nil, err
	}

	return d.Image(), nil
}

// Coefficients is the coefficient-domain content of a JPEG stream.
type Coefficients struct {
	Width, Height   int
	Progressive     bool
	RestartInterval int
	Components      []Component
	QuantTables     []QuantTable
	ICCProfile      []byte
	Orientation     int
}

// DecodeCoefficients reads a JPEG stream from r and returns its quantized
// coefficients without rendering.
func DecodeCoefficients(r io.Reader, opts ...*Options) (*Coefficients, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	d := decoderPool.Get().(*Decoder)
	defer func() {
		d.Reset(nil)
		decoderPool.Put(d)
	}()

	var o *Options
	if len(opts) > 0 {
		o = opts[0]
	}
	d.Reset(o)

	if err := d.run(data, StatusFrameComplete); err != nil {
		return nil, err
	}

	return &Coefficients{
		Width:           d.Width(),
		Height:          d.Height(),
		Progressive:     d.Progressive(),
		RestartInterval: d.RestartInterval(),
		Components:      d.Components(),
		QuantTables:     d.QuantTables(),
		ICCProfile:      d.ICCProfile(),
		Orientation:     d.Orientation(),
	}, nil
}

// configChunk is the read size used by DecodeConfig.
const configChunk = 4096

// DecodeConfig returns the color model and dimensions of a JPEG image without decoding the entire image data.
// The dimensions returned are as stored in the file (SOF marker), ignoring any EXIF orientation tags.
func DecodeConfig(r io.Reader) (image.Config, error) {
	d := decoderPool.Get().(*Decoder)
	defer func() {
		d.Reset(nil)
		decoderPool.Put(d)
	}()
	d.Reset(nil)

	buf := make([]byte, configChunk)
	for d.frame == nil {
		n, err := r.Read(buf)
		if n > 0 {
			st, ferr := d.FeedMarkerData(buf[:n])
			if ferr != nil {
				return image.Config{}, ferr
			}

			if st != StatusNeedMoreInput {
				break
			}
		}

		if errors.Is(err, io.EOF) {
			if _, ferr := d.Finish(); ferr != nil {
				return image.Config{}, ferr
			}

			break
		}

		if err != nil {
			return image.Config{}, err
		}
	}

	if d.frame == nil {
		return image.Config{}, fmt.Errorf("no frame header: %w", ErrSyntax)
	}

	var cm color.Model
	switch d.transform {
	case transformGray:
		cm = color.GrayModel
	case transformYCbCr, transformRGB:
		cm = color.RGBAModel
	case transformCMYK, transformYCCK:
		cm = color.CMYKModel
	default:
		return image.Config{}, ErrUnsupported
	}

	return image.Config{
		ColorModel: cm,
		Width:      d.frame.width,
		Height:     d.frame.height,
	}, nil
}

// Annex K.1 quantization tables in natural order.
var standardQuant = [2][BlockSize]int32{
	{
		16, 11, 10, 16, 24, 40, 51, 61,
		12, 12, 14, 19, 26, 58, 60, 55,
		14, 13, 16, 24, 40, 57, 69, 56,
		14, 17, 22, 29, 51, 87, 80, 62,
		18, 22, 37, 56, 68, 109, 103, 77,
		24, 35, 55, 64, 81, 104, 113, 92,
		49, 64, 78, 87, 103, 121, 120, 101,
		72, 92, 95, 98, 112, 100, 103, 99,
	},
	{
		17, 18, 24, 47, 99, 99, 99, 99,
		18, 21, 26, 66, 99, 99, 99, 99,
		24, 26, 56, 99, 99, 99, 99, 99,
		47, 66, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
	},
}

// QualityToQuantTables returns the luminance (index 0) and chrominance
// (index 1) tables for a quality in [1, 100], scaling the Annex K tables.
func QualityToQuantTables(quality int) []QuantTable {
	quality = max(1, min(100, quality))

	// Convert from a quality rating to a scaling factor.
	var scale int32
	if quality < 50 {
		scale = int32(5000 / quality)
	} else {
		scale = int32(200 - quality*2)
	}

	tables := make([]QuantTable, 2)
	for i := range tables {
		tables[i].Index = i
		for k, x := range standardQuant[i] {
			tables[i].Values[k] = max(1, min(255, (x*scale+50)/100))
		}
	}

	return tables
}

// DistanceToQuality maps a Butteraugli distance target to the quality
// scale of QualityToQuantTables. Distance 1.0 is visually lossless.
func DistanceToQuality(distance float32) int {
	d := float64(distance)
	var q float64
	switch {
	case d <= 0.1:
		return 100
	case d <= 6.4:
		// Linear for quality >= 30: distance = 0.1 + (100-quality)*0.09.
		q = 100 - (d-0.1)/0.09
	default:
		// Quadratic below: distance = 53/3000*q^2 - 23/20*q + 25.
		a, b, c := 53.0/3000, -23.0/20, 25-d
		disc := b*b - 4*a*c
		if disc < 0 {
			return 1
		}
		q = (-b - math.Sqrt(disc)) / (2 * a)
	}

	return max(1, min(100, int(math.Round(q))))
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", func(r io.Reader) (image.Image, error) { return Decode(r) }, DecodeConfig)
}
