package cli

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	"github.com/spf13/cobra"
)

var decodeFlags struct {
	upsample         string
	biasObservations int
	noOrient         bool
	chunk            int
}

var decodeCmd = &cobra.Command{
	Use:   "decode <input.jpg> <output>",
	Short: "Decode a JPEG image; the output format follows the file extension",
	Args:  cobra.ExactArgs(2),
	RunE:  runDecode,
}

func init() {
	f := decodeCmd.Flags()
	f.StringVar(&decodeFlags.upsample, "upsample", "triangle", "chroma upsampling: triangle or nearest")
	f.IntVar(&decodeFlags.biasObservations, "bias-observations", jpegli.DefaultBiasObservations, "nonzero coefficients observed before the dequantization bias is frozen")
	f.BoolVar(&decodeFlags.noOrient, "no-orient", false, "ignore the EXIF orientation")
	f.IntVar(&decodeFlags.chunk, "chunk", 64<<10, "input read size")
	rootCmd.AddCommand(decodeCmd)
}

func parseUpsample(s string) (jpegli.UpsampleMethod, error) {
	switch s {
	case "triangle":
		return jpegli.Triangle, nil
	case "nearest":
		return jpegli.NearestNeighbor, nil
	}

	return 0, fmt.Errorf("unknown upsampling method %q", s)
}

func runDecode(_ *cobra.Command, args []string) error {
	method, err := parseUpsample(decodeFlags.upsample)
	if err != nil {
		return err
	}

	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer in.Close()

	d := jpegli.NewDecoder(&jpegli.Options{
		Logger:           logger,
		UpsampleMethod:   method,
		BiasObservations: decodeFlags.biasObservations,
	})

	img, err := decodeStream(d, in, max(1, decodeFlags.chunk))
	if err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	logVerbose("decoded %dx%d, %d scans, orientation %d", d.Width(), d.Height(), d.NumScans(), d.Orientation())

	if !decodeFlags.noOrient {
		img = orient(img, d.Orientation())
	}

	if err := imaging.Save(img, args[1]); err != nil {
		return fmt.Errorf("save %s: %w", args[1], err)
	}

	return nil
}

// decodeStream feeds r to d in chunks and drives the session until every
// row is rendered.
func decodeStream(d *jpegli.Decoder, r io.Reader, chunk int) (image.Image, error) {
	buf := make([]byte, chunk)
	eof := false

	st, err := jpegli.StatusNeedMoreInput, error(nil)
	for {
		switch st {
		case jpegli.StatusNeedMoreInput:
			if eof {
				return nil, fmt.Errorf("stream ended early: %w", jpegli.ErrSyntax)
			}

			n, rerr := r.Read(buf)
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				return nil, rerr
			}

			st, err = d.FeedMarkerData(buf[:n])
			if err == nil && errors.Is(rerr, io.EOF) {
				eof = true
				st, err = d.Finish()
			}
		case jpegli.StatusScanReady, jpegli.StatusScanInProgress:
			st, err = d.DecodeScan()
		case jpegli.StatusScanComplete:
			st, err = d.FeedMarkerData(nil)
		case jpegli.StatusFrameComplete, jpegli.StatusRowsReady:
			st, err = d.RenderRows(math.MaxInt)
		case jpegli.StatusDone:
			return d.Image(), nil
		}

		if err != nil {
			return nil, err
		}
	}
}

// orient applies an EXIF orientation (1-8) to img.
func orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}

	return img
}
