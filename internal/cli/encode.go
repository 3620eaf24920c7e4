package cli

import (
	"bufio"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	"github.com/spf13/cobra"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var encodeFlags struct {
	distance    float32
	subsample   string
	adaptive    bool
	progressive bool
	restart     int
	icc         string
}

var encodeCmd = &cobra.Command{
	Use:   "encode <input> <output.jpg>",
	Short: "Encode an image (PNG, JPEG, GIF, BMP, TIFF, WebP) as JPEG",
	Args:  cobra.ExactArgs(2),
	RunE:  runEncode,
}

func init() {
	f := encodeCmd.Flags()
	f.Float32VarP(&encodeFlags.distance, "distance", "d", 1.0, "target distance, 1.0 is visually lossless")
	f.StringVar(&encodeFlags.subsample, "subsample", "444", "chroma subsampling: 444, 420 or gray")
	f.BoolVar(&encodeFlags.adaptive, "adaptive", false, "quantize busy blocks more coarsely")
	f.BoolVarP(&encodeFlags.progressive, "progressive", "p", false, "write a progressive JPEG")
	f.IntVar(&encodeFlags.restart, "restart", 0, "restart interval in MCUs (0 disables)")
	f.StringVar(&encodeFlags.icc, "icc", "", "ICC profile file to embed")
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(_ *cobra.Command, args []string) error {
	sampling, ok := samplingModes[encodeFlags.subsample]
	if !ok {
		return fmt.Errorf("unknown subsampling %q", encodeFlags.subsample)
	}

	img, err := imaging.Open(args[0], imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}

	opts := &jpegli.WriteOptions{
		Progressive:     encodeFlags.progressive,
		RestartInterval: encodeFlags.restart,
	}

	if encodeFlags.icc != "" {
		opts.ICCProfile, err = os.ReadFile(encodeFlags.icc)
		if err != nil {
			return fmt.Errorf("read ICC profile: %w", err)
		}
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("create %s: %w", args[1], err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	if err := encodeImage(w, img, sampling, encodeFlags.distance, encodeFlags.adaptive, opts); err != nil {
		return fmt.Errorf("encode %s: %w", args[0], err)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	return out.Close()
}

// encodeImage quantizes img at the given distance and writes it as JPEG.
func encodeImage(w *bufio.Writer, img image.Image, sampling [][2]int, distance float32, adaptive bool, opts *jpegli.WriteOptions) error {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || b.Dx() > 65535 || b.Dy() > 65535 {
		return fmt.Errorf("image size %dx%d: %w", b.Dx(), b.Dy(), jpegli.ErrUnsupported)
	}

	quality := jpegli.DistanceToQuality(distance)
	tables := jpegli.QualityToQuantTables(quality)
	if len(sampling) == 1 {
		tables = tables[:1]
	}

	comps := jpegli.LayoutComponents(b.Dx(), b.Dy(), sampling)
	planes, err := padPlanes(toPlanes(img, len(sampling) == 1), comps)
	if err != nil {
		return err
	}

	qf := qualityField(&planes[0], adaptive)

	logVerbose("encode %dx%d, distance %.2f (quality %d), %d components", b.Dx(), b.Dy(), distance, quality, len(comps))

	jpegli.ComputeCoefficients(planes, distance, false, qf, jpegli.QuantMatrix(tables, comps), comps)

	return jpegli.WriteCoefficients(w, b.Dx(), b.Dy(), comps, tables, opts)
}
