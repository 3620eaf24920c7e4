package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gen2brain/jpegli"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <input.jpg>",
	Short: "Display the frame header and metadata of a JPEG image",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	d := jpegli.NewDecoder(&jpegli.Options{Logger: logger})
	if err := readHeaders(d, f); err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	fmt.Println()
	fmt.Printf("  Size:             %dx%d\n", d.Width(), d.Height())
	fmt.Printf("  Progressive:      %t\n", d.Progressive())
	fmt.Printf("  Restart interval: %d\n", d.RestartInterval())
	fmt.Printf("  Quant tables:     %d\n", len(d.QuantTables()))
	fmt.Printf("  ICC profile:      %d bytes\n", len(d.ICCProfile()))
	fmt.Printf("  Orientation:      %d\n", d.Orientation())
	fmt.Println("  Components:")
	for _, c := range d.Components() {
		fmt.Printf("    id %3d  sampling %dx%d  quant %d  %dx%d blocks\n",
			c.ID, c.HSampFactor, c.VSampFactor, c.QuantIdx, c.WidthInBlocks, c.HeightInBlocks)
	}
	fmt.Println()

	return nil
}

// readHeaders feeds r to d until the first scan header was parsed.
func readHeaders(d *jpegli.Decoder, r io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, rerr := r.Read(buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return rerr
		}

		st, err := d.FeedMarkerData(buf[:n])
		if err != nil {
			return err
		}

		if st != jpegli.StatusNeedMoreInput {
			return nil
		}

		if errors.Is(rerr, io.EOF) {
			_, err := d.Finish()
			if err == nil && d.Width() == 0 {
				err = fmt.Errorf("no frame header: %w", jpegli.ErrSyntax)
			}

			return err
		}
	}
}
