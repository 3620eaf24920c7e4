package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/gen2brain/jpegli"
	"github.com/spf13/cobra"
)

var transcodeFlags struct {
	fromDump    bool
	progressive bool
	restart     int
	keepICC     bool
}

var transcodeCmd = &cobra.Command{
	Use:   "transcode <input> <output.jpg>",
	Short: "Rewrite the coefficients of a JPEG (or a coefficient dump) without loss",
	Args:  cobra.ExactArgs(2),
	RunE:  runTranscode,
}

func init() {
	f := transcodeCmd.Flags()
	f.BoolVar(&transcodeFlags.fromDump, "from-dump", false, "input is a coefficient dump written by coeffs --dump")
	f.BoolVarP(&transcodeFlags.progressive, "progressive", "p", false, "write a progressive JPEG")
	f.IntVar(&transcodeFlags.restart, "restart", 0, "restart interval in MCUs (0 disables)")
	f.BoolVar(&transcodeFlags.keepICC, "keep-icc", true, "copy the ICC profile")
	rootCmd.AddCommand(transcodeCmd)
}

func runTranscode(_ *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer in.Close()

	var c *jpegli.Coefficients
	if transcodeFlags.fromDump {
		c, err = ReadCoefficientDump(bufio.NewReader(in))
	} else {
		c, err = jpegli.DecodeCoefficients(bufio.NewReader(in), &jpegli.Options{Logger: logger})
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	opts := &jpegli.WriteOptions{
		Progressive:     transcodeFlags.progressive,
		RestartInterval: transcodeFlags.restart,
	}
	if transcodeFlags.keepICC {
		opts.ICCProfile = c.ICCProfile
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("create %s: %w", args[1], err)
	}
	defer out.Close()

	if err := jpegli.WriteCoefficients(out, c.Width, c.Height, c.Components, c.QuantTables, opts); err != nil {
		return fmt.Errorf("write %s: %w", args[1], err)
	}

	logVerbose("transcoded %s to %s (progressive %t)", args[0], args[1], opts.Progressive)

	return out.Close()
}
