package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/gen2brain/jpegli"
	"github.com/spf13/cobra"
)

var coeffsDump string

var coeffsCmd = &cobra.Command{
	Use:   "coeffs <input.jpg>",
	Short: "Print per-component coefficient checksums",
	Args:  cobra.ExactArgs(1),
	RunE:  runCoeffs,
}

func init() {
	coeffsCmd.Flags().StringVar(&coeffsDump, "dump", "", "write a zstd-compressed coefficient dump to this file")
	rootCmd.AddCommand(coeffsCmd)
}

func runCoeffs(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	c, err := jpegli.DecodeCoefficients(bufio.NewReader(f), &jpegli.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	printCoefficients(c)

	if coeffsDump == "" {
		return nil
	}

	out, err := os.Create(coeffsDump)
	if err != nil {
		return fmt.Errorf("create %s: %w", coeffsDump, err)
	}
	defer out.Close()

	if err := WriteCoefficientDump(out, c); err != nil {
		return fmt.Errorf("dump %s: %w", coeffsDump, err)
	}

	logVerbose("wrote %s", coeffsDump)

	return out.Close()
}

func printCoefficients(c *jpegli.Coefficients) {
	fmt.Printf("  Size:        %dx%d\n", c.Width, c.Height)
	fmt.Printf("  Progressive: %t\n", c.Progressive)
	fmt.Println("  Components:")
	for _, comp := range c.Components {
		nonzero := 0
		for _, v := range comp.Coeffs {
			if v != 0 {
				nonzero++
			}
		}

		fmt.Printf("    id %3d  %dx%d  q%d  %4dx%-4d blocks  %8d nonzero  xxh64 %016x\n",
			comp.ID, comp.HSampFactor, comp.VSampFactor, comp.QuantIdx,
			comp.WidthInBlocks, comp.HeightInBlocks, nonzero, comp.Checksum())
	}
}
