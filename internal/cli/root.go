package cli

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	verbose bool
	logger  = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "jpegli",
	Short: "JPEG coefficient encoder and decoder",
	Long: `jpegli quantizes images into JPEG coefficients with an adaptive,
perceptually tuned quantizer and decodes JPEG streams with adaptive
dequantization and smooth upsampling.

Coefficients can be inspected, checksummed, dumped and rewritten
losslessly as baseline or progressive streams.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger = newLogger(verbose)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"jpegli %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

// newLogger returns a text logger on stderr. Verbose output includes the
// decoder's marker records.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// logVerbose prints a message only when --verbose is set.
func logVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[jpegli] "+format+"\n", args...)
	}
}
